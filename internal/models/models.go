package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GPSSample is one observed position. Heading and Speed are nil when the
// provider did not report them.
type GPSSample struct {
	Coord     Coord     `json:"coord"`
	Accuracy  float64   `json:"accuracy"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"` // m/s
	Timestamp time.Time `json:"timestamp"`
}

type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCard          PaymentMethod = "card"
	PaymentDigitalWallet PaymentMethod = "digital_wallet"
)

var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentDigitalWallet}

type Passenger struct {
	Name   string  `json:"name"`
	Phone  string  `json:"phone"`
	Rating float64 `json:"rating"` // 1..5
	Trips  int     `json:"trips"`
}

type Place struct {
	Coord   Coord  `json:"coord"`
	Address string `json:"address"`
}

type RideRequest struct {
	ID                string        `json:"id"`
	Passenger         Passenger     `json:"passenger"`
	Pickup            Place         `json:"pickup"`
	Destination       Place         `json:"destination"`
	EstimatedFare     float64       `json:"estimated_fare"`
	EstimatedDistance float64       `json:"estimated_distance"`
	EstimatedMinutes  int           `json:"estimated_minutes"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	SpecialRequest    string        `json:"special_request,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

type TripStatus string

const (
	TripGoingToPickup    TripStatus = "going_to_pickup"
	TripArrivedAtPickup  TripStatus = "arrived_at_pickup"
	TripPassengerOnBoard TripStatus = "passenger_on_board"
	TripCompleted        TripStatus = "completed"
)

// tripOrder is the only legal progression of an active trip.
var tripOrder = []TripStatus{TripGoingToPickup, TripArrivedAtPickup, TripPassengerOnBoard, TripCompleted}

// Next returns the status that directly follows s, or false if s is terminal
// or unknown.
func (s TripStatus) Next() (TripStatus, bool) {
	for i, st := range tripOrder {
		if st == s && i+1 < len(tripOrder) {
			return tripOrder[i+1], true
		}
	}
	return "", false
}

func (s TripStatus) Valid() bool {
	for _, st := range tripOrder {
		if st == s {
			return true
		}
	}
	return false
}

type ActiveTrip struct {
	ID        string      `json:"id"`
	Request   RideRequest `json:"request"`
	Status    TripStatus  `json:"status"`
	StartedAt time.Time   `json:"started_at"`
}

type TripHistory struct {
	ID          string    `json:"id"`
	Passenger   Passenger `json:"passenger"`
	Pickup      string    `json:"pickup"`
	Destination string    `json:"destination"`
	Fare        float64   `json:"fare"`
	Distance    float64   `json:"distance"`
	Minutes     int       `json:"minutes"`
	CompletedAt time.Time `json:"completed_at"`
	Rating      *int      `json:"rating,omitempty"`
	Feedback    string    `json:"feedback,omitempty"`
	Tip         *float64  `json:"tip,omitempty"`
}

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
	Plate string `json:"plate"`
	Color string `json:"color"`
}

type Earnings struct {
	Today     float64 `json:"today"`
	ThisWeek  float64 `json:"this_week"`
	ThisMonth float64 `json:"this_month"`
}

// Add credits amount to every rollup period.
func (e *Earnings) Add(amount float64) {
	if amount <= 0 {
		return
	}
	e.Today += amount
	e.ThisWeek += amount
	e.ThisMonth += amount
}

type TripCounters struct {
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

type Driver struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Phone    string       `json:"phone"`
	Vehicle  Vehicle      `json:"vehicle"`
	Rating   float64      `json:"rating"`
	Online   bool         `json:"online"`
	Location Coord        `json:"location"`
	Earnings Earnings     `json:"earnings"`
	Trips    TripCounters `json:"trips"`
}

type Maneuver string

const (
	ManeuverTurnLeft    Maneuver = "turn-left"
	ManeuverTurnRight   Maneuver = "turn-right"
	ManeuverStraight    Maneuver = "straight"
	ManeuverUTurn       Maneuver = "u-turn"
	ManeuverMerge       Maneuver = "merge"
	ManeuverExit        Maneuver = "exit"
	ManeuverDestination Maneuver = "destination"
)

type NavigationInstruction struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Distance float64  `json:"distance"` // meters
	Duration float64  `json:"duration"` // seconds
	Maneuver Maneuver `json:"maneuver"`
	Street   string   `json:"street,omitempty"`
}

type TrafficLevel string

const (
	TrafficLow      TrafficLevel = "low"
	TrafficModerate TrafficLevel = "moderate"
	TrafficHeavy    TrafficLevel = "heavy"
	TrafficSevere   TrafficLevel = "severe"
)

type Route struct {
	Distance     float64                 `json:"distance"` // meters
	Duration     float64                 `json:"duration"` // seconds
	Instructions []NavigationInstruction `json:"instructions"`
	ETA          time.Time               `json:"eta"`
	Traffic      TrafficLevel            `json:"traffic"`
}

type NavigationState struct {
	Active            bool                   `json:"active"`
	Current           *NavigationInstruction `json:"current,omitempty"`
	Next              *NavigationInstruction `json:"next,omitempty"`
	RemainingDistance float64                `json:"remaining_distance"`
	RemainingSeconds  float64                `json:"remaining_seconds"`
	Progress          float64                `json:"progress"`
}

type PermissionState string

const (
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

type MapProvider string

const (
	MapGoogle MapProvider = "google"
	MapApple  MapProvider = "apple"
	MapWaze   MapProvider = "waze"
)

func (p MapProvider) Valid() bool {
	switch p {
	case MapGoogle, MapApple, MapWaze:
		return true
	}
	return false
}

// Settings holds the driver's app preferences persisted alongside the profile.
type Settings struct {
	MapProvider   MapProvider `json:"map_provider"`
	VoiceEnabled  bool        `json:"voice_enabled"`
	Notifications bool        `json:"notifications"`
}
