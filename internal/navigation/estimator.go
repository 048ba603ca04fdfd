package navigation

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-companion/internal/clock"
	"github.com/example/driver-companion/internal/geo"
	"github.com/example/driver-companion/internal/models"
)

type Config struct {
	SpeedKmh float64
	// ArrivalThreshold is the remaining distance in meters below which
	// navigation ends.
	ArrivalThreshold float64
	// VoiceThreshold is the leg distance in meters below which an
	// instruction is announced.
	VoiceThreshold float64
}

func DefaultConfig() Config {
	return Config{SpeedKmh: 30, ArrivalThreshold: 50, VoiceThreshold: 500}
}

func (c Config) speedMps() float64 { return c.SpeedKmh * 1000 / 3600 }

type leg struct {
	share    float64
	maneuver models.Maneuver
	text     string
	street   string
}

// legs is the fixed shape of every simulated route.
var legs = []leg{
	{0.3, models.ManeuverStraight, "Head straight on Main Street", "Main Street"},
	{0.4, models.ManeuverTurnRight, "Turn right onto Broadway", "Broadway"},
	{0.2, models.ManeuverStraight, "Continue straight on 5th Avenue", "5th Avenue"},
	{0.1, models.ManeuverDestination, "Arrive at your destination", ""},
}

// Estimator tracks one navigation session at a time.
type Estimator struct {
	cfg   Config
	clock clock.Clock

	mu          sync.Mutex
	rng         *rand.Rand
	route       *models.Route
	destination *models.Coord
	state       models.NavigationState
}

func NewEstimator(cfg Config, c clock.Clock, rng *rand.Rand) *Estimator {
	if c == nil {
		c = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Estimator{cfg: cfg, clock: c, rng: rng}
}

// PlanRoute builds a simulated route from one coordinate to another. Traffic
// is drawn once here and never changes for the route.
func (e *Estimator) PlanRoute(from, to models.Coord) models.Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.planLocked(from, to)
}

func (e *Estimator) planLocked(from, to models.Coord) models.Route {
	distance := geo.DistanceMeters(from, to)
	duration := distance / e.cfg.speedMps()

	instructions := make([]models.NavigationInstruction, 0, len(legs))
	for _, l := range legs {
		instructions = append(instructions, models.NavigationInstruction{
			ID:       uuid.NewString(),
			Text:     l.text,
			Distance: distance * l.share,
			Duration: duration * l.share,
			Maneuver: l.maneuver,
			Street:   l.street,
		})
	}

	traffic := models.TrafficLow
	if e.rng.Float64() < 0.3 {
		traffic = models.TrafficHeavy
	} else if e.rng.Float64() < 0.3 {
		traffic = models.TrafficModerate
	}

	return models.Route{
		Distance:     distance,
		Duration:     duration,
		Instructions: instructions,
		ETA:          e.clock.Now().Add(time.Duration(duration * float64(time.Second))),
		Traffic:      traffic,
	}
}

// Start plans a route and makes it the active navigation.
func (e *Estimator) Start(from, to models.Coord) (models.Route, models.NavigationState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.planLocked(from, to)
	dest := to
	e.route = &r
	e.destination = &dest
	st := e.recomputeLocked(from)
	return r, st
}

// Recompute updates the navigation state for a new position. Arriving
// within the threshold stops navigation; the returned state is the final one.
func (e *Estimator) Recompute(position models.Coord) models.NavigationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recomputeLocked(position)
}

func (e *Estimator) recomputeLocked(position models.Coord) models.NavigationState {
	if e.route == nil || e.destination == nil {
		return models.NavigationState{}
	}
	st := Compute(*e.route, position, *e.destination, e.cfg)
	if !st.Active {
		e.stopLocked()
		return st
	}
	e.state = st
	return st
}

// Compute derives the navigation state for position on route.
func Compute(route models.Route, position, destination models.Coord, cfg Config) models.NavigationState {
	remaining := geo.DistanceMeters(position, destination)

	progress := 1.0
	if route.Distance > 0 {
		progress = math.Min(1, math.Max(0, 1-remaining/route.Distance))
	}

	st := models.NavigationState{
		Active:            remaining >= cfg.ArrivalThreshold,
		RemainingDistance: remaining,
		RemainingSeconds:  remaining / cfg.speedMps(),
		Progress:          progress,
	}

	if n := len(route.Instructions); n > 0 {
		idx := n - 1
		cumulative := 0.0
		for i, in := range route.Instructions {
			if route.Distance > 0 {
				cumulative += in.Distance / route.Distance
			} else {
				cumulative += legs[i%len(legs)].share
			}
			if cumulative >= progress {
				idx = i
				break
			}
		}
		cur := route.Instructions[idx]
		st.Current = &cur
		if idx+1 < n {
			next := route.Instructions[idx+1]
			st.Next = &next
		}
	}
	return st
}

// Stop clears the route and state. Calling it again is a no-op.
func (e *Estimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Estimator) stopLocked() {
	e.route = nil
	e.destination = nil
	e.state = models.NavigationState{}
}

func (e *Estimator) State() models.NavigationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Route returns the active route and destination, if navigating.
func (e *Estimator) Route() (*models.Route, *models.Coord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return nil, nil
	}
	r, d := *e.route, *e.destination
	return &r, &d
}
