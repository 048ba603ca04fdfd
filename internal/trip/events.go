package trip

import (
	"context"
	"time"

	"github.com/example/driver-companion/internal/models"
)

type EventType string

const (
	EventOnlineChanged     EventType = "online_changed"
	EventRequestReceived   EventType = "request_received"
	EventRequestDeclined   EventType = "request_declined"
	EventRequestExpired    EventType = "request_expired"
	EventRequestCancelled  EventType = "request_cancelled"
	EventTripStarted       EventType = "trip_started"
	EventTripStatusChanged EventType = "trip_status_changed"
	EventTripCancelled     EventType = "trip_cancelled"
	EventTripCompleted     EventType = "trip_completed"
	EventRatingRequested   EventType = "rating_requested"
	EventFeedbackAttached  EventType = "feedback_attached"
)

// Event is emitted after the state change it describes has been committed.
type Event struct {
	Type     EventType           `json:"type"`
	At       time.Time           `json:"at"`
	DriverID string              `json:"driver_id"`
	Online   *bool               `json:"online,omitempty"`
	Request  *models.RideRequest `json:"request,omitempty"`
	Trip     *models.ActiveTrip  `json:"trip,omitempty"`
	History  *models.TripHistory `json:"history,omitempty"`
	Earnings *models.Earnings    `json:"earnings,omitempty"`
	// Credited is the amount this event added to the driver's earnings.
	Credited float64 `json:"credited,omitempty"`
}

// EventSink receives session events in commit order. Implementations must
// not call back into the session synchronously with a blocking operation.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Sinks fans an event out to every sink in order.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ctx, ev)
		}
	}
}
