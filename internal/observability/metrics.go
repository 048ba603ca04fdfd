package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/driver-companion/internal/trip"
)

const namespace = "driver_companion"

var (
	RequestsGenerated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_generated_total", Help: "Ride requests offered to the driver"})
	RequestsResolved  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_resolved_total", Help: "Ride requests by how they left the pending slot"},
		[]string{"outcome"},
	)
	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_completed_total", Help: "Trips completed"})
	TripsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_cancelled_total", Help: "Trips dropped before completion"})
	EarningsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "earnings_total", Help: "Money credited to the driver"},
		[]string{"kind"},
	)
	DriverOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "driver_online", Help: "1 while the driver is accepting requests"})

	NavigationArrivals = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "navigation_arrivals_total", Help: "Navigations that reached the destination"})
	PositionSamples    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "position_samples_total", Help: "GPS samples recorded"})
	LocationErrors     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_errors_total", Help: "Location provider failures"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// SessionRecorder turns session events into metric updates.
type SessionRecorder struct{}

func (SessionRecorder) Publish(_ context.Context, ev trip.Event) {
	switch ev.Type {
	case trip.EventOnlineChanged:
		if ev.Online != nil && *ev.Online {
			DriverOnline.Set(1)
		} else {
			DriverOnline.Set(0)
		}
	case trip.EventRequestReceived:
		RequestsGenerated.Inc()
	case trip.EventTripStarted:
		RequestsResolved.WithLabelValues("accepted").Inc()
	case trip.EventRequestDeclined:
		RequestsResolved.WithLabelValues("declined").Inc()
	case trip.EventRequestExpired:
		RequestsResolved.WithLabelValues("expired").Inc()
	case trip.EventRequestCancelled:
		RequestsResolved.WithLabelValues("cancelled").Inc()
	case trip.EventTripCancelled:
		TripsCancelled.Inc()
	case trip.EventTripCompleted:
		TripsCompleted.Inc()
		if ev.Credited > 0 {
			EarningsTotal.WithLabelValues("fare").Add(ev.Credited)
		}
	case trip.EventFeedbackAttached:
		if ev.Credited > 0 {
			EarningsTotal.WithLabelValues("tip").Add(ev.Credited)
		}
	}
}
