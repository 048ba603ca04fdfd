package trip

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-companion/internal/clock"
	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/requests"
)

// Repository persists the long-lived parts of the session.
type Repository interface {
	LoadDriver(ctx context.Context) (models.Driver, error)
	SaveDriver(ctx context.Context, d models.Driver) error
	LoadHistory(ctx context.Context) ([]models.TripHistory, error)
	SaveHistory(ctx context.Context, h []models.TripHistory) error
}

type Config struct {
	RequestInterval time.Duration
	Countdown       time.Duration
}

func DefaultConfig() Config {
	return Config{RequestInterval: 10 * time.Second, Countdown: 30 * time.Second}
}

// Session owns the driver, the pending request, the active trip and the
// trip history. Every exported method applies its mutation under one lock
// and publishes events only after the mutation is committed.
type Session struct {
	cfg    Config
	clock  clock.Clock
	gen    *requests.Generator
	repo   Repository
	sink   EventSink
	logger *slog.Logger

	mu       sync.Mutex
	driver   models.Driver
	pending  *models.RideRequest
	deadline time.Time
	active   *models.ActiveTrip
	history  []models.TripHistory

	tick         clock.Timer
	tickSeq      uint64
	countdown    clock.Timer
	countdownSeq uint64
	closed       bool
}

type Deps struct {
	Clock     clock.Clock
	Generator *requests.Generator
	Repo      Repository
	Sink      EventSink
	Logger    *slog.Logger
}

// NewSession restores the driver and history from the repository. The
// restored driver always starts offline since no timer survives a restart.
func NewSession(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Generator == nil {
		deps.Generator = requests.NewGenerator(requests.DefaultConfig(), nil)
	}
	if deps.Sink == nil {
		deps.Sink = Sinks(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		clock:  deps.Clock,
		gen:    deps.Generator,
		repo:   deps.Repo,
		sink:   deps.Sink,
		logger: deps.Logger,
	}
	if s.repo != nil {
		d, err := s.repo.LoadDriver(ctx)
		if err != nil {
			return nil, fmt.Errorf("load driver: %w", err)
		}
		h, err := s.repo.LoadHistory(ctx)
		if err != nil {
			return nil, fmt.Errorf("load trip history: %w", err)
		}
		s.driver = d
		s.history = h
	}
	if s.driver.ID == "" {
		s.driver.ID = uuid.NewString()
	}
	s.driver.Online = false
	return s, nil
}

// Snapshot is a read-only copy of the session for the presentation layer.
type Snapshot struct {
	Driver           models.Driver        `json:"driver"`
	Pending          *models.RideRequest  `json:"pending,omitempty"`
	CountdownSeconds int                  `json:"countdown_seconds"`
	Active           *models.ActiveTrip   `json:"active,omitempty"`
	History          []models.TripHistory `json:"history"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Driver:           s.driver,
		CountdownSeconds: s.countdownLocked(),
		History:          append([]models.TripHistory(nil), s.history...),
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	if s.active != nil {
		a := *s.active
		snap.Active = &a
	}
	return snap
}

// Driver returns a copy of the driver without the rest of the snapshot.
func (s *Session) Driver() models.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// Countdown returns the whole seconds left on the pending request, or 0.
func (s *Session) Countdown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdownLocked()
}

func (s *Session) countdownLocked() int {
	if s.pending == nil {
		return 0
	}
	left := s.deadline.Sub(s.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (s *Session) SetOnline(ctx context.Context, online bool) models.Driver {
	s.mu.Lock()
	if s.driver.Online == online {
		d := s.driver
		s.mu.Unlock()
		return d
	}
	var evs []Event
	s.driver.Online = online
	if !online {
		evs = s.dropWorkLocked()
	}
	s.syncTickLocked()
	s.saveDriverLocked(ctx)
	evs = append(evs, s.event(EventOnlineChanged, func(e *Event) { e.Online = &online }))
	d := s.driver
	s.mu.Unlock()

	s.logger.Info("driver online status changed", "driver_id", d.ID, "online", online)
	s.publish(ctx, evs)
	return d
}

// dropWorkLocked clears the pending request and the active trip without
// completing either.
func (s *Session) dropWorkLocked() []Event {
	var evs []Event
	if s.pending != nil {
		req := *s.pending
		s.clearPendingLocked()
		evs = append(evs, s.event(EventRequestCancelled, func(e *Event) { e.Request = &req }))
	}
	if s.active != nil {
		tr := *s.active
		s.active = nil
		s.driver.Trips.Cancelled++
		evs = append(evs, s.event(EventTripCancelled, func(e *Event) { e.Trip = &tr }))
	}
	return evs
}

// Tick runs one generation attempt. It is what the request timer calls and
// is exported so callers can drive generation deterministically.
func (s *Session) Tick(ctx context.Context) (models.RideRequest, bool) {
	s.mu.Lock()
	req, evs, ok := s.tickLocked()
	s.syncTickLocked()
	s.mu.Unlock()
	s.publish(ctx, evs)
	return req, ok
}

func (s *Session) tickLocked() (models.RideRequest, []Event, bool) {
	if !s.eligibleLocked() {
		return models.RideRequest{}, nil, false
	}
	req, ok := s.gen.Maybe(s.clock.Now())
	if !ok {
		return models.RideRequest{}, nil, false
	}
	s.pending = &req
	s.deadline = s.clock.Now().Add(s.cfg.Countdown)
	s.countdownSeq++
	seq, id := s.countdownSeq, req.ID
	s.countdown = s.clock.AfterFunc(s.cfg.Countdown, func() { s.expire(seq, id) })

	s.logger.Info("ride request received", "request_id", req.ID, "fare", req.EstimatedFare, "passenger", req.Passenger.Name)
	return req, []Event{s.event(EventRequestReceived, func(e *Event) { e.Request = &req })}, true
}

func (s *Session) eligibleLocked() bool {
	return !s.closed && s.driver.Online && s.pending == nil && s.active == nil
}

// syncTickLocked keeps the generation timer alive exactly while a new
// request may be generated.
func (s *Session) syncTickLocked() {
	eligible := s.eligibleLocked()
	switch {
	case eligible && s.tick == nil:
		s.tickSeq++
		seq := s.tickSeq
		s.tick = s.clock.AfterFunc(s.cfg.RequestInterval, func() { s.onTick(seq) })
	case !eligible && s.tick != nil:
		s.tick.Stop()
		s.tick = nil
	}
}

func (s *Session) onTick(seq uint64) {
	s.mu.Lock()
	if seq != s.tickSeq || s.tick == nil {
		s.mu.Unlock()
		return
	}
	s.tick = nil
	_, evs, _ := s.tickLocked()
	s.syncTickLocked()
	s.mu.Unlock()
	s.publish(context.Background(), evs)
}

func (s *Session) expire(seq uint64, requestID string) {
	s.mu.Lock()
	if seq != s.countdownSeq || s.pending == nil || s.pending.ID != requestID {
		s.mu.Unlock()
		return
	}
	req := *s.pending
	s.clearPendingLocked()
	s.syncTickLocked()
	ev := s.event(EventRequestExpired, func(e *Event) { e.Request = &req })
	s.mu.Unlock()

	s.logger.Info("ride request expired", "request_id", requestID)
	s.publish(context.Background(), []Event{ev})
}

func (s *Session) clearPendingLocked() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	s.countdownSeq++
	s.pending = nil
	s.deadline = time.Time{}
}

func (s *Session) AcceptRequest(ctx context.Context, requestID string) (models.ActiveTrip, error) {
	s.mu.Lock()
	if s.pending == nil || s.pending.ID != requestID || s.active != nil {
		s.mu.Unlock()
		return models.ActiveTrip{}, fmt.Errorf("accept request %s: %w", requestID, ErrInvalidStateTransition)
	}
	tr := models.ActiveTrip{
		ID:        uuid.NewString(),
		Request:   *s.pending,
		Status:    models.TripGoingToPickup,
		StartedAt: s.clock.Now(),
	}
	s.clearPendingLocked()
	s.active = &tr
	s.syncTickLocked()
	out := tr
	ev := s.event(EventTripStarted, func(e *Event) { e.Trip = &out })
	s.mu.Unlock()

	s.logger.Info("ride request accepted", "request_id", requestID, "trip_id", tr.ID)
	s.publish(ctx, []Event{ev})
	return tr, nil
}

func (s *Session) DeclineRequest(ctx context.Context, requestID string) error {
	s.mu.Lock()
	if s.pending == nil || s.pending.ID != requestID {
		s.mu.Unlock()
		return fmt.Errorf("decline request %s: %w", requestID, ErrInvalidStateTransition)
	}
	req := *s.pending
	s.clearPendingLocked()
	s.syncTickLocked()
	ev := s.event(EventRequestDeclined, func(e *Event) { e.Request = &req })
	s.mu.Unlock()

	s.logger.Info("ride request declined", "request_id", requestID)
	s.publish(ctx, []Event{ev})
	return nil
}

// Advance moves the active trip exactly one step forward. Reaching
// completed runs the full completion; use CompleteTrip for the record.
func (s *Session) Advance(ctx context.Context, tripID string, target models.TripStatus) (models.ActiveTrip, error) {
	s.mu.Lock()
	if s.active == nil || s.active.ID != tripID {
		s.mu.Unlock()
		return models.ActiveTrip{}, fmt.Errorf("advance trip %s: %w", tripID, ErrUnknownEntity)
	}
	next, ok := s.active.Status.Next()
	if !ok || next != target {
		cur := s.active.Status
		s.mu.Unlock()
		return models.ActiveTrip{}, fmt.Errorf("advance trip %s from %s to %s: %w", tripID, cur, target, ErrInvalidStateTransition)
	}
	if target == models.TripCompleted {
		tr := *s.active
		_, evs := s.completeLocked(ctx)
		s.mu.Unlock()
		s.publish(ctx, evs)
		tr.Status = models.TripCompleted
		return tr, nil
	}
	s.active.Status = target
	tr := *s.active
	ev := s.event(EventTripStatusChanged, func(e *Event) { e.Trip = &tr })
	s.mu.Unlock()

	s.logger.Info("trip status changed", "trip_id", tripID, "status", target)
	s.publish(ctx, []Event{ev})
	return tr, nil
}

// CompleteTrip finishes a trip whose passenger is on board. A second call
// for the same trip reports ErrUnknownEntity and changes nothing.
func (s *Session) CompleteTrip(ctx context.Context, tripID string) (models.TripHistory, error) {
	s.mu.Lock()
	if s.active == nil || s.active.ID != tripID {
		s.mu.Unlock()
		return models.TripHistory{}, fmt.Errorf("complete trip %s: %w", tripID, ErrUnknownEntity)
	}
	if next, _ := s.active.Status.Next(); next != models.TripCompleted {
		cur := s.active.Status
		s.mu.Unlock()
		return models.TripHistory{}, fmt.Errorf("complete trip %s from %s: %w", tripID, cur, ErrInvalidStateTransition)
	}
	rec, evs := s.completeLocked(ctx)
	s.mu.Unlock()
	s.publish(ctx, evs)
	return rec, nil
}

// completeLocked folds the active trip into history and earnings. The
// rating request is the last event so observers see committed state.
func (s *Session) completeLocked(ctx context.Context) (models.TripHistory, []Event) {
	tr := *s.active
	tr.Status = models.TripCompleted
	req := tr.Request
	rec := models.TripHistory{
		ID:          tr.ID,
		Passenger:   req.Passenger,
		Pickup:      req.Pickup.Address,
		Destination: req.Destination.Address,
		Fare:        req.EstimatedFare,
		Distance:    req.EstimatedDistance,
		Minutes:     req.EstimatedMinutes,
		CompletedAt: s.clock.Now(),
	}
	s.history = append([]models.TripHistory{rec}, s.history...)
	s.driver.Trips.Completed++
	s.driver.Earnings.Add(rec.Fare)
	s.active = nil
	s.syncTickLocked()
	s.saveDriverLocked(ctx)
	s.saveHistoryLocked(ctx)

	earnings := s.driver.Earnings
	out := rec
	evs := []Event{
		s.event(EventTripStatusChanged, func(e *Event) { e.Trip = &tr }),
		s.event(EventTripCompleted, func(e *Event) {
			e.Trip = &tr
			e.History = &out
			e.Earnings = &earnings
			e.Credited = out.Fare
		}),
		s.event(EventRatingRequested, func(e *Event) { e.History = &out }),
	}
	s.logger.Info("trip completed", "trip_id", tr.ID, "fare", rec.Fare, "earnings_today", earnings.Today)
	return rec, evs
}

// AttachPassengerFeedback records the driver's rating of the passenger and
// an optional tip. Only the first tip on a trip is credited.
func (s *Session) AttachPassengerFeedback(ctx context.Context, tripID string, rating int, feedback string, tip *float64) (models.TripHistory, error) {
	if rating < 1 || rating > 5 {
		return models.TripHistory{}, fmt.Errorf("rating %d out of range: %w", rating, ErrInvalidFeedback)
	}
	if tip != nil && (*tip < 0 || math.IsNaN(*tip) || math.IsInf(*tip, 0)) {
		return models.TripHistory{}, fmt.Errorf("tip %v: %w", *tip, ErrInvalidFeedback)
	}

	s.mu.Lock()
	idx := -1
	for i := range s.history {
		if s.history[i].ID == tripID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return models.TripHistory{}, fmt.Errorf("feedback for trip %s: %w", tripID, ErrUnknownEntity)
	}

	rec := &s.history[idx]
	r := rating
	rec.Rating = &r
	rec.Feedback = feedback
	credited := 0.0
	if tip != nil && *tip > 0 && rec.Tip == nil {
		credited = *tip
		rec.Tip = &credited
		s.driver.Earnings.Add(credited)
		s.saveDriverLocked(ctx)
	}
	s.saveHistoryLocked(ctx)
	out := *rec
	earnings := s.driver.Earnings
	ev := s.event(EventFeedbackAttached, func(e *Event) {
		e.History = &out
		e.Earnings = &earnings
		e.Credited = credited
	})
	s.mu.Unlock()

	s.publish(ctx, []Event{ev})
	return out, nil
}

// UpdateLocation stores the driver's last known position.
func (s *Session) UpdateLocation(c models.Coord) {
	s.mu.Lock()
	s.driver.Location = c
	s.mu.Unlock()
}

// UpdateProfile replaces the editable profile fields.
func (s *Session) UpdateProfile(ctx context.Context, name, email, phone string, v models.Vehicle) models.Driver {
	s.mu.Lock()
	s.driver.Name = name
	s.driver.Email = email
	s.driver.Phone = phone
	s.driver.Vehicle = v
	s.saveDriverLocked(ctx)
	d := s.driver
	s.mu.Unlock()
	return d
}

// Close cancels every timer the session owns. Later ticks and expiries are
// no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	s.countdownSeq++
	s.syncTickLocked()
}

func (s *Session) saveDriverLocked(ctx context.Context) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveDriver(ctx, s.driver); err != nil {
		s.logger.Warn("persist driver failed", "driver_id", s.driver.ID, "error", err)
	}
}

func (s *Session) saveHistoryLocked(ctx context.Context) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveHistory(ctx, s.history); err != nil {
		s.logger.Warn("persist trip history failed", "entries", len(s.history), "error", err)
	}
}

func (s *Session) event(t EventType, fill func(*Event)) Event {
	ev := Event{Type: t, At: s.clock.Now(), DriverID: s.driver.ID}
	if fill != nil {
		fill(&ev)
	}
	return ev
}

func (s *Session) publish(ctx context.Context, evs []Event) {
	for _, ev := range evs {
		s.sink.Publish(ctx, ev)
	}
}
