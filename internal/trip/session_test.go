package trip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-companion/internal/clock"
	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/requests"
)

type memRepo struct {
	mu      sync.Mutex
	driver  models.Driver
	history []models.TripHistory
	saves   int
	failErr error
}

func (m *memRepo) LoadDriver(ctx context.Context) (models.Driver, error) { return m.driver, nil }
func (m *memRepo) LoadHistory(ctx context.Context) ([]models.TripHistory, error) {
	return m.history, nil
}

func (m *memRepo) SaveDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failErr != nil {
		return m.failErr
	}
	m.driver = d
	return nil
}

func (m *memRepo) SaveHistory(ctx context.Context, h []models.TripHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.history = append([]models.TripHistory(nil), h...)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	session *Session
	clock   *clock.Fake
	repo    *memRepo
	events  *recorder
}

func newFixture(t *testing.T, probability float64) *fixture {
	t.Helper()
	fc := clock.NewFake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	genCfg := requests.DefaultConfig()
	genCfg.Probability = probability
	repo := &memRepo{driver: models.Driver{ID: "driver-1", Name: "Alex Driver"}}
	rec := &recorder{}
	s, err := NewSession(context.Background(), DefaultConfig(), Deps{
		Clock:     fc,
		Generator: requests.NewGenerator(genCfg, rand.New(rand.NewSource(99))),
		Repo:      repo,
		Sink:      rec,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return &fixture{session: s, clock: fc, repo: repo, events: rec}
}

// pending brings the session online and advances one tick so a request is waiting.
func (f *fixture) pending(t *testing.T) models.RideRequest {
	t.Helper()
	f.session.SetOnline(context.Background(), true)
	f.clock.Advance(10 * time.Second)
	snap := f.session.Snapshot()
	require.NotNil(t, snap.Pending)
	return *snap.Pending
}

func TestNewSessionStartsOffline(t *testing.T) {
	repo := &memRepo{driver: models.Driver{ID: "d", Online: true}}
	s, err := NewSession(context.Background(), DefaultConfig(), Deps{Repo: repo, Clock: clock.NewFake(time.Now())})
	require.NoError(t, err)
	assert.False(t, s.Snapshot().Driver.Online)
}

func TestNoGenerationWhileOffline(t *testing.T) {
	f := newFixture(t, 1)
	f.clock.Advance(time.Minute)
	_, ok := f.session.Tick(context.Background())
	assert.False(t, ok)
	assert.Nil(t, f.session.Snapshot().Pending)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestGenerationOnTickWhenOnline(t *testing.T) {
	f := newFixture(t, 1)
	f.session.SetOnline(context.Background(), true)

	f.clock.Advance(9 * time.Second)
	assert.Nil(t, f.session.Snapshot().Pending)

	f.clock.Advance(time.Second)
	snap := f.session.Snapshot()
	require.NotNil(t, snap.Pending)
	assert.GreaterOrEqual(t, snap.Pending.EstimatedFare, 6.80)
	assert.Less(t, snap.Pending.EstimatedFare, 26.80)
	assert.GreaterOrEqual(t, snap.Pending.EstimatedDistance, 2.1)
	assert.Less(t, snap.Pending.EstimatedDistance, 10.1)
	assert.Equal(t, 30, snap.CountdownSeconds)
	assert.Contains(t, f.events.types(), EventRequestReceived)

	// only the countdown is live; generation has stopped
	assert.Equal(t, 1, f.clock.Pending())
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 25, f.session.Countdown())
	assert.Equal(t, snap.Pending.ID, f.session.Snapshot().Pending.ID)
}

func TestZeroProbabilityKeepsTicking(t *testing.T) {
	f := newFixture(t, 0)
	f.session.SetOnline(context.Background(), true)
	f.clock.Advance(time.Minute)
	assert.Nil(t, f.session.Snapshot().Pending)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestAcceptRequest(t *testing.T) {
	f := newFixture(t, 1)
	req := f.pending(t)
	ctx := context.Background()

	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripGoingToPickup, tr.Status)
	assert.Equal(t, req, tr.Request)

	snap := f.session.Snapshot()
	assert.Nil(t, snap.Pending)
	require.NotNil(t, snap.Active)
	assert.Equal(t, tr.ID, snap.Active.ID)
	assert.Equal(t, 0, snap.CountdownSeconds)

	// countdown was cancelled and generation is paused during the trip
	assert.Equal(t, 0, f.clock.Pending())
	f.clock.Advance(time.Minute)
	snap = f.session.Snapshot()
	assert.Nil(t, snap.Pending)
	assert.Equal(t, tr.ID, snap.Active.ID)
	assert.NotContains(t, f.events.types(), EventRequestExpired)

	_, err = f.session.AcceptRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, tr.ID, f.session.Snapshot().Active.ID)
}

func TestAcceptUnknownRequest(t *testing.T) {
	f := newFixture(t, 1)
	f.pending(t)
	_, err := f.session.AcceptRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.NotNil(t, f.session.Snapshot().Pending)
	assert.Nil(t, f.session.Snapshot().Active)
}

func TestDeclineRequest(t *testing.T) {
	f := newFixture(t, 1)
	req := f.pending(t)
	before := f.session.Snapshot()

	require.NoError(t, f.session.DeclineRequest(context.Background(), req.ID))
	after := f.session.Snapshot()
	assert.Nil(t, after.Pending)
	assert.Nil(t, after.Active)
	assert.Equal(t, before.Driver.Earnings, after.Driver.Earnings)
	assert.Len(t, after.History, len(before.History))

	assert.ErrorIs(t, f.session.DeclineRequest(context.Background(), req.ID), ErrInvalidStateTransition)

	// generation resumes on a fresh cadence
	f.clock.Advance(10 * time.Second)
	next := f.session.Snapshot().Pending
	require.NotNil(t, next)
	assert.NotEqual(t, req.ID, next.ID)
}

func TestCountdownExpiryDeclines(t *testing.T) {
	f := newFixture(t, 0)
	f.session.SetOnline(context.Background(), true)
	f.session.gen = requests.NewGenerator(requests.Config{Probability: 1, Base: requests.DefaultConfig().Base, Jitter: 0.05}, rand.New(rand.NewSource(3)))
	f.clock.Advance(10 * time.Second)
	req := f.session.Snapshot().Pending
	require.NotNil(t, req)

	f.clock.Advance(29 * time.Second)
	require.NotNil(t, f.session.Snapshot().Pending)

	f.session.gen = requests.NewGenerator(requests.Config{Probability: 0}, rand.New(rand.NewSource(3)))
	f.clock.Advance(time.Second)
	snap := f.session.Snapshot()
	assert.Nil(t, snap.Pending)
	assert.Nil(t, snap.Active)
	assert.Empty(t, snap.History)
	assert.Equal(t, models.Earnings{}, snap.Driver.Earnings)
	assert.Contains(t, f.events.types(), EventRequestExpired)
}

func TestStaleExpiryDoesNotTouchNewRequest(t *testing.T) {
	f := newFixture(t, 1)
	first := f.pending(t)
	ctx := context.Background()
	require.NoError(t, f.session.DeclineRequest(ctx, first.ID))

	// a new request arrives 10s later; the old 30s deadline would fall 20s after that
	f.clock.Advance(10 * time.Second)
	second := f.session.Snapshot().Pending
	require.NotNil(t, second)

	f.clock.Advance(25 * time.Second)
	cur := f.session.Snapshot().Pending
	require.NotNil(t, cur)
	assert.Equal(t, second.ID, cur.ID)
}

func TestAdvanceOrder(t *testing.T) {
	f := newFixture(t, 1)
	req := f.pending(t)
	ctx := context.Background()
	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)

	_, err = f.session.Advance(ctx, tr.ID, models.TripPassengerOnBoard)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, models.TripGoingToPickup, f.session.Snapshot().Active.Status)

	_, err = f.session.Advance(ctx, tr.ID, models.TripCompleted)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = f.session.Advance(ctx, "other", models.TripArrivedAtPickup)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	got, err := f.session.Advance(ctx, tr.ID, models.TripArrivedAtPickup)
	require.NoError(t, err)
	assert.Equal(t, models.TripArrivedAtPickup, got.Status)

	_, err = f.session.Advance(ctx, tr.ID, models.TripGoingToPickup)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, models.TripArrivedAtPickup, f.session.Snapshot().Active.Status)

	_, err = f.session.CompleteTrip(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.NotNil(t, f.session.Snapshot().Active)
}

func TestFullTripScenario(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	req := f.pending(t)
	before := f.session.Snapshot()

	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	for _, st := range []models.TripStatus{models.TripArrivedAtPickup, models.TripPassengerOnBoard, models.TripCompleted} {
		_, err := f.session.Advance(ctx, tr.ID, st)
		require.NoError(t, err)
	}

	after := f.session.Snapshot()
	assert.Nil(t, after.Active)
	require.Len(t, after.History, len(before.History)+1)
	assert.Equal(t, tr.ID, after.History[0].ID)
	assert.Equal(t, req.EstimatedFare, after.History[0].Fare)
	assert.InDelta(t, before.Driver.Earnings.Today+req.EstimatedFare, after.Driver.Earnings.Today, 1e-9)
	assert.InDelta(t, before.Driver.Earnings.ThisWeek+req.EstimatedFare, after.Driver.Earnings.ThisWeek, 1e-9)
	assert.InDelta(t, before.Driver.Earnings.ThisMonth+req.EstimatedFare, after.Driver.Earnings.ThisMonth, 1e-9)
	assert.Equal(t, before.Driver.Trips.Completed+1, after.Driver.Trips.Completed)

	// persisted
	assert.Len(t, f.repo.history, 1)
	assert.Equal(t, 1, f.repo.driver.Trips.Completed)

	// generation resumes after the trip
	assert.Equal(t, 1, f.clock.Pending())
}

func TestCompleteTripTwice(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	req := f.pending(t)
	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	_, err = f.session.Advance(ctx, tr.ID, models.TripArrivedAtPickup)
	require.NoError(t, err)
	_, err = f.session.Advance(ctx, tr.ID, models.TripPassengerOnBoard)
	require.NoError(t, err)

	rec, err := f.session.CompleteTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, rec.ID)
	earned := f.session.Snapshot().Driver.Earnings

	_, err = f.session.CompleteTrip(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrUnknownEntity)
	snap := f.session.Snapshot()
	assert.Len(t, snap.History, 1)
	assert.Equal(t, earned, snap.Driver.Earnings)
	assert.Equal(t, 1, snap.Driver.Trips.Completed)
}

func TestRatingRequestedSeesCommittedState(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	req := f.pending(t)

	var seen Snapshot
	f.session.sink = Sinks{f.events, SinkFunc(func(ctx context.Context, ev Event) {
		if ev.Type == EventRatingRequested {
			seen = f.session.Snapshot()
		}
	})}

	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	_, _ = f.session.Advance(ctx, tr.ID, models.TripArrivedAtPickup)
	_, _ = f.session.Advance(ctx, tr.ID, models.TripPassengerOnBoard)
	_, err = f.session.CompleteTrip(ctx, tr.ID)
	require.NoError(t, err)

	require.Len(t, seen.History, 1)
	assert.Nil(t, seen.Active)
	assert.InDelta(t, req.EstimatedFare, seen.Driver.Earnings.Today, 1e-9)

	types := f.events.types()
	assert.Equal(t, []EventType{EventTripStatusChanged, EventTripCompleted, EventRatingRequested}, types[len(types)-3:])
}

func completeOne(t *testing.T, f *fixture) (models.RideRequest, models.TripHistory) {
	t.Helper()
	ctx := context.Background()
	req := f.pending(t)
	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	_, err = f.session.Advance(ctx, tr.ID, models.TripArrivedAtPickup)
	require.NoError(t, err)
	_, err = f.session.Advance(ctx, tr.ID, models.TripPassengerOnBoard)
	require.NoError(t, err)
	rec, err := f.session.CompleteTrip(ctx, tr.ID)
	require.NoError(t, err)
	return req, rec
}

func TestAttachPassengerFeedback(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	req, rec := completeOne(t, f)

	tip := 3.5
	got, err := f.session.AttachPassengerFeedback(ctx, rec.ID, 5, "great passenger", &tip)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5, *got.Rating)
	require.NotNil(t, got.Tip)
	assert.Equal(t, 3.5, *got.Tip)
	assert.InDelta(t, req.EstimatedFare+3.5, f.session.Snapshot().Driver.Earnings.Today, 1e-9)

	// a second tip is not credited again
	more := 10.0
	got, err = f.session.AttachPassengerFeedback(ctx, rec.ID, 4, "", &more)
	require.NoError(t, err)
	assert.Equal(t, 4, *got.Rating)
	assert.Equal(t, 3.5, *got.Tip)
	assert.InDelta(t, req.EstimatedFare+3.5, f.session.Snapshot().Driver.Earnings.ThisMonth, 1e-9)
}

func TestAttachPassengerFeedbackRejects(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, rec := completeOne(t, f)
	before := f.session.Snapshot()

	_, err := f.session.AttachPassengerFeedback(ctx, "missing", 5, "", nil)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = f.session.AttachPassengerFeedback(ctx, rec.ID, 0, "", nil)
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	neg := -1.0
	_, err = f.session.AttachPassengerFeedback(ctx, rec.ID, 3, "", &neg)
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	assert.Equal(t, before, f.session.Snapshot())
}

func TestOfflineMidTripCancels(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	req := f.pending(t)
	tr, err := f.session.AcceptRequest(ctx, req.ID)
	require.NoError(t, err)
	_, err = f.session.Advance(ctx, tr.ID, models.TripArrivedAtPickup)
	require.NoError(t, err)

	d := f.session.SetOnline(ctx, false)
	assert.False(t, d.Online)
	assert.Equal(t, 1, d.Trips.Cancelled)

	snap := f.session.Snapshot()
	assert.Nil(t, snap.Active)
	assert.Nil(t, snap.Pending)
	assert.Empty(t, snap.History)
	assert.Equal(t, models.Earnings{}, snap.Driver.Earnings)
	assert.Equal(t, 0, f.clock.Pending())
	assert.Contains(t, f.events.types(), EventTripCancelled)

	_, err = f.session.CompleteTrip(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestOfflineWhilePendingCancelsTimers(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.pending(t)
	f.session.SetOnline(ctx, false)

	assert.Nil(t, f.session.Snapshot().Pending)
	assert.Equal(t, 0, f.clock.Pending())
	f.clock.Advance(time.Hour)
	assert.NotContains(t, f.events.types(), EventRequestExpired)
	assert.Nil(t, f.session.Snapshot().Pending)
}

func TestCloseStopsTimers(t *testing.T) {
	f := newFixture(t, 1)
	f.pending(t)
	f.session.Close()
	assert.Equal(t, 0, f.clock.Pending())
	_, ok := f.session.Tick(context.Background())
	assert.False(t, ok)
}

func TestPersistFailureDoesNotBlockCompletion(t *testing.T) {
	f := newFixture(t, 1)
	f.repo.failErr = errors.New("disk full")
	_, rec := completeOne(t, f)
	assert.Equal(t, rec.ID, f.session.Snapshot().History[0].ID)
}

func TestCountdownTracksDeadline(t *testing.T) {
	f := newFixture(t, 1)
	assert.Equal(t, 0, f.session.Countdown())

	f.pending(t)
	assert.Equal(t, 30, f.session.Countdown())

	f.clock.Advance(12500 * time.Millisecond)
	assert.Equal(t, 18, f.session.Countdown())
	assert.Equal(t, 18, f.session.Snapshot().CountdownSeconds)
}

func TestUpdateProfilePersists(t *testing.T) {
	f := newFixture(t, 0)
	v := models.Vehicle{Make: "Honda", Model: "Civic", Year: 2021, Plate: "NEW-1", Color: "Red"}

	d := f.session.UpdateProfile(context.Background(), "Sam Rivera", "sam@example.com", "+1 555 0100", v)
	assert.Equal(t, "Sam Rivera", d.Name)
	assert.Equal(t, v, f.session.Driver().Vehicle)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.Equal(t, "sam@example.com", f.repo.driver.Email)
	assert.Equal(t, "driver-1", f.repo.driver.ID)
}

func TestCreditedAmountsOnEvents(t *testing.T) {
	f := newFixture(t, 1)
	req, rec := completeOne(t, f)
	tip := 2.0
	_, err := f.session.AttachPassengerFeedback(context.Background(), rec.ID, 5, "", &tip)
	require.NoError(t, err)

	var credited []float64
	f.events.mu.Lock()
	for _, ev := range f.events.events {
		if ev.Credited > 0 {
			credited = append(credited, ev.Credited)
		}
	}
	f.events.mu.Unlock()
	assert.Equal(t, []float64{req.EstimatedFare, 2.0}, credited)
}
