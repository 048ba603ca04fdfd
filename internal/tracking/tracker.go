package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/driver-companion/internal/geo"
	"github.com/example/driver-companion/internal/models"
)

// DefaultCapacity is how many samples the tracker retains.
const DefaultCapacity = 100

// Listener is called with every sample the tracker records, outside the
// tracker's lock.
type Listener func(ctx context.Context, s models.GPSSample)

// PositionStore persists the current position and retained history.
type PositionStore interface {
	SavePositions(ctx context.Context, current models.GPSSample, history []models.GPSSample) error
}

type Tracker struct {
	provider Provider
	store    PositionStore
	capacity int
	logger   *slog.Logger

	mu         sync.Mutex
	permission models.PermissionState
	tracking   bool
	cancel     context.CancelFunc
	current    *models.GPSSample
	history    []models.GPSSample // newest first
	listeners  []Listener
	lastErr    error
}

func NewTracker(p Provider, store PositionStore, capacity int, logger *slog.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		provider:   p,
		store:      store,
		capacity:   capacity,
		logger:     logger,
		permission: models.PermissionPrompt,
	}
}

// Restore seeds the tracker with previously persisted positions.
func (t *Tracker) Restore(current *models.GPSSample, history []models.GPSSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = current
	if len(history) > t.capacity {
		history = history[:t.capacity]
	}
	t.history = append([]models.GPSSample(nil), history...)
}

// Subscribe registers l for every future recorded sample.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// RecordSample makes s the current position and prepends it to the
// bounded history, evicting the oldest samples.
func (t *Tracker) RecordSample(ctx context.Context, s models.GPSSample) {
	t.mu.Lock()
	sample := s
	t.current = &sample
	t.history = append([]models.GPSSample{s}, t.history...)
	if len(t.history) > t.capacity {
		t.history = t.history[:t.capacity]
	}
	hist := append([]models.GPSSample(nil), t.history...)
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SavePositions(ctx, s, hist); err != nil {
			t.logger.Warn("persist position failed", "error", err)
		}
	}
	for _, l := range listeners {
		l(ctx, s)
	}
}

// TotalDistance sums the distance between consecutive retained samples.
func (t *Tracker) TotalDistance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return totalDistance(t.history)
}

func totalDistance(h []models.GPSSample) float64 {
	total := 0.0
	for i := 1; i < len(h); i++ {
		total += geo.DistanceMeters(h[i-1].Coord, h[i].Coord)
	}
	return total
}

// CurrentSpeed is the speed reported by the latest sample, if any.
func (t *Tracker) CurrentSpeed() *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Speed == nil {
		return nil
	}
	v := *t.current.Speed
	return &v
}

func (t *Tracker) RequestPermission(ctx context.Context) (models.PermissionState, error) {
	p, err := t.provider.RequestPermission(ctx)
	if err != nil {
		return t.Permission(), fmt.Errorf("request location permission: %w", err)
	}
	t.mu.Lock()
	t.permission = p
	t.mu.Unlock()
	return p, nil
}

func (t *Tracker) Permission() models.PermissionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permission
}

// Acquire reads one position from the provider and records it. A denied
// permission fails without reading stale state.
func (t *Tracker) Acquire(ctx context.Context) (models.GPSSample, error) {
	t.mu.Lock()
	denied := t.permission == models.PermissionDenied
	t.mu.Unlock()
	if denied {
		return models.GPSSample{}, ErrLocationPermissionDenied
	}

	s, err := t.provider.Current(ctx)
	if err != nil {
		t.noteError(err)
		return models.GPSSample{}, err
	}
	t.mu.Lock()
	t.permission = models.PermissionGranted
	t.lastErr = nil
	t.mu.Unlock()
	t.RecordSample(ctx, s)
	return s, nil
}

// Start subscribes to continuous updates. The subscription lives until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.permission == models.PermissionDenied {
		t.mu.Unlock()
		return ErrLocationPermissionDenied
	}
	if t.tracking {
		t.mu.Unlock()
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.tracking = true
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("position tracking started")
	t.provider.Watch(watchCtx, func(s models.GPSSample, err error) {
		if watchCtx.Err() != nil {
			return
		}
		if err != nil {
			t.noteError(err)
			if errors.Is(err, ErrLocationPermissionDenied) {
				t.Stop()
			}
			return
		}
		t.mu.Lock()
		t.permission = models.PermissionGranted
		t.lastErr = nil
		t.mu.Unlock()
		t.RecordSample(watchCtx, s)
	})
	return nil
}

// Stop cancels the subscription. Calling it when not tracking is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	wasTracking := t.tracking
	t.cancel = nil
	t.tracking = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if wasTracking {
		t.logger.Info("position tracking stopped")
	}
}

func (t *Tracker) noteError(err error) {
	t.mu.Lock()
	t.lastErr = err
	if errors.Is(err, ErrLocationPermissionDenied) {
		t.permission = models.PermissionDenied
	}
	t.mu.Unlock()
	t.logger.Warn("location error", "error", err)
}

// State is a read-only view of the tracker.
type State struct {
	Permission    models.PermissionState `json:"permission"`
	Tracking      bool                   `json:"tracking"`
	Current       *models.GPSSample      `json:"current,omitempty"`
	History       []models.GPSSample     `json:"history"`
	TotalDistance float64                `json:"total_distance"`
	Speed         *float64               `json:"speed,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Permission:    t.permission,
		Tracking:      t.tracking,
		History:       append([]models.GPSSample(nil), t.history...),
		TotalDistance: totalDistance(t.history),
	}
	if t.current != nil {
		c := *t.current
		st.Current = &c
		st.Speed = c.Speed
	}
	if t.lastErr != nil {
		st.Error = t.lastErr.Error()
	}
	return st
}
