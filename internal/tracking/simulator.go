package tracking

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/example/driver-companion/internal/clock"
	"github.com/example/driver-companion/internal/models"
)

// Simulator is a Provider that random-walks around a base location.
type Simulator struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	pos  models.Coord
	deny bool
	fail error
}

func NewSimulator(c clock.Clock, base models.Coord, interval time.Duration, rng *rand.Rand) *Simulator {
	if c == nil {
		c = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{clock: c, interval: interval, rng: rng, pos: base}
}

// Deny makes the simulated device refuse location access.
func (s *Simulator) Deny(deny bool) {
	s.mu.Lock()
	s.deny = deny
	s.mu.Unlock()
}

// Fail makes subsequent reads return err; nil clears it.
func (s *Simulator) Fail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Simulator) RequestPermission(ctx context.Context) (models.PermissionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny {
		return models.PermissionDenied, nil
	}
	return models.PermissionGranted, nil
}

func (s *Simulator) Current(ctx context.Context) (models.GPSSample, error) {
	if err := ctx.Err(); err != nil {
		return models.GPSSample{}, ErrLocationTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Simulator) Watch(ctx context.Context, fn func(models.GPSSample, error)) {
	var (
		mu    sync.Mutex
		timer clock.Timer
		step  func()
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() == nil {
			timer = s.clock.AfterFunc(s.interval, step)
		}
	}
	step = func() {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		sample, err := s.nextLocked()
		s.mu.Unlock()
		fn(sample, err)
		schedule()
	}
	context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	})
	schedule()
}

func (s *Simulator) nextLocked() (models.GPSSample, error) {
	if s.deny {
		return models.GPSSample{}, ErrLocationPermissionDenied
	}
	if s.fail != nil {
		return models.GPSSample{}, s.fail
	}
	s.pos.Lat += (s.rng.Float64() - 0.5) * 0.001
	s.pos.Lng += (s.rng.Float64() - 0.5) * 0.001
	heading := s.rng.Float64() * 360
	speed := s.rng.Float64() * 15
	return models.GPSSample{
		Coord:     s.pos,
		Accuracy:  5 + s.rng.Float64()*15,
		Heading:   &heading,
		Speed:     &speed,
		Timestamp: s.clock.Now(),
	}, nil
}
