package requests

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-companion/internal/models"
)

func TestGenerateRanges(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGenerator(cfg, rand.New(rand.NewSource(7)))
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	specials := 0
	for i := 0; i < 500; i++ {
		r := g.Generate(now)
		require.NotEmpty(t, r.ID)
		assert.Contains(t, passengerNames, r.Passenger.Name)
		assert.GreaterOrEqual(t, r.Passenger.Rating, 4.2)
		assert.LessOrEqual(t, r.Passenger.Rating, 5.0)
		assert.GreaterOrEqual(t, r.Passenger.Trips, 5)
		assert.Less(t, r.Passenger.Trips, 55)
		assert.GreaterOrEqual(t, r.EstimatedFare, 6.80)
		assert.Less(t, r.EstimatedFare, 26.80)
		assert.GreaterOrEqual(t, r.EstimatedDistance, 2.1)
		assert.Less(t, r.EstimatedDistance, 10.1)
		assert.GreaterOrEqual(t, r.EstimatedMinutes, 8)
		assert.Less(t, r.EstimatedMinutes, 33)
		assert.Contains(t, models.PaymentMethods, r.PaymentMethod)
		assert.NotEqual(t, r.Pickup.Address, r.Destination.Address)
		for _, c := range []models.Coord{r.Pickup.Coord, r.Destination.Coord} {
			assert.LessOrEqual(t, math.Abs(c.Lat-cfg.Base.Lat), cfg.Jitter)
			assert.LessOrEqual(t, math.Abs(c.Lng-cfg.Base.Lng), cfg.Jitter)
		}
		assert.Equal(t, now, r.CreatedAt)
		if r.SpecialRequest != "" {
			assert.Equal(t, SpecialRequestCall, r.SpecialRequest)
			specials++
		}
	}
	assert.Greater(t, specials, 0)
	assert.Less(t, specials, 500)
}

func TestGenerateDeterministicForSeed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewGenerator(DefaultConfig(), rand.New(rand.NewSource(42))).Generate(now)
	b := NewGenerator(DefaultConfig(), rand.New(rand.NewSource(42))).Generate(now)

	// ids come from uuid, everything drawn from the source must match
	a.ID, b.ID = "", ""
	assert.Equal(t, a, b)
}

func TestMaybeProbabilityBounds(t *testing.T) {
	always := DefaultConfig()
	always.Probability = 1
	g := NewGenerator(always, rand.New(rand.NewSource(1)))
	for i := 0; i < 50; i++ {
		_, ok := g.Maybe(time.Now())
		assert.True(t, ok)
	}

	never := DefaultConfig()
	never.Probability = 0
	g = NewGenerator(never, rand.New(rand.NewSource(1)))
	for i := 0; i < 50; i++ {
		_, ok := g.Maybe(time.Now())
		assert.False(t, ok)
	}
}
