package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-companion/internal/models"
)

func TestRepositoryDefaults(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())

	d, err := repo.LoadDriver(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultDriver(), d)

	h, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, h)

	cur, hist, err := repo.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	assert.Empty(t, hist)

	s, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewRepository(store)

	d := DefaultDriver()
	d.ID = "d1"
	d.Earnings.Add(12.5)
	require.NoError(t, repo.SaveDriver(ctx, d))

	rating := 5
	h := []models.TripHistory{{ID: "t2", Fare: 10, Rating: &rating}, {ID: "t1", Fare: 8}}
	require.NoError(t, repo.SaveHistory(ctx, h))

	speed := 4.2
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sample := models.GPSSample{Coord: models.Coord{Lat: 1, Lng: 2}, Accuracy: 5, Speed: &speed, Timestamp: now}
	require.NoError(t, repo.SavePositions(ctx, sample, []models.GPSSample{sample}))

	// a fresh repository on the same store sees the same documents
	again := NewRepository(store)
	gotD, err := again.LoadDriver(ctx)
	require.NoError(t, err)
	assert.Equal(t, d, gotD)

	gotH, err := again.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, h, gotH)

	cur, hist, err := again.LoadPositions(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, sample, *cur)
	assert.Equal(t, []models.GPSSample{sample}, hist)
}

func TestRepositoryCorruptDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeyDriver, []byte("not json")))

	_, err := NewRepository(store).LoadDriver(ctx)
	assert.Error(t, err)
}
