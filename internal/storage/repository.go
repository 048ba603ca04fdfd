package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/driver-companion/internal/models"
)

const (
	KeyDriver          = "driver"
	KeyTripHistory     = "trip_history"
	KeyGPSHistory      = "gps_history"
	KeyCurrentPosition = "current_position"
	KeySettings        = "settings"
)

// DefaultDriver is the profile used before anything has been saved.
func DefaultDriver() models.Driver {
	return models.Driver{
		Name:   "John Driver",
		Email:  "john.driver@example.com",
		Phone:  "+1 (555) 123-4567",
		Rating: 4.8,
		Vehicle: models.Vehicle{
			Make:  "Toyota",
			Model: "Camry",
			Year:  2020,
			Plate: "ABC-1234",
			Color: "Silver",
		},
	}
}

func DefaultSettings() models.Settings {
	return models.Settings{MapProvider: models.MapGoogle, VoiceEnabled: true, Notifications: true}
}

// Repository reads and writes the app's documents through a Store. Missing
// keys resolve to defaults.
type Repository struct {
	store Store
}

func NewRepository(s Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) get(ctx context.Context, key string, out any) (bool, error) {
	b, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Repository) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.Set(ctx, key, b)
}

func (r *Repository) LoadDriver(ctx context.Context) (models.Driver, error) {
	var d models.Driver
	ok, err := r.get(ctx, KeyDriver, &d)
	if err != nil {
		return models.Driver{}, err
	}
	if !ok {
		return DefaultDriver(), nil
	}
	return d, nil
}

func (r *Repository) SaveDriver(ctx context.Context, d models.Driver) error {
	return r.set(ctx, KeyDriver, d)
}

func (r *Repository) LoadHistory(ctx context.Context) ([]models.TripHistory, error) {
	var h []models.TripHistory
	if _, err := r.get(ctx, KeyTripHistory, &h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Repository) SaveHistory(ctx context.Context, h []models.TripHistory) error {
	if h == nil {
		h = []models.TripHistory{}
	}
	return r.set(ctx, KeyTripHistory, h)
}

func (r *Repository) LoadPositions(ctx context.Context) (*models.GPSSample, []models.GPSSample, error) {
	var cur models.GPSSample
	ok, err := r.get(ctx, KeyCurrentPosition, &cur)
	if err != nil {
		return nil, nil, err
	}
	var hist []models.GPSSample
	if _, err := r.get(ctx, KeyGPSHistory, &hist); err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, hist, nil
	}
	return &cur, hist, nil
}

func (r *Repository) SavePositions(ctx context.Context, current models.GPSSample, history []models.GPSSample) error {
	if err := r.set(ctx, KeyCurrentPosition, current); err != nil {
		return err
	}
	return r.set(ctx, KeyGPSHistory, history)
}

func (r *Repository) LoadSettings(ctx context.Context) (models.Settings, error) {
	s := DefaultSettings()
	if _, err := r.get(ctx, KeySettings, &s); err != nil {
		return models.Settings{}, err
	}
	return s, nil
}

func (r *Repository) SaveSettings(ctx context.Context, s models.Settings) error {
	return r.set(ctx, KeySettings, s)
}
