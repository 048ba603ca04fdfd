package tracking

import (
	"context"
	"errors"

	"github.com/example/driver-companion/internal/models"
)

var (
	ErrLocationPermissionDenied = errors.New("location permission denied")
	ErrLocationUnavailable      = errors.New("location unavailable")
	ErrLocationTimeout          = errors.New("location request timed out")
)

// Provider is the device's geolocation source.
type Provider interface {
	RequestPermission(ctx context.Context) (models.PermissionState, error)
	Current(ctx context.Context) (models.GPSSample, error)
	// Watch delivers samples or errors to fn until ctx is cancelled. It
	// returns immediately.
	Watch(ctx context.Context, fn func(models.GPSSample, error))
}
