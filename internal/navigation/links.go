package navigation

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/example/driver-companion/internal/models"
)

var ErrUnknownProvider = errors.New("unknown map provider")

// DeepLink builds the URL that opens driving directions to c in an
// external map application.
func DeepLink(p models.MapProvider, c models.Coord) (string, error) {
	lat := strconv.FormatFloat(c.Lat, 'f', -1, 64)
	lng := strconv.FormatFloat(c.Lng, 'f', -1, 64)
	switch p {
	case models.MapGoogle:
		return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%s,%s&travelmode=driving", lat, lng), nil
	case models.MapApple:
		return fmt.Sprintf("https://maps.apple.com/?daddr=%s,%s&dirflg=d", lat, lng), nil
	case models.MapWaze:
		return fmt.Sprintf("https://waze.com/ul?ll=%s,%s&navigate=yes", lat, lng), nil
	default:
		return "", fmt.Errorf("%q: %w", p, ErrUnknownProvider)
	}
}
