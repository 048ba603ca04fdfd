package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-companion/internal/models"
)

func TestDeepLink(t *testing.T) {
	c := models.Coord{Lat: 40.758, Lng: -73.9855}

	u, err := DeepLink(models.MapGoogle, c)
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/dir/?api=1&destination=40.758,-73.9855&travelmode=driving", u)

	u, err = DeepLink(models.MapApple, c)
	require.NoError(t, err)
	assert.Equal(t, "https://maps.apple.com/?daddr=40.758,-73.9855&dirflg=d", u)

	u, err = DeepLink(models.MapWaze, c)
	require.NoError(t, err)
	assert.Equal(t, "https://waze.com/ul?ll=40.758,-73.9855&navigate=yes", u)

	_, err = DeepLink("here", c)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
