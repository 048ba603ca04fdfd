package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/driver-companion/internal/models"
)

func TestVoiceText(t *testing.T) {
	tests := []struct {
		in   models.NavigationInstruction
		want string
	}{
		{models.NavigationInstruction{Maneuver: models.ManeuverTurnRight, Distance: 320, Street: "Broadway"}, "In 320m, turn right onto Broadway"},
		{models.NavigationInstruction{Maneuver: models.ManeuverTurnLeft, Distance: 1500}, "In 1.5km, turn left"},
		{models.NavigationInstruction{Maneuver: models.ManeuverStraight, Distance: 200, Street: "Main Street"}, "Continue straight on Main Street for 200m"},
		{models.NavigationInstruction{Maneuver: models.ManeuverStraight, Distance: 200}, "Continue straight for 200m"},
		{models.NavigationInstruction{Maneuver: models.ManeuverUTurn, Distance: 50}, "In 50m, make a U-turn"},
		{models.NavigationInstruction{Maneuver: models.ManeuverMerge, Distance: 90, Street: "I-95"}, "In 90m, merge onto I-95"},
		{models.NavigationInstruction{Maneuver: models.ManeuverExit, Distance: 400}, "In 400m, take the exit"},
		{models.NavigationInstruction{Maneuver: models.ManeuverDestination, Distance: 120}, "In 120m, you will arrive at your destination"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VoiceText(tt.in))
	}
}

func TestAnnouncerDedup(t *testing.T) {
	a := NewAnnouncer(500)

	far := &models.NavigationInstruction{Maneuver: models.ManeuverTurnRight, Distance: 800, Street: "Broadway"}
	_, ok := a.Next(far)
	assert.False(t, ok)

	near := &models.NavigationInstruction{Maneuver: models.ManeuverTurnRight, Distance: 300, Street: "Broadway"}
	text, ok := a.Next(near)
	assert.True(t, ok)
	assert.Equal(t, "In 300m, turn right onto Broadway", text)

	_, ok = a.Next(near)
	assert.False(t, ok)

	other := &models.NavigationInstruction{Maneuver: models.ManeuverDestination, Distance: 100}
	_, ok = a.Next(other)
	assert.True(t, ok)

	_, ok = a.Next(nil)
	assert.False(t, ok)

	a.Reset()
	_, ok = a.Next(other)
	assert.True(t, ok)
}
