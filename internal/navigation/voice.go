package navigation

import (
	"fmt"
	"sync"

	"github.com/example/driver-companion/internal/geo"
	"github.com/example/driver-companion/internal/models"
)

// VoiceText renders the spoken form of an instruction.
func VoiceText(in models.NavigationInstruction) string {
	dist := geo.FormatDistance(in.Distance)
	onto := ""
	if in.Street != "" {
		onto = " onto " + in.Street
	}
	switch in.Maneuver {
	case models.ManeuverTurnLeft:
		return fmt.Sprintf("In %s, turn left%s", dist, onto)
	case models.ManeuverTurnRight:
		return fmt.Sprintf("In %s, turn right%s", dist, onto)
	case models.ManeuverUTurn:
		return fmt.Sprintf("In %s, make a U-turn", dist)
	case models.ManeuverMerge:
		return fmt.Sprintf("In %s, merge%s", dist, onto)
	case models.ManeuverExit:
		return fmt.Sprintf("In %s, take the exit%s", dist, onto)
	case models.ManeuverDestination:
		return fmt.Sprintf("In %s, you will arrive at your destination", dist)
	default:
		if in.Street != "" {
			return fmt.Sprintf("Continue straight on %s for %s", in.Street, dist)
		}
		return fmt.Sprintf("Continue straight for %s", dist)
	}
}

// Announcer decides which instructions are spoken: only close legs, and
// never the same text twice in a row.
type Announcer struct {
	threshold float64

	mu   sync.Mutex
	last string
}

func NewAnnouncer(threshold float64) *Announcer {
	return &Announcer{threshold: threshold}
}

// Next returns the text to speak for in, or false when nothing should be said.
func (a *Announcer) Next(in *models.NavigationInstruction) (string, bool) {
	if in == nil || in.Distance >= a.threshold {
		return "", false
	}
	text := VoiceText(*in)
	a.mu.Lock()
	defer a.mu.Unlock()
	if text == a.last {
		return "", false
	}
	a.last = text
	return text, true
}

// Reset forgets the last announcement, e.g. when a new route starts.
func (a *Announcer) Reset() {
	a.mu.Lock()
	a.last = ""
	a.mu.Unlock()
}
