package requests

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-companion/internal/models"
)

// SpecialRequestCall is the only special-request text the generator emits.
const SpecialRequestCall = "Please call when you arrive"

var passengerNames = []string{
	"Sarah Johnson",
	"Michael Chen",
	"Emily Rodriguez",
	"David Kim",
	"Jessica Williams",
	"James Anderson",
}

var addresses = []string{
	"123 Main St, Downtown",
	"456 Oak Ave, Midtown",
	"789 Pine Rd, Uptown",
	"321 Elm St, Westside",
	"654 Maple Dr, Eastside",
	"987 Cedar Ln, Riverside",
	"147 Broadway, Financial District",
	"258 Park Ave, Central Park",
}

type Config struct {
	// Probability is the chance that a single tick emits a request.
	Probability float64
	Base        models.Coord
	// Jitter is the maximum offset in degrees applied to each coordinate.
	Jitter float64
}

func DefaultConfig() Config {
	return Config{
		Probability: 0.3,
		Base:        models.Coord{Lat: 40.7128, Lng: -74.0060},
		Jitter:      0.05,
	}
}

// Generator draws mock ride requests. It is not safe for concurrent use;
// the owning session serializes calls.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

func NewGenerator(cfg Config, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{cfg: cfg, rng: rng}
}

// Maybe draws against the emission probability and generates a request on success.
func (g *Generator) Maybe(now time.Time) (models.RideRequest, bool) {
	if g.rng.Float64() >= g.cfg.Probability {
		return models.RideRequest{}, false
	}
	return g.Generate(now), true
}

func (g *Generator) Generate(now time.Time) models.RideRequest {
	pickupIdx := g.rng.Intn(len(addresses))
	destIdx := g.rng.Intn(len(addresses) - 1)
	if destIdx >= pickupIdx {
		destIdx++
	}

	req := models.RideRequest{
		ID: uuid.NewString(),
		Passenger: models.Passenger{
			Name:   passengerNames[g.rng.Intn(len(passengerNames))],
			Phone:  fmt.Sprintf("+1 (555) %03d-%04d", g.rng.Intn(1000), g.rng.Intn(10000)),
			Rating: math.Round((4.2+g.rng.Float64()*0.8)*10) / 10,
			Trips:  5 + g.rng.Intn(50),
		},
		Pickup:            models.Place{Coord: g.jitter(), Address: addresses[pickupIdx]},
		Destination:       models.Place{Coord: g.jitter(), Address: addresses[destIdx]},
		EstimatedFare:     6.80 + g.rng.Float64()*20,
		EstimatedDistance: 2.1 + g.rng.Float64()*8,
		EstimatedMinutes:  8 + g.rng.Intn(25),
		PaymentMethod:     models.PaymentMethods[g.rng.Intn(len(models.PaymentMethods))],
		CreatedAt:         now,
	}
	if g.rng.Float64() < 0.3 {
		req.SpecialRequest = SpecialRequestCall
	}
	return req
}

func (g *Generator) jitter() models.Coord {
	return models.Coord{
		Lat: g.cfg.Base.Lat + (g.rng.Float64()*2-1)*g.cfg.Jitter,
		Lng: g.cfg.Base.Lng + (g.rng.Float64()*2-1)*g.cfg.Jitter,
	}
}
