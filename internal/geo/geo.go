package geo

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/example/driver-companion/internal/models"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// BearingDegrees returns the initial bearing from a to b in [0,360).
func BearingDegrees(a, b models.Coord) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLon := toRad(b.Lng - a.Lng)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if brng >= 360 {
		brng = 0
	}
	return brng
}

// FormatDistance renders meters as "850m" below one kilometer and "1.2km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// FormatDuration renders seconds as "12min" or "1h 5min".
func FormatDuration(seconds float64) string {
	minutes := int(math.Round(seconds / 60))
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
}

// Geohash encodes c with the given character precision.
func Geohash(c models.Coord, precision uint) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, precision)
}
