// Package geo holds the great-circle distance used by the feed's radius
// filter and the position sources that feed it.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// DefaultRadiusMeters is the feed radius when none is configured.
const DefaultRadiusMeters = 5000.0

// Point is a coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) String() string { return fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lng) }

// Valid reports whether p is a finite coordinate inside the usual bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Within reports whether p lies inside radius meters of origin. A nil p
// never does.
func Within(origin Point, p *Point, radius float64) bool {
	if p == nil {
		return false
	}
	return Distance(origin, *p) <= radius
}
