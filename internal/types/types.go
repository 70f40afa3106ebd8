// Package types holds small value objects shared across modules.
package types

import "math"

// ID is an opaque entity identifier.
type ID string

// Point is a geographic coordinate in decimal degrees. This is the only
// coordinate representation used inside the core; lng/lat array forms are
// converted at the HTTP boundary.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func (p Point) DistanceKm(q Point) float64 {
	dLat := radians(q.Lat - p.Lat)
	dLng := radians(q.Lng - p.Lng)

	rLat1 := radians(p.Lat)
	rLat2 := radians(q.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceMeters returns the great-circle distance in meters.
func (p Point) DistanceMeters(q Point) float64 {
	return p.DistanceKm(q) * 1000.0
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
