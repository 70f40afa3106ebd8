// Package routing supplies distance/duration for a coordinate pair. The
// matching core treats this as an external collaborator; a failure here
// aborts ride creation.
package routing

import (
	"context"
	"errors"

	"swiftride/internal/types"
)

// Route is the travel estimate between two points.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

var ErrNoRoute = errors.New("no route found")

// Service resolves a driving route between two coordinates.
type Service interface {
	GetRoute(ctx context.Context, origin, destination types.Point) (Route, error)
}
