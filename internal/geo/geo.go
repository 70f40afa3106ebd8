// Package geo answers "which drivers are within radius R of point P".
// Positions only; operational eligibility is checked by the caller against
// the driver directory.
package geo

import (
	"context"

	"swiftride/internal/types"
)

// Candidate is one driver position returned by a radius query.
type Candidate struct {
	DriverID       types.ID
	Position       types.Point
	DistanceMeters float64
}

// Index is the spatial lookup used by the matching engine. Implementations
// must return candidates nearest first, all within the requested radius.
type Index interface {
	Upsert(ctx context.Context, driverID types.ID, pos types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
	Nearby(ctx context.Context, center types.Point, radiusMeters float64, limit int) ([]Candidate, error)
}
