package routing

import (
	"context"

	"swiftride/internal/types"
)

// HaversineRouter estimates routes from straight-line distance and an
// assumed average speed. Used when no Maps API key is configured and in
// tests. The road factor compensates for streets not being great circles.
type HaversineRouter struct {
	AvgSpeedKmh float64
	RoadFactor  float64
}

func NewHaversineRouter(avgSpeedKmh float64) *HaversineRouter {
	return &HaversineRouter{AvgSpeedKmh: avgSpeedKmh, RoadFactor: 1.3}
}

func (h *HaversineRouter) GetRoute(_ context.Context, origin, destination types.Point) (Route, error) {
	speed := h.AvgSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	factor := h.RoadFactor
	if factor <= 0 {
		factor = 1.3
	}
	km := origin.DistanceKm(destination) * factor
	return Route{
		DistanceKm:  km,
		DurationMin: km / speed * 60,
	}, nil
}
