// Package ride owns the ride aggregate and its lifecycle state machine.
package ride

import (
	"time"

	"swiftride/internal/modules/pricing"
	"swiftride/internal/types"
)

type Status string

const (
	StatusRequested     Status = "requested"
	StatusMatched       Status = "matched"
	StatusDriverEnRoute Status = "driver_en_route"
	StatusArrived       Status = "arrived"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// AllowedTransitions represents the ride state flow as code. Cancelled is
// reachable from every non-terminal state; completed and cancelled absorb.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:     {StatusMatched, StatusCancelled},
	StatusMatched:       {StatusDriverEnRoute, StatusCancelled},
	StatusDriverEnRoute: {StatusArrived, StatusCancelled},
	StatusArrived:       {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a driver is currently working the ride; only then
// are driver location updates accepted.
func (s Status) Active() bool {
	switch s {
	case StatusMatched, StatusDriverEnRoute, StatusArrived, StatusInProgress:
		return true
	}
	return false
}

// Place is an address with its resolved coordinate.
type Place struct {
	Address string      `json:"address"`
	Point   types.Point `json:"point"`
}

// RouteInfo is the travel estimate captured at request time.
type RouteInfo struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

// DriverSnapshot is the driver contact/vehicle info frozen onto the ride at
// match time, plus the driver's last reported position while working it.
type DriverSnapshot struct {
	Name       string
	Phone      string
	Vehicle    string
	Rating     float64
	Location   *types.Point
	Heading    *float64
	LocationAt *time.Time
}

type Ride struct {
	ID            types.ID
	RiderID       types.ID
	DriverID      *types.ID
	Status        Status
	StatusVersion int

	Pickup      Place
	Destination Place
	Route       RouteInfo
	Fare        pricing.Breakdown

	// PickupCode is shown to the rider, OTP to the driver; both are fixed
	// at creation and exchanged at pickup for verification.
	PickupCode string
	OTP        string
	Notes      string

	ETAMinutes *int
	Driver     *DriverSnapshot

	RequestedAt time.Time
	MatchedAt   *time.Time
	EnRouteAt   *time.Time
	ArrivedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancelledBy  *string
	CancelReason *string

	PaymentIntentID *string
}

// Event is one audit row recording a state transition.
type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}
