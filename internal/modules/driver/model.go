// Package driver owns the driver directory and the online/available/busy
// tri-state that the matching engine reserves against.
package driver

import (
	"time"

	"swiftride/internal/types"
)

// OpStatus is the operational standing of a driver account.
type OpStatus string

const (
	StatusPending   OpStatus = "pending"
	StatusActive    OpStatus = "active"
	StatusSuspended OpStatus = "suspended"
)

type Driver struct {
	ID              types.ID
	Name            string
	Phone           string
	Vehicle         string
	Rating          float64
	Online          bool
	Available       bool
	Status          OpStatus
	BackgroundCheck bool
	CurrentRideID   *types.ID
	Location        *types.Point
	Heading         *float64
	LocationAt      *time.Time
	CreatedAt       time.Time
}

// Eligible reports whether the driver may be offered a ride: online,
// available, operationally active, and background-check approved.
func (d *Driver) Eligible() bool {
	return d.Online && d.Available && d.Status == StatusActive && d.BackgroundCheck && d.CurrentRideID == nil
}
