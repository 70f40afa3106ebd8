// Package dispatch fans out ride events to connected clients. Delivery is
// best effort and at most once: a failed send is reported to the caller for
// logging but must never affect the transactional outcome of a match.
package dispatch

import (
	"time"

	"swiftride/internal/types"
)

type EventType string

const (
	EventRideOffer     EventType = "ride_offer"
	EventRideMatched   EventType = "ride_matched"
	EventStatusChanged EventType = "status_changed"
	EventRideCancelled EventType = "ride_cancelled"
)

// Event is one notification delivered to a driver or rider client.
type Event struct {
	Type   EventType      `json:"type"`
	RideID types.ID       `json:"ride_id"`
	At     time.Time      `json:"at"`
	Data   map[string]any `json:"data,omitempty"`
}

// Notifier delivers events to a single recipient. No ordering or delivery
// guarantees.
type Notifier interface {
	NotifyDriver(driverID types.ID, ev Event) error
	NotifyRider(riderID types.ID, ev Event) error
}
