// Package ingest moves driver location heartbeats through Kafka. The HTTP
// and WebSocket layers publish; locationd consumes and applies updates, so a
// burst of heartbeats backs up in the topic instead of in Postgres.
package ingest

import (
	"encoding/json"
	"time"

	"swiftride/internal/types"
)

// LocationMessage is the wire form of one heartbeat. Keyed by driver ID so
// per-driver ordering holds within a partition.
type LocationMessage struct {
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	Heading    *float64    `json:"heading,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

func (m LocationMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalLocation(b []byte) (LocationMessage, error) {
	var m LocationMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
