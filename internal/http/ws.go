package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"swiftride/internal/ingest"
	"swiftride/internal/modules/driver"
	"swiftride/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients connect from app webviews; origin checks happen at the
	// gateway in front of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// driverSocket is the driver's live channel: offers and status events go
// out, location heartbeats come in.
func (s *Server) driverSocket(c *gin.Context) {
	id := types.ID(c.Param("id"))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	s.registry.SubscribeDriver(id, conn)
	defer s.registry.UnsubscribeDriver(id)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var body locationBody
		if err := json.Unmarshal(payload, &body); err != nil {
			s.logger.Warn("malformed ws heartbeat", "driver_id", id, "error", err)
			continue
		}
		s.applyHeartbeat(id, body)
	}
}

// riderSocket only pushes; inbound frames are drained to surface closes.
func (s *Server) riderSocket(c *gin.Context) {
	id := types.ID(c.Param("id"))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.registry.SubscribeRider(id, conn)
	defer s.registry.UnsubscribeRider(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) applyHeartbeat(id types.ID, body locationBody) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recordedAt := time.Now().UTC()
	if body.RecordedAt != nil {
		recordedAt = body.RecordedAt.UTC()
	}
	pos := types.Point{Lat: body.Lat, Lng: body.Lng}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, ingest.LocationMessage{
			DriverID:   id,
			Position:   pos,
			Heading:    body.Heading,
			RecordedAt: recordedAt,
		})
		if err != nil {
			s.logger.Warn("heartbeat publish failed", "driver_id", id, "error", err)
		}
		return
	}

	err := s.drivers.UpdateLocation(ctx, driver.LocationUpdate{
		DriverID:   id,
		Position:   pos,
		Heading:    body.Heading,
		RecordedAt: recordedAt,
	})
	if err != nil && err != driver.ErrStale {
		s.logger.Warn("heartbeat apply failed", "driver_id", id, "error", err)
	}
}
