package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"swiftride/internal/ingest"
	"swiftride/internal/modules/driver"
	"swiftride/internal/types"
)

type onboardDriverBody struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Vehicle string `json:"vehicle"`
}

func (s *Server) onboardDriver(c *gin.Context) {
	var body onboardDriverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	id, err := s.drivers.Onboard(c.Request.Context(), driver.OnboardCommand{
		Name:    body.Name,
		Phone:   body.Phone,
		Vehicle: body.Vehicle,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "status": driver.StatusPending})
}

type driverView struct {
	ID        types.ID        `json:"id"`
	Name      string          `json:"name"`
	Vehicle   string          `json:"vehicle"`
	Rating    float64         `json:"rating"`
	Status    driver.OpStatus `json:"status"`
	Online    bool            `json:"online"`
	Available bool            `json:"available"`
	Location  *types.Point    `json:"location,omitempty"`
}

func (s *Server) getDriver(c *gin.Context) {
	d, err := s.drivers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, driverView{
		ID:        d.ID,
		Name:      d.Name,
		Vehicle:   d.Vehicle,
		Rating:    d.Rating,
		Status:    d.Status,
		Online:    d.Online,
		Available: d.Available,
		Location:  d.Location,
	})
}

type presenceBody struct {
	Online    bool `json:"online"`
	Available bool `json:"available"`
}

func (s *Server) setPresence(c *gin.Context) {
	var body presenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	err := s.drivers.SetPresence(c.Request.Context(), types.ID(c.Param("id")), body.Online, body.Available)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type locationBody struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Heading    *float64   `json:"heading"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// driverLocation takes one heartbeat. With Kafka configured the heartbeat is
// published and acknowledged with 202; otherwise it is applied inline.
func (s *Server) driverLocation(c *gin.Context) {
	var body locationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	id := types.ID(c.Param("id"))
	recordedAt := time.Now().UTC()
	if body.RecordedAt != nil {
		recordedAt = body.RecordedAt.UTC()
	}

	if s.publisher != nil {
		err := s.publisher.Publish(c.Request.Context(), ingest.LocationMessage{
			DriverID:   id,
			Position:   types.Point{Lat: body.Lat, Lng: body.Lng},
			Heading:    body.Heading,
			RecordedAt: recordedAt,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	err := s.drivers.UpdateLocation(c.Request.Context(), driver.LocationUpdate{
		DriverID:   id,
		Position:   types.Point{Lat: body.Lat, Lng: body.Lng},
		Heading:    body.Heading,
		RecordedAt: recordedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
