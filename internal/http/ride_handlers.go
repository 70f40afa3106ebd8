package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"swiftride/internal/modules/matching"
	"swiftride/internal/modules/pricing"
	"swiftride/internal/modules/ride"
	"swiftride/internal/types"
)

type placeBody struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p placeBody) toPlace() ride.Place {
	return ride.Place{Address: p.Address, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}
}

type createRideBody struct {
	RiderID     string    `json:"rider_id" binding:"required"`
	Pickup      placeBody `json:"pickup" binding:"required"`
	Destination placeBody `json:"destination" binding:"required"`
	Notes       string    `json:"notes"`
}

type driverSnapshotView struct {
	Name       string       `json:"name"`
	Phone      string       `json:"phone"`
	Vehicle    string       `json:"vehicle"`
	Rating     float64      `json:"rating"`
	Location   *types.Point `json:"location,omitempty"`
	Heading    *float64     `json:"heading,omitempty"`
	LocationAt *time.Time   `json:"location_at,omitempty"`
}

type rideView struct {
	ID          types.ID            `json:"id"`
	RiderID     types.ID            `json:"rider_id"`
	DriverID    *types.ID           `json:"driver_id,omitempty"`
	Status      ride.Status         `json:"status"`
	Pickup      ride.Place          `json:"pickup"`
	Destination ride.Place          `json:"destination"`
	Route       ride.RouteInfo      `json:"route"`
	Fare        pricing.Breakdown   `json:"fare"`
	PickupCode  string              `json:"pickup_code"`
	OTP         string              `json:"otp"`
	Notes       string              `json:"notes,omitempty"`
	ETAMinutes  *int                `json:"eta_minutes,omitempty"`
	Driver      *driverSnapshotView `json:"driver,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
	MatchedAt   *time.Time          `json:"matched_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
}

func toRideView(r *ride.Ride) rideView {
	v := rideView{
		ID:          r.ID,
		RiderID:     r.RiderID,
		DriverID:    r.DriverID,
		Status:      r.Status,
		Pickup:      r.Pickup,
		Destination: r.Destination,
		Route:       r.Route,
		Fare:        r.Fare,
		PickupCode:  r.PickupCode,
		OTP:         r.OTP,
		Notes:       r.Notes,
		ETAMinutes:  r.ETAMinutes,
		RequestedAt: r.RequestedAt,
		MatchedAt:   r.MatchedAt,
		CompletedAt: r.CompletedAt,
		CancelledAt: r.CancelledAt,
	}
	if r.Driver != nil {
		v.Driver = &driverSnapshotView{
			Name:       r.Driver.Name,
			Phone:      r.Driver.Phone,
			Vehicle:    r.Driver.Vehicle,
			Rating:     r.Driver.Rating,
			Location:   r.Driver.Location,
			Heading:    r.Driver.Heading,
			LocationAt: r.Driver.LocationAt,
		}
	}
	return v
}

func (s *Server) createRide(c *gin.Context) {
	var body createRideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	r, err := s.rides.Create(c.Request.Context(), ride.CreateCommand{
		RiderID:     types.ID(body.RiderID),
		Pickup:      body.Pickup.toPlace(),
		Destination: body.Destination.toPlace(),
		Notes:       body.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	// Matching runs detached from the request: the rider polls or listens
	// on the websocket for the outcome.
	if s.matcher != nil {
		go func(r *ride.Ride) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.matcher.Dispatch(ctx, r); err != nil && !errors.Is(err, matching.ErrNoDriversAvailable) {
				s.logger.Error("dispatch failed", "ride_id", r.ID, "error", err)
			}
		}(r)
	}

	c.JSON(http.StatusCreated, toRideView(r))
}

func (s *Server) getRide(c *gin.Context) {
	r, err := s.rides.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideView(r))
}

func (s *Server) trackRide(c *gin.Context) {
	view, err := s.rides.Tracking(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type driverActionBody struct {
	DriverID string `json:"driver_id" binding:"required"`
}

func (s *Server) acceptRide(c *gin.Context) {
	var body driverActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	r, err := s.matcher.Accept(c.Request.Context(), types.ID(c.Param("id")), types.ID(body.DriverID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideView(r))
}

func (s *Server) declineRide(c *gin.Context) {
	var body driverActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	s.matcher.Decline(c.Request.Context(), types.ID(c.Param("id")), types.ID(body.DriverID))
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (s *Server) enRoute(c *gin.Context) {
	s.progress(c, s.rides.EnRoute)
}

func (s *Server) arrived(c *gin.Context) {
	s.progress(c, s.rides.Arrived)
}

func (s *Server) progress(c *gin.Context, step func(context.Context, types.ID, types.ID) error) {
	var body driverActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	if err := step(c.Request.Context(), types.ID(c.Param("id")), types.ID(body.DriverID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startRideBody struct {
	DriverID string `json:"driver_id" binding:"required"`
	OTP      string `json:"otp" binding:"required"`
}

func (s *Server) startRide(c *gin.Context) {
	var body startRideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	err := s.rides.Start(c.Request.Context(), types.ID(c.Param("id")), types.ID(body.DriverID), body.OTP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) completeRide(c *gin.Context) {
	var body driverActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	err := s.rides.Complete(c.Request.Context(), types.ID(c.Param("id")), types.ID(body.DriverID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type cancelRideBody struct {
	ActorType string `json:"actor_type" binding:"required,oneof=rider driver system"`
	ActorID   string `json:"actor_id" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) cancelRide(c *gin.Context) {
	var body cancelRideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	err := s.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:    types.ID(c.Param("id")),
		ActorType: body.ActorType,
		ActorID:   types.ID(body.ActorID),
		Reason:    body.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type rideLocationBody struct {
	DriverID string   `json:"driver_id" binding:"required"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Heading  *float64 `json:"heading"`
}

func (s *Server) rideLocation(c *gin.Context) {
	var body rideLocationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBindError(c, err)
		return
	}
	err := s.rides.RecordDriverLocation(
		c.Request.Context(),
		types.ID(c.Param("id")),
		types.ID(body.DriverID),
		types.Point{Lat: body.Lat, Lng: body.Lng},
		body.Heading,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// nearbyRides is the pull side for drivers browsing open requests.
func (s *Server) nearbyRides(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		c.JSON(http.StatusBadRequest, apiError{Code: "bad_request", Message: "lat and lng query params are required"})
		return
	}
	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius_m", "0"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	rides, err := s.matcher.NearbyRequested(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]rideView, len(rides))
	for i, r := range rides {
		out[i] = toRideView(r)
	}
	c.JSON(http.StatusOK, gin.H{"rides": out})
}
