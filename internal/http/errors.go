package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"swiftride/internal/modules/driver"
	"swiftride/internal/modules/matching"
	"swiftride/internal/modules/ride"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapping pairs a domain sentinel with its HTTP representation. First match
// wins, so more specific errors come first.
var errorMap = []struct {
	err    error
	status int
	code   string
}{
	{ride.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{driver.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ride.ErrNotFound, http.StatusNotFound, "ride_not_found"},
	{driver.ErrNotFound, http.StatusNotFound, "driver_not_found"},
	{ride.ErrActiveRide, http.StatusConflict, "active_ride_exists"},
	{matching.ErrRideTaken, http.StatusConflict, "ride_taken"},
	{ride.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{ride.ErrConflict, http.StatusConflict, "conflict"},
	{ride.ErrRideNotActive, http.StatusConflict, "ride_not_active"},
	{ride.ErrUnauthorizedDriver, http.StatusForbidden, "not_assigned_driver"},
	{driver.ErrAlreadyReserved, http.StatusConflict, "driver_busy"},
	{driver.ErrNotAvailable, http.StatusConflict, "driver_not_available"},
	{ride.ErrDriverNotAvailable, http.StatusConflict, "driver_not_available"},
	{driver.ErrStale, http.StatusConflict, "stale_location"},
	{ride.ErrWrongOTP, http.StatusUnprocessableEntity, "wrong_otp"},
	{matching.ErrDriverTooFar, http.StatusUnprocessableEntity, "driver_too_far"},
	{ride.ErrRoutingFailed, http.StatusBadGateway, "routing_unavailable"},
	{matching.ErrNoDriversAvailable, http.StatusServiceUnavailable, "no_drivers_available"},
}

func writeError(c *gin.Context, err error) {
	for _, m := range errorMap {
		if errors.Is(err, m.err) {
			c.JSON(m.status, apiError{Code: m.code, Message: err.Error()})
			return
		}
	}
	// Unknown errors stay opaque to the client.
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, apiError{Code: "internal", Message: "internal server error"})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, apiError{Code: "bad_request", Message: err.Error()})
}
