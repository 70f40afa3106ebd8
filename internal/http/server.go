// Package http carries the REST and WebSocket surface for riders and
// drivers.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swiftride/internal/dispatch"
	"swiftride/internal/ingest"
	"swiftride/internal/modules/driver"
	"swiftride/internal/modules/matching"
	"swiftride/internal/modules/ride"
)

// locationPublisher is the Kafka side of the heartbeat path. Optional: when
// nil, heartbeats are applied synchronously.
type locationPublisher interface {
	Publish(ctx context.Context, m ingest.LocationMessage) error
}

type Server struct {
	rides     *ride.Service
	drivers   *driver.Service
	matcher   *matching.Service
	registry  *dispatch.WSRegistry
	publisher locationPublisher
	logger    *slog.Logger
}

func NewServer(rides *ride.Service, drivers *driver.Service, matcher *matching.Service, registry *dispatch.WSRegistry, publisher *ingest.Producer, logger *slog.Logger) *Server {
	s := &Server{
		rides:    rides,
		drivers:  drivers,
		matcher:  matcher,
		registry: registry,
		logger:   logger,
	}
	if publisher != nil {
		s.publisher = publisher
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger), httpMetrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ws_sessions": s.registry.Sessions()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/rides", s.createRide)
		api.GET("/rides/nearby", s.nearbyRides)
		api.GET("/rides/:id", s.getRide)
		api.GET("/rides/:id/tracking", s.trackRide)
		api.POST("/rides/:id/accept", s.acceptRide)
		api.POST("/rides/:id/decline", s.declineRide)
		api.POST("/rides/:id/enroute", s.enRoute)
		api.POST("/rides/:id/arrived", s.arrived)
		api.POST("/rides/:id/start", s.startRide)
		api.POST("/rides/:id/complete", s.completeRide)
		api.POST("/rides/:id/cancel", s.cancelRide)
		api.POST("/rides/:id/location", s.rideLocation)

		api.POST("/drivers", s.onboardDriver)
		api.GET("/drivers/:id", s.getDriver)
		api.POST("/drivers/:id/presence", s.setPresence)
		api.POST("/drivers/:id/location", s.driverLocation)
	}

	r.GET("/ws/drivers/:id", s.driverSocket)
	r.GET("/ws/riders/:id", s.riderSocket)

	return r
}
