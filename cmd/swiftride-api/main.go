// swiftride-api is the rider/driver facing service: REST plus WebSocket on
// one port, with matching, pricing, and the ride lifecycle behind it.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"swiftride/internal/config"
	"swiftride/internal/dispatch"
	"swiftride/internal/geo"
	api "swiftride/internal/http"
	"swiftride/internal/infra"
	"swiftride/internal/ingest"
	"swiftride/internal/logging"
	"swiftride/internal/modules/driver"
	"swiftride/internal/modules/matching"
	"swiftride/internal/modules/pricing"
	ridemod "swiftride/internal/modules/ride"
	"swiftride/internal/payments"
	"swiftride/internal/routing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("error").Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var index geo.Index
	if rdb := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password); rdb.Ping(ctx).Err() == nil {
		index = geo.NewRedisIndex(rdb, cfg.Redis.GeoKey)
		defer rdb.Close()
	} else {
		logger.Warn("redis unreachable, using in-memory geo index")
		index = geo.NewMemoryIndex()
	}

	var router routing.Service
	if cfg.Maps.APIKey != "" {
		router, err = routing.NewGoogleRouter(cfg.Maps.APIKey)
		if err != nil {
			logger.Error("maps client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no maps api key, using haversine routing")
		router = &routing.HaversineRouter{}
	}

	var gateway ridemod.Payments
	if cfg.Stripe.APIKey != "" {
		gateway = payments.NewStripeGateway(cfg.Stripe.APIKey, logger)
	}

	var producer *ingest.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = ingest.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
	}

	registry := dispatch.NewWSRegistry()
	estimator := pricing.NewEstimator(cfg.Pricing)

	driverSvc := driver.NewService(driver.NewStore(pool), index, logger)
	rideStore := ridemod.NewStore(pool)
	rideSvc := ridemod.NewService(rideStore, router, estimator, registry, gateway, logger)
	matcher := matching.NewService(index, driverSvc, rideStore, registry, cfg.Matching, logger)

	server := api.NewServer(rideSvc, driverSvc, matcher, registry, producer, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "strategy", cfg.Matching.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
