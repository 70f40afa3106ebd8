// locationd drains the driver-locations topic and applies heartbeats to the
// driver directory and geo index. Runs alongside swiftride-api; scale by
// adding instances to the consumer group.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"swiftride/internal/config"
	"swiftride/internal/geo"
	"swiftride/internal/infra"
	"swiftride/internal/ingest"
	"swiftride/internal/logging"
	"swiftride/internal/modules/driver"
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

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Error("SWIFTRIDE_KAFKA_BROKERS is required for locationd")
		os.Exit(1)
	}

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

	drivers := driver.NewService(driver.NewStore(pool), index, logger)
	consumer := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, drivers, logger)
	defer consumer.Close()

	logger.Info("consuming", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
