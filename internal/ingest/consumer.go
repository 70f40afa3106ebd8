package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"swiftride/internal/modules/driver"
)

// applier is what the consumer drives; *driver.Service satisfies it.
type applier interface {
	UpdateLocation(ctx context.Context, u driver.LocationUpdate) error
}

// Consumer reads the location topic in a consumer group and applies each
// heartbeat to the driver directory. Offsets are committed only after a
// message is applied or classified as a permanent reject.
type Consumer struct {
	reader  *kafka.Reader
	drivers applier
	logger  *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, drivers *driver.Service, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: 0, // explicit commits
			MaxWait:        500 * time.Millisecond,
		}),
		drivers: drivers,
		logger:  logger,
	}
}

func newConsumerWith(reader *kafka.Reader, drivers applier, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, drivers: drivers, logger: logger}
}

// Run blocks until ctx is cancelled or the reader fails fatally.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if err := c.apply(ctx, msg.Value); err != nil {
			// Transient store failure: leave the offset uncommitted so the
			// message is retried after a rebalance.
			c.logger.Error("apply heartbeat failed", "offset", msg.Offset, "error", err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// apply decodes and applies one heartbeat. Malformed payloads, unknown
// drivers, and stale timestamps are permanent rejects: logged and dropped.
func (c *Consumer) apply(ctx context.Context, payload []byte) error {
	m, err := UnmarshalLocation(payload)
	if err != nil {
		c.logger.Warn("malformed heartbeat dropped", "error", err)
		return nil
	}
	err = c.drivers.UpdateLocation(ctx, driver.LocationUpdate{
		DriverID:   m.DriverID,
		Position:   m.Position,
		Heading:    m.Heading,
		RecordedAt: m.RecordedAt,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrStale):
		return nil // out-of-order heartbeat, already counted
	case errors.Is(err, driver.ErrNotFound):
		c.logger.Warn("heartbeat for unknown driver dropped", "driver_id", m.DriverID)
		return nil
	default:
		return err
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
