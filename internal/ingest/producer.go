package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer publishes location heartbeats. Safe for concurrent use.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // key by driver, keep per-driver order
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, m LocationMessage) error {
	payload, err := m.Marshal()
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.DriverID),
		Value: payload,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
