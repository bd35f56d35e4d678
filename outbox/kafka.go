package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes events to one topic, hashing on the aggregate key so
// every event of a request lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("outbox: kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Topic() string { return p.writer.Topic }

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher drops events after logging them; used when no broker is configured.
type LogPublisher struct {
	Log func(msg string, args ...any)
}

func (p LogPublisher) Publish(_ context.Context, key, value []byte) error {
	if p.Log != nil {
		p.Log("outbox event", "key", string(key), "bytes", len(value))
	}
	return nil
}
