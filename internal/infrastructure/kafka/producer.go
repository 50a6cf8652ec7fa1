package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/event"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
}

// Producer publishes issue lifecycle events. Consumers are operational
// tooling; the publish and delivery paths never depend on these messages.
type Producer struct {
	writer   *kafka.Writer
	producer string
}

func NewProducer(cfg Config, producerName string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w, producer: producerName}
}

// Publish wraps a payload in the standard envelope keyed by the issue id, so
// events for one issue land on one partition.
func (p *Producer) Publish(ctx context.Context, eventType, issueID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	msg := event.Message{
		ID:         uuid.New().String(),
		Type:       eventType,
		Producer:   p.producer,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(issueID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
