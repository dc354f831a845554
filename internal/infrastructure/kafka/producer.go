package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes notification lifecycle events
type Producer struct {
	writer MessageWriter
}

var _ service.EventPublisher = (*Producer)(nil)

// NewProducer creates a new Kafka producer on the events topic
func NewProducer(cfg *config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	return NewProducerWithWriter(writer)
}

// NewProducerWithWriter creates a producer writing through w
func NewProducerWithWriter(w MessageWriter) *Producer {
	return &Producer{writer: w}
}

// PublishStatusChanged publishes a status change keyed by notification id so
// events of one record stay ordered within a partition
func (p *Producer) PublishStatusChanged(ctx context.Context, event entity.StatusChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.NotificationID),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("notification.status_changed")},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish status changed event: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
