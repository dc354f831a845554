package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// defaultFetchBackoff spaces out fetch attempts while the broker is failing
const defaultFetchBackoff = time.Second

// ReceiptConsumer feeds delivery receipts from Kafka into the reconciler
type ReceiptConsumer struct {
	reader     MessageReader
	reconciler service.ReconcilerService
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewReceiptConsumer creates a new Kafka consumer on the receipts topic
func NewReceiptConsumer(cfg *config.KafkaConfig, reconciler service.ReconcilerService, log zerolog.Logger) *ReceiptConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.ReceiptsTopic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})

	return NewReceiptConsumerWithReader(reader, reconciler, cfg.MaxRetries, cfg.RetryBackoff, log)
}

// NewReceiptConsumerWithReader creates a consumer reading from r
func NewReceiptConsumerWithReader(
	r MessageReader,
	reconciler service.ReconcilerService,
	maxRetries int,
	backoff time.Duration,
	log zerolog.Logger,
) *ReceiptConsumer {
	return &ReceiptConsumer{
		reader:     r,
		reconciler: reconciler,
		maxRetries: max(maxRetries, 0),
		backoff:    backoff,
		log:        log,
	}
}

// Start consumes messages until ctx is cancelled. Offsets are committed only
// after a receipt was handled or given up on.
func (c *ReceiptConsumer) Start(ctx context.Context) error {
	c.log.Info().Msg("starting kafka receipt consumer")

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("stopping kafka receipt consumer")
				return nil
			}
			c.log.Error().Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
				c.log.Info().Msg("stopping kafka receipt consumer")
				return nil
			case <-time.After(c.fetchBackoff()):
			}
			continue
		}

		c.handleWithRetry(ctx, message)

		if err := c.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", message.Offset).Msg("failed to commit message")
		}
	}
}

func (c *ReceiptConsumer) fetchBackoff() time.Duration {
	if c.backoff > 0 {
		return c.backoff
	}
	return defaultFetchBackoff
}

func (c *ReceiptConsumer) handleWithRetry(ctx context.Context, message kafka.Message) {
	log := c.log.With().Int("partition", message.Partition).Int64("offset", message.Offset).Logger()

	for attempt := 0; ; attempt++ {
		err := c.HandleMessage(ctx, message)
		if err == nil {
			return
		}

		if !errors.Is(err, entity.ErrStoreUnavailable) || attempt >= c.maxRetries {
			log.Error().Err(err).Int("attempt", attempt+1).Msg("dropping delivery receipt")
			return
		}

		log.Warn().Err(err).Int("attempt", attempt+1).Msg("retrying delivery receipt")
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

// HandleMessage decodes one receipt and reconciles it. Unknown messages and
// stale receipts are acknowledged.
func (c *ReceiptConsumer) HandleMessage(ctx context.Context, message kafka.Message) error {
	var cb entity.DeliveryCallback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		return fmt.Errorf("failed to unmarshal delivery receipt: %w", err)
	}

	outcome, err := c.reconciler.Reconcile(ctx, cb)
	if err != nil {
		return fmt.Errorf("failed to reconcile delivery receipt: %w", err)
	}

	event := c.log.Debug()
	if outcome != entity.OutcomeApplied {
		event = c.log.Warn()
	}
	event.Str("message_id", cb.ProviderMessageID).
		Str("channel", string(cb.Channel)).
		Str("outcome", string(outcome)).
		Msg("delivery receipt processed")

	return nil
}

// Close closes the Kafka consumer
func (c *ReceiptConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
