package service

import (
	"context"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/service"

	"github.com/rs/zerolog"
)

// statusRecorder persists status transitions by record id and announces them.
// Every write path (dispatch, reconciliation, mark-read, sweeper) goes through it.
type statusRecorder struct {
	repo      repository.NotificationRepository
	publisher service.EventPublisher
	log       zerolog.Logger
}

func newStatusRecorder(repo repository.NotificationRepository, publisher service.EventPublisher, log zerolog.Logger) *statusRecorder {
	if publisher == nil {
		publisher = NopEventPublisher{}
	}
	return &statusRecorder{repo: repo, publisher: publisher, log: log}
}

func (r *statusRecorder) apply(ctx context.Context, n *entity.Notification, update entity.StatusUpdate) (*entity.Notification, error) {
	if update.At.IsZero() {
		update.At = time.Now()
	}

	updated, err := r.repo.UpdateStatus(ctx, n.ID, update)
	if err != nil {
		return nil, err
	}

	event := entity.StatusChangedEvent{
		NotificationID:    updated.ID,
		OwnerID:           updated.OwnerID,
		Channel:           updated.Channel,
		From:              n.Status,
		To:                updated.Status,
		ProviderMessageID: updated.ProviderMessageID(),
		OccurredAt:        update.At,
	}
	if err := r.publisher.PublishStatusChanged(ctx, event); err != nil {
		r.log.Warn().Err(err).
			Str("notification_id", updated.ID).
			Str("status", string(updated.Status)).
			Msg("failed to publish status change")
	}

	return updated, nil
}

// NopEventPublisher discards every event
type NopEventPublisher struct{}

func (NopEventPublisher) PublishStatusChanged(context.Context, entity.StatusChangedEvent) error {
	return nil
}
