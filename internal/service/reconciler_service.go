package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/service"

	"github.com/rs/zerolog"
)

// providerStatuses maps provider vocabularies (Twilio, Postmark, FCM and the
// generic webhook) onto the internal lifecycle
var providerStatuses = map[string]entity.NotificationStatus{
	"delivered": entity.NotificationStatusDelivered,
	"delivery":  entity.NotificationStatusDelivered,
	"read":      entity.NotificationStatusDelivered,
	"open":      entity.NotificationStatusDelivered,

	"sent":      entity.NotificationStatusSent,
	"queued":    entity.NotificationStatusSent,
	"accepted":  entity.NotificationStatusSent,
	"sending":   entity.NotificationStatusSent,
	"scheduled": entity.NotificationStatusSent,

	"failed":        entity.NotificationStatusFailed,
	"undelivered":   entity.NotificationStatusFailed,
	"bounced":       entity.NotificationStatusFailed,
	"bounce":        entity.NotificationStatusFailed,
	"spamcomplaint": entity.NotificationStatusFailed,
	"canceled":      entity.NotificationStatusFailed,
}

// MapProviderStatus translates a raw provider status into a lifecycle status
func MapProviderStatus(raw string) (entity.NotificationStatus, bool) {
	s, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

type reconcilerService struct {
	repo   repository.NotificationRepository
	status *statusRecorder
	log    zerolog.Logger
}

// NewReconcilerService creates a new delivery reconciler
func NewReconcilerService(
	repo repository.NotificationRepository,
	publisher service.EventPublisher,
	log zerolog.Logger,
) service.ReconcilerService {
	return &reconcilerService{
		repo:   repo,
		status: newStatusRecorder(repo, publisher, log),
		log:    log,
	}
}

func (s *reconcilerService) Reconcile(ctx context.Context, cb entity.DeliveryCallback) (entity.ReconcileOutcome, error) {
	cb.ProviderMessageID = strings.TrimSpace(cb.ProviderMessageID)
	if cb.ProviderMessageID == "" {
		return "", entity.NewValidationError("providerMessageId", "provider message id is required")
	}
	if !cb.Channel.Valid() {
		return "", entity.NewValidationError("channel", fmt.Sprintf("unsupported channel %q", cb.Channel))
	}

	log := s.log.With().
		Str("channel", string(cb.Channel)).
		Str("message_id", cb.ProviderMessageID).
		Str("provider_status", cb.ProviderStatus).
		Logger()

	n, err := s.repo.FindByProviderMessageID(ctx, cb.Channel, cb.ProviderMessageID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			log.Warn().Msg("delivery callback for unknown message")
			return entity.OutcomeNotFound, nil
		}
		return "", fmt.Errorf("failed to look up notification: %w: %w", entity.ErrStoreUnavailable, err)
	}
	log = log.With().Str("notification_id", n.ID).Logger()

	target, ok := MapProviderStatus(cb.ProviderStatus)
	if !ok {
		log.Warn().Msg("unrecognized provider status ignored")
		return entity.OutcomeIgnored, nil
	}

	if !n.Status.CanTransitionTo(target) {
		log.Debug().
			Str("current", string(n.Status)).
			Str("target", string(target)).
			Msg("stale delivery callback ignored")
		return entity.OutcomeIgnored, nil
	}

	update := entity.StatusUpdate{
		Status:   target,
		Metadata: map[string]any{entity.MetadataProviderStatus: cb.ProviderStatus},
	}
	if target == entity.NotificationStatusFailed {
		update.FailureReason = failureReason(cb)
		if cb.ErrorCode != "" {
			update.Metadata[entity.MetadataProviderError] = cb.ErrorCode
		}
	}

	if _, err := s.status.apply(ctx, n, update); err != nil {
		switch {
		case errors.Is(err, entity.ErrInvalidTransition):
			// Another writer moved the record first
			log.Debug().Err(err).Msg("delivery callback lost a concurrent update")
			return entity.OutcomeIgnored, nil
		case errors.Is(err, entity.ErrNotFound):
			log.Warn().Msg("notification deleted before delivery callback was applied")
			return entity.OutcomeNotFound, nil
		}
		return "", fmt.Errorf("failed to apply delivery callback: %w: %w", entity.ErrStoreUnavailable, err)
	}

	log.Info().Str("status", string(target)).Msg("delivery callback applied")
	return entity.OutcomeApplied, nil
}

func failureReason(cb entity.DeliveryCallback) string {
	switch {
	case cb.ErrorMessage != "" && cb.ErrorCode != "":
		return fmt.Sprintf("%s (code %s)", cb.ErrorMessage, cb.ErrorCode)
	case cb.ErrorMessage != "":
		return cb.ErrorMessage
	case cb.ErrorCode != "":
		return fmt.Sprintf("provider reported %s (code %s)", strings.ToLower(cb.ProviderStatus), cb.ErrorCode)
	}
	return fmt.Sprintf("provider reported %s", strings.ToLower(cb.ProviderStatus))
}
