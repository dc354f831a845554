package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/service"

	"github.com/rs/zerolog"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	statsDays = 7

	// FailureReasonInterrupted is recorded on pending records failed by the sweeper
	FailureReasonInterrupted = "dispatch interrupted"
)

// NotificationConfig tunes the housekeeping side of the service
type NotificationConfig struct {
	// PendingTimeout is how long a record may stay pending before it is failed
	PendingTimeout time.Duration
	// SweepBatch bounds the records failed per sweep
	SweepBatch int
}

type notificationService struct {
	repo   repository.NotificationRepository
	status *statusRecorder
	cfg    NotificationConfig
	log    zerolog.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	repo repository.NotificationRepository,
	publisher service.EventPublisher,
	cfg NotificationConfig,
	log zerolog.Logger,
) service.NotificationService {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 10 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &notificationService{
		repo:   repo,
		status: newStatusRecorder(repo, publisher, log),
		cfg:    cfg,
		log:    log,
	}
}

func (s *notificationService) List(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) (*entity.Page, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, entity.NewValidationError("owner_id", "owner id is required")
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		return nil, entity.NewValidationError("type", fmt.Sprintf("unsupported channel %q", filter.Channel))
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, entity.NewValidationError("status", fmt.Sprintf("unsupported status %q", filter.Status))
	}

	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	items, total, err := s.repo.ListByOwner(ctx, ownerID, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w: %w", entity.ErrStoreUnavailable, err)
	}
	if items == nil {
		items = []*entity.Notification{}
	}

	return &entity.Page{
		Items: items,
		Total: total,
		Page:  page,
		Pages: int((total + int64(limit) - 1) / int64(limit)),
		Limit: limit,
	}, nil
}

// MarkRead marks the owner's notification as read. Reading a sent record
// implies it was delivered, so it walks through delivered first.
func (s *notificationService) MarkRead(ctx context.Context, ownerID, id string) (*entity.Notification, error) {
	n, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	switch n.Status {
	case entity.NotificationStatusRead:
		return n, nil
	case entity.NotificationStatusSent:
		n, err = s.status.apply(ctx, n, entity.StatusUpdate{Status: entity.NotificationStatusDelivered})
		if err != nil {
			return nil, s.wrapUpdateErr(err)
		}
	case entity.NotificationStatusDelivered:
	default:
		return nil, &entity.TransitionError{From: n.Status, To: entity.NotificationStatusRead}
	}

	n, err = s.status.apply(ctx, n, entity.StatusUpdate{Status: entity.NotificationStatusRead})
	if err != nil {
		return nil, s.wrapUpdateErr(err)
	}
	return n, nil
}

func (s *notificationService) Delete(ctx context.Context, ownerID, id string) error {
	if strings.TrimSpace(ownerID) == "" {
		return entity.NewValidationError("owner_id", "owner id is required")
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete notification: %w: %w", entity.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *notificationService) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, entity.NewValidationError("owner_id", "owner id is required")
	}
	deleted, err := s.repo.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w: %w", entity.ErrStoreUnavailable, err)
	}
	s.log.Info().Str("owner_id", ownerID).Int64("deleted", deleted).Msg("notifications purged")
	return deleted, nil
}

func (s *notificationService) Stats(ctx context.Context, ownerID string) (*entity.StatsReport, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, entity.NewValidationError("owner_id", "owner id is required")
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(statsDays - 1))

	stats, err := s.repo.AggregateStats(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notifications: %w: %w", entity.ErrStoreUnavailable, err)
	}

	report := &entity.StatsReport{
		ByStatus:  make(map[entity.NotificationStatus]int64, len(entity.Statuses)),
		ByChannel: make(map[entity.Channel]int64, len(entity.Channels)),
		ByDay:     make([]entity.DayCount, 0, statsDays),
	}
	for _, st := range entity.Statuses {
		report.ByStatus[st] = stats.ByStatus[st]
	}
	for _, c := range entity.Channels {
		report.ByChannel[c] = stats.ByChannel[c]
	}
	for i := 0; i < statsDays; i++ {
		day := entity.DayKey(since.AddDate(0, 0, i))
		report.ByDay = append(report.ByDay, entity.DayCount{Date: day, Count: stats.ByDay[day]})
	}

	return report, nil
}

func (s *notificationService) FailStalePending(ctx context.Context) (int, error) {
	before := time.Now().Add(-s.cfg.PendingTimeout)

	stale, err := s.repo.ListStalePending(ctx, before, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale notifications: %w: %w", entity.ErrStoreUnavailable, err)
	}

	failed := 0
	for _, n := range stale {
		_, err := s.status.apply(ctx, n, entity.StatusUpdate{
			Status:        entity.NotificationStatusFailed,
			FailureReason: FailureReasonInterrupted,
			Metadata:      map[string]any{entity.MetadataErrorKind: string(entity.ErrorKindUnknown)},
		})
		switch {
		case err == nil:
			failed++
		case errors.Is(err, entity.ErrInvalidTransition), errors.Is(err, entity.ErrNotFound):
			// resolved concurrently
		default:
			return failed, fmt.Errorf("failed to fail stale notification %s: %w", n.ID, err)
		}
	}

	if failed > 0 {
		s.log.Warn().Int("count", failed).Dur("timeout", s.cfg.PendingTimeout).Msg("failed stale pending notifications")
	}
	return failed, nil
}

// owned loads a record and hides records belonging to other owners
func (s *notificationService) owned(ctx context.Context, ownerID, id string) (*entity.Notification, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, entity.NewValidationError("owner_id", "owner id is required")
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get notification: %w: %w", entity.ErrStoreUnavailable, err)
	}
	if n.OwnerID != ownerID {
		return nil, fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}
	return n, nil
}

func (s *notificationService) wrapUpdateErr(err error) error {
	if errors.Is(err, entity.ErrInvalidTransition) || errors.Is(err, entity.ErrNotFound) {
		return err
	}
	return fmt.Errorf("failed to update notification: %w: %w", entity.ErrStoreUnavailable, err)
}
