package repository

import (
	"context"
	"time"

	"notify-service/internal/domain/entity"
)

// NotificationRepository defines the interface for notification persistence
type NotificationRepository interface {
	// Create creates a new notification record, assigning ID and timestamps
	Create(ctx context.Context, notification *entity.Notification) error

	// GetByID retrieves a notification by ID
	GetByID(ctx context.Context, id string) (*entity.Notification, error)

	// UpdateStatus applies a status transition to the record with the given ID.
	// The write only happens when the stored status is a legal predecessor of
	// update.Status; otherwise it fails with entity.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, update entity.StatusUpdate) (*entity.Notification, error)

	// FindByProviderMessageID looks a record up by its reserved messageId metadata
	FindByProviderMessageID(ctx context.Context, channel entity.Channel, messageID string) (*entity.Notification, error)

	// ListByOwner returns one page of an owner's notifications, newest first, and the total count
	ListByOwner(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) ([]*entity.Notification, int64, error)

	// AggregateStats groups an owner's notifications by status, channel and by day since the given time
	AggregateStats(ctx context.Context, ownerID string, since time.Time) (*entity.Stats, error)

	// Delete removes a single notification owned by ownerID
	Delete(ctx context.Context, ownerID, id string) error

	// DeleteByOwner removes all notifications of an owner
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)

	// ListStalePending retrieves pending notifications created before the given time
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.Notification, error)
}

// Offset converts a 1-indexed page into a row offset
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
