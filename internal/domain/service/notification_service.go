package service

import (
	"context"

	"notify-service/internal/domain/entity"
)

// DispatchService is the single entry point used by every send path
type DispatchService interface {
	// Dispatch validates, records and sends a notification over req.Channel
	Dispatch(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error)

	// SendEmail dispatches an email notification
	SendEmail(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error)

	// SendSMS dispatches an SMS notification
	SendSMS(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error)

	// SendPush dispatches a push notification to a token, a user's targets or a topic
	SendPush(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error)
}

// ReconcilerService applies asynchronous provider status callbacks
type ReconcilerService interface {
	// Reconcile maps the callback status and updates the matching record
	Reconcile(ctx context.Context, callback entity.DeliveryCallback) (entity.ReconcileOutcome, error)
}

// TokenService manages the push targets of users
type TokenService interface {
	// AddTarget registers token for userID. Idempotent.
	AddTarget(ctx context.Context, userID, token string) error

	// RemoveTarget unregisters token for userID. Idempotent.
	RemoveTarget(ctx context.Context, userID, token string) error

	// PruneInvalid removes exactly the given tokens, leaving the others untouched
	PruneInvalid(ctx context.Context, userID string, invalidTokens []string) error

	// TargetsFor returns the user's current tokens
	TargetsFor(ctx context.Context, userID string) ([]string, error)
}

// NotificationService defines the read and housekeeping side of notification records
type NotificationService interface {
	// List retrieves one page of an owner's notifications
	List(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) (*entity.Page, error)

	// MarkRead marks a notification as read
	MarkRead(ctx context.Context, ownerID, id string) (*entity.Notification, error)

	// Delete removes one notification
	Delete(ctx context.Context, ownerID, id string) error

	// DeleteAll removes every notification of the owner
	DeleteAll(ctx context.Context, ownerID string) (int64, error)

	// Stats aggregates the owner's notifications
	Stats(ctx context.Context, ownerID string) (*entity.StatsReport, error)

	// FailStalePending fails pending records abandoned before a provider outcome was recorded
	FailStalePending(ctx context.Context) (int, error)
}
