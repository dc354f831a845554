package service

import (
	"context"

	"notify-service/internal/domain/entity"
)

// ChannelAdapter translates a uniform send into one provider's API.
// Expected provider failures come back as a failed SendResult, not a panic
// or an error, so the engine can always record a terminal status.
type ChannelAdapter interface {
	// Channel returns the channel served by the adapter
	Channel() entity.Channel

	// Send delivers title and body to dest
	Send(ctx context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult
}

// TokenValidator is implemented by push adapters able to dry-run a token
type TokenValidator interface {
	// ValidateToken reports the error kind a send to token would produce
	ValidateToken(ctx context.Context, token string) (entity.ErrorKind, error)
}

// TemplateRenderer renders named email templates
type TemplateRenderer interface {
	// Render returns the subject and HTML body of template name
	Render(name string, vars map[string]any) (subject, body string, err error)
}

// UserDirectory resolves users owned by another service
type UserDirectory interface {
	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, id string) (*entity.User, error)

	// UpdateUser applies a partial update to a user
	UpdateUser(ctx context.Context, id string, fields map[string]any) error
}

// EventPublisher publishes notification lifecycle events
type EventPublisher interface {
	// PublishStatusChanged publishes a status change
	PublishStatusChanged(ctx context.Context, event entity.StatusChangedEvent) error
}
