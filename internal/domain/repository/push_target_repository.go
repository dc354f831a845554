package repository

import "context"

// PushTargetRepository stores the set of push device tokens of each user.
// Add and Remove must be atomic per user so a concurrent registration is
// never lost while invalid tokens are being removed.
type PushTargetRepository interface {
	// Add inserts token into the user's set. Adding an existing token is a no-op.
	Add(ctx context.Context, userID, token string) error

	// Remove deletes tokens from the user's set as one set difference.
	// Absent tokens are ignored.
	Remove(ctx context.Context, userID string, tokens ...string) error

	// List returns the user's tokens. An empty result is not an error.
	List(ctx context.Context, userID string) ([]string, error)
}
