package redis

import (
	"context"
	"fmt"
	"sort"

	"notify-service/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// pushTargetRepository keeps each user's tokens in a set at <prefix>user:<id>:push_targets
type pushTargetRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewPushTargetRepository creates a Redis-backed push target repository
func NewPushTargetRepository(client redis.UniversalClient, keyPrefix string) repository.PushTargetRepository {
	return &pushTargetRepository{
		client: client,
		prefix: keyPrefix,
	}
}

// targetsKey generates Redis key for a user's push target set
func (r *pushTargetRepository) targetsKey(userID string) string {
	return fmt.Sprintf("%suser:%s:push_targets", r.prefix, userID)
}

func (r *pushTargetRepository) Add(ctx context.Context, userID, token string) error {
	if err := r.client.SAdd(ctx, r.targetsKey(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to add push target: %w", err)
	}
	return nil
}

func (r *pushTargetRepository) Remove(ctx context.Context, userID string, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}

	members := make([]any, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}

	if err := r.client.SRem(ctx, r.targetsKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("failed to remove push targets: %w", err)
	}
	return nil
}

func (r *pushTargetRepository) List(ctx context.Context, userID string) ([]string, error) {
	tokens, err := r.client.SMembers(ctx, r.targetsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list push targets: %w", err)
	}
	sort.Strings(tokens)
	return tokens, nil
}
