package memory

import (
	"context"
	"sort"
	"sync"

	"notify-service/internal/domain/repository"
)

type pushTargetRepository struct {
	mu      sync.Mutex
	targets map[string]map[string]struct{}
}

// NewPushTargetRepository creates a new in-memory push target repository
func NewPushTargetRepository() repository.PushTargetRepository {
	return &pushTargetRepository{
		targets: make(map[string]map[string]struct{}),
	}
}

func (r *pushTargetRepository) Add(ctx context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.targets[userID]
	if !ok {
		set = make(map[string]struct{})
		r.targets[userID] = set
	}
	set[token] = struct{}{}
	return nil
}

func (r *pushTargetRepository) Remove(ctx context.Context, userID string, tokens ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.targets[userID]
	if !ok {
		return nil
	}
	for _, t := range tokens {
		delete(set, t)
	}
	if len(set) == 0 {
		delete(r.targets, userID)
	}
	return nil
}

func (r *pushTargetRepository) List(ctx context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := make([]string, 0, len(r.targets[userID]))
	for t := range r.targets[userID] {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens, nil
}
