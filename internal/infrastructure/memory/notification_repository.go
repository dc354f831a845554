package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"

	"github.com/google/uuid"
)

// notificationRepository keeps records in process memory.
// Suitable for development and tests.
type notificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*entity.Notification
	// channel/messageId -> record id
	messageIndex map[string]string
}

// NewNotificationRepository creates a new in-memory notification repository
func NewNotificationRepository() repository.NotificationRepository {
	return &notificationRepository{
		notifications: make(map[string]*entity.Notification),
		messageIndex:  make(map[string]string),
	}
}

func messageKey(channel entity.Channel, messageID string) string {
	return string(channel) + "/" + messageID
}

func (r *notificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if _, exists := r.notifications[notification.ID]; exists {
		return fmt.Errorf("failed to create notification: id %s already exists", notification.ID)
	}
	if notification.Status == "" {
		notification.Status = entity.NotificationStatusPending
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	notification.UpdatedAt = notification.CreatedAt

	if id := notification.ProviderMessageID(); id != "" {
		if _, taken := r.messageIndex[messageKey(notification.Channel, id)]; taken {
			return fmt.Errorf("failed to create notification: %w", entity.ErrDuplicateMessageID)
		}
		r.messageIndex[messageKey(notification.Channel, id)] = notification.ID
	}

	r.notifications[notification.ID] = notification.Clone()
	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}
	return n.Clone(), nil
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, update entity.StatusUpdate) (*entity.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}

	next := current.Clone()
	if err := entity.ApplyStatus(next, update); err != nil {
		return nil, err
	}

	oldMsg, newMsg := current.ProviderMessageID(), next.ProviderMessageID()
	if newMsg != oldMsg {
		key := messageKey(next.Channel, newMsg)
		if owner, taken := r.messageIndex[key]; taken && owner != id {
			return nil, fmt.Errorf("failed to update notification status: %w", entity.ErrDuplicateMessageID)
		}
		if oldMsg != "" {
			delete(r.messageIndex, messageKey(current.Channel, oldMsg))
		}
		if newMsg != "" {
			r.messageIndex[key] = id
		}
	}

	r.notifications[id] = next
	return next.Clone(), nil
}

func (r *notificationRepository) FindByProviderMessageID(ctx context.Context, channel entity.Channel, messageID string) (*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.messageIndex[messageKey(channel, messageID)]
	if !ok {
		return nil, fmt.Errorf("%s message %s: %w", channel, messageID, entity.ErrNotFound)
	}
	return r.notifications[id].Clone(), nil
}

func (r *notificationRepository) ListByOwner(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) ([]*entity.Notification, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*entity.Notification
	for _, n := range r.notifications {
		if n.OwnerID != ownerID {
			continue
		}
		if filter.Channel != "" && n.Channel != filter.Channel {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		matched = append(matched, n)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := repository.Offset(page, limit)
	if start >= len(matched) {
		return []*entity.Notification{}, total, nil
	}
	end := start + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	items := make([]*entity.Notification, 0, end-start)
	for _, n := range matched[start:end] {
		items = append(items, n.Clone())
	}
	return items, total, nil
}

func (r *notificationRepository) AggregateStats(ctx context.Context, ownerID string, since time.Time) (*entity.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &entity.Stats{
		ByStatus:  make(map[entity.NotificationStatus]int64),
		ByChannel: make(map[entity.Channel]int64),
		ByDay:     make(map[string]int64),
	}
	for _, n := range r.notifications {
		if n.OwnerID != ownerID {
			continue
		}
		stats.ByStatus[n.Status]++
		stats.ByChannel[n.Channel]++
		if !n.CreatedAt.Before(since) {
			stats.ByDay[entity.DayKey(n.CreatedAt)]++
		}
	}
	return stats, nil
}

func (r *notificationRepository) Delete(ctx context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok || n.OwnerID != ownerID {
		return fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}
	r.remove(n)
	return nil
}

func (r *notificationRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, n := range r.notifications {
		if n.OwnerID == ownerID {
			r.remove(n)
			deleted++
		}
	}
	return deleted, nil
}

func (r *notificationRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*entity.Notification
	for _, n := range r.notifications {
		if n.Status == entity.NotificationStatusPending && n.CreatedAt.Before(before) {
			stale = append(stale, n.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// remove must be called with r.mu held
func (r *notificationRepository) remove(n *entity.Notification) {
	if id := n.ProviderMessageID(); id != "" {
		delete(r.messageIndex, messageKey(n.Channel, id))
	}
	delete(r.notifications, n.ID)
}
