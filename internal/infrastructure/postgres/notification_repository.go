package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	infradb "notify-service/internal/infrastructure/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, owner_id, channel, title, body, status, failure_reason, metadata,
	delivered_at, read_at, created_at, updated_at`

type notificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository creates a new PostgreSQL notification repository
func NewNotificationRepository(db *pgxpool.Pool) repository.NotificationRepository {
	return &notificationRepository{
		db: db,
	}
}

func (r *notificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, channel, title, body, status, failure_reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.Status == "" {
		notification.Status = entity.NotificationStatusPending
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	notification.UpdatedAt = notification.CreatedAt

	metadata := notification.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := r.db.Exec(ctx, query,
		notification.ID,
		notification.OwnerID,
		string(notification.Channel),
		notification.Title,
		notification.Body,
		string(notification.Status),
		notification.FailureReason,
		metadata,
		notification.CreatedAt,
		notification.UpdatedAt,
	)
	if err != nil {
		if infradb.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to create notification: %w", entity.ErrDuplicateMessageID)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	notification, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return notification, nil
}

// UpdateStatus applies the transition in one statement guarded by the set of
// legal predecessor statuses. When no row matches, the current row decides
// between not found and an invalid transition.
func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, update entity.StatusUpdate) (*entity.Notification, error) {
	query := `
		UPDATE notifications
		SET status = $2,
		    updated_at = $3,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN $3 ELSE delivered_at END,
		    read_at = CASE WHEN $2 = 'read' THEN $3 ELSE read_at END,
		    failure_reason = CASE WHEN $2 = 'failed' THEN $4 ELSE NULL END,
		    metadata = metadata || $5
		WHERE id = $1 AND status = ANY($6)
		RETURNING ` + notificationColumns

	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	predecessors := entity.Predecessors(update.Status)
	allowed := make([]string, 0, len(predecessors))
	for _, s := range predecessors {
		allowed = append(allowed, string(s))
	}

	notification, err := scanNotification(r.db.QueryRow(ctx, query,
		id, string(update.Status), at, update.FailureReason, metadata, allowed))
	if err == nil {
		return notification, nil
	}
	if infradb.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("failed to update notification status: %w", entity.ErrDuplicateMessageID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update notification status: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &entity.TransitionError{From: current.Status, To: update.Status}
}

func (r *notificationRepository) FindByProviderMessageID(ctx context.Context, channel entity.Channel, messageID string) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE channel = $1 AND metadata->>'messageId' = $2`

	notification, err := scanNotification(r.db.QueryRow(ctx, query, string(channel), messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification for message %s: %w", messageID, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}

	return notification, nil
}

func (r *notificationRepository) ListByOwner(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) ([]*entity.Notification, int64, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{ownerID}
	if filter.Channel != "" {
		args = append(args, string(filter.Channel))
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, repository.Offset(page, limit))

	notifications, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, total, nil
}

func (r *notificationRepository) AggregateStats(ctx context.Context, ownerID string, since time.Time) (*entity.Stats, error) {
	stats := &entity.Stats{
		ByStatus:  make(map[entity.NotificationStatus]int64),
		ByChannel: make(map[entity.Channel]int64),
		ByDay:     make(map[string]int64),
	}

	batch := &pgx.Batch{}
	batch.Queue(`SELECT status, COUNT(*) FROM notifications WHERE owner_id = $1 GROUP BY status`, ownerID).
		Query(collectCounts(func(k string, v int64) { stats.ByStatus[entity.NotificationStatus(k)] = v }))
	batch.Queue(`SELECT channel, COUNT(*) FROM notifications WHERE owner_id = $1 GROUP BY channel`, ownerID).
		Query(collectCounts(func(k string, v int64) { stats.ByChannel[entity.Channel(k)] = v }))
	batch.Queue(`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'), COUNT(*)
		FROM notifications WHERE owner_id = $1 AND created_at >= $2 GROUP BY 1`, ownerID, since).
		Query(collectCounts(func(k string, v int64) { stats.ByDay[k] = v }))

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to aggregate notification stats: %w", err)
	}

	return stats, nil
}

func (r *notificationRepository) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func (r *notificationRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	notifications, err := r.query(ctx, query, string(entity.NotificationStatusPending), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) query(ctx context.Context, query string, args ...any) ([]*entity.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]*entity.Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

func scanNotification(row pgx.Row) (*entity.Notification, error) {
	var (
		notification entity.Notification
		channel      string
		status       string
	)
	if err := row.Scan(
		&notification.ID,
		&notification.OwnerID,
		&channel,
		&notification.Title,
		&notification.Body,
		&status,
		&notification.FailureReason,
		&notification.Metadata,
		&notification.DeliveredAt,
		&notification.ReadAt,
		&notification.CreatedAt,
		&notification.UpdatedAt,
	); err != nil {
		return nil, err
	}

	notification.Channel = entity.Channel(channel)
	notification.Status = entity.NotificationStatus(status)
	return &notification, nil
}

func collectCounts(set func(key string, count int64)) func(pgx.Rows) error {
	return func(rows pgx.Rows) error {
		for rows.Next() {
			var (
				key   string
				count int64
			)
			if err := rows.Scan(&key, &count); err != nil {
				return err
			}
			set(key, count)
		}
		return rows.Err()
	}
}
