package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// casAttempts bounds the optimistic read-modify-write loop of UpdateStatus
const casAttempts = 5

type notificationRepository struct {
	coll *mongo.Collection
}

// NewNotificationRepository creates a MongoDB-backed notification repository
func NewNotificationRepository(db *mongo.Database, collection string) repository.NotificationRepository {
	return &notificationRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the indexes the repository relies on. The partial
// unique index keeps a provider message id bound to at most one record per channel.
func EnsureIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "channel", Value: 1}, {Key: "metadata.messageId", Value: 1}},
			Options: options.Index().
				SetName("channel_message_id_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "metadata.messageId", Value: bson.D{{Key: "$type", Value: "string"}}}}),
		},
	}

	if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}

func (r *notificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
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

	if _, err := r.coll.InsertOne(ctx, notification); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to create notification: %w", entity.ErrDuplicateMessageID)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// UpdateStatus reads the record, applies the transition in memory and
// replaces the document only if its status is still the one that was read.
// A lost race is retried against the fresh state.
func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, update entity.StatusUpdate) (*entity.Notification, error) {
	for range casAttempts {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := entity.ApplyStatus(next, update); err != nil {
			return nil, err
		}

		filter := bson.D{{Key: "_id", Value: id}, {Key: "status", Value: current.Status}}
		res, err := r.coll.ReplaceOne(ctx, filter, next)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("failed to update notification status: %w", entity.ErrDuplicateMessageID)
			}
			return nil, fmt.Errorf("failed to update notification status: %w", err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}

	return nil, fmt.Errorf("failed to update notification status: concurrent updates on %s: %w", id, entity.ErrInvalidTransition)
}

func (r *notificationRepository) FindByProviderMessageID(ctx context.Context, channel entity.Channel, messageID string) (*entity.Notification, error) {
	return r.findOne(ctx, bson.D{
		{Key: "channel", Value: channel},
		{Key: "metadata.messageId", Value: messageID},
	})
}

func (r *notificationRepository) ListByOwner(ctx context.Context, ownerID string, filter entity.ListFilter, page, limit int) ([]*entity.Notification, int64, error) {
	query := bson.D{{Key: "owner_id", Value: ownerID}}
	if filter.Channel != "" {
		query = append(query, bson.E{Key: "channel", Value: filter.Channel})
	}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: filter.Status})
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(repository.Offset(page, limit))).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	notifications := make([]*entity.Notification, 0, limit)
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, 0, fmt.Errorf("failed to decode notifications: %w", err)
	}

	return notifications, total, nil
}

type bucket struct {
	ID    string `bson:"_id"`
	Count int64  `bson:"count"`
}

type statsFacets struct {
	ByStatus  []bucket `bson:"by_status"`
	ByChannel []bucket `bson:"by_channel"`
	ByDay     []bucket `bson:"by_day"`
}

func (r *notificationRepository) AggregateStats(ctx context.Context, ownerID string, since time.Time) (*entity.Stats, error) {
	count := bson.D{{Key: "$sum", Value: 1}}
	groupBy := func(field any) bson.A {
		return bson.A{bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: field}, {Key: "count", Value: count}}}}}
	}

	byDay := append(bson.A{
		bson.D{{Key: "$match", Value: bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
	}, groupBy(bson.D{{Key: "$dateToString", Value: bson.D{
		{Key: "format", Value: "%Y-%m-%d"},
		{Key: "date", Value: "$created_at"},
	}}})...)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "owner_id", Value: ownerID}}}},
		{{Key: "$facet", Value: bson.D{
			{Key: "by_status", Value: groupBy("$status")},
			{Key: "by_channel", Value: groupBy("$channel")},
			{Key: "by_day", Value: byDay},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notification stats: %w", err)
	}

	var facets []statsFacets
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, fmt.Errorf("failed to decode notification stats: %w", err)
	}

	stats := &entity.Stats{
		ByStatus:  make(map[entity.NotificationStatus]int64),
		ByChannel: make(map[entity.Channel]int64),
		ByDay:     make(map[string]int64),
	}
	if len(facets) == 0 {
		return stats, nil
	}

	for _, b := range facets[0].ByStatus {
		stats.ByStatus[entity.NotificationStatus(b.ID)] = b.Count
	}
	for _, b := range facets[0].ByChannel {
		stats.ByChannel[entity.Channel(b.ID)] = b.Count
	}
	for _, b := range facets[0].ByDay {
		stats.ByDay[b.ID] = b.Count
	}

	return stats, nil
}

func (r *notificationRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "owner_id", Value: ownerID}})
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("notification %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func (r *notificationRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "owner_id", Value: ownerID}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *notificationRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.Notification, error) {
	query := bson.D{
		{Key: "status", Value: entity.NotificationStatusPending},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: before}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale notifications: %w", err)
	}

	var notifications []*entity.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode stale notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) findOne(ctx context.Context, filter bson.D) (*entity.Notification, error) {
	var n entity.Notification
	if err := r.coll.FindOne(ctx, filter).Decode(&n); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("notification: %w", entity.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}
