package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"notify-service/internal/config"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/repository/repotest"
	"notify-service/internal/infrastructure/mongo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when MONGODB_TEST_URL is set
func TestNotificationRepository(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URL")
	if uri == "" {
		t.Skip("MONGODB_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.NewClient(ctx, &config.MongoConfig{
		URI:            uri,
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    10,
		RetryAttempts:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	require.NoError(t, mongo.Healthcheck(client)(ctx))

	db := client.Database("notify_test")

	repotest.NotificationRepository(t, func(t *testing.T) repository.NotificationRepository {
		collection := "notifications_" + uuid.NewString()[:8]
		require.NoError(t, mongo.EnsureIndexes(ctx, db, collection))
		t.Cleanup(func() { _ = db.Collection(collection).Drop(context.Background()) })
		return mongo.NewNotificationRepository(db, collection)
	})
}
