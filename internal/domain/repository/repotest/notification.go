// Package repotest holds behaviour checks shared by every repository backend
package repotest

import (
	"context"
	"testing"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NotificationRepository runs the conformance checks against a fresh,
// empty repository returned by newRepo for each subtest
func NotificationRepository(t *testing.T, newRepo func(t *testing.T) repository.NotificationRepository) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		n := &entity.Notification{OwnerID: "owner-a", Channel: entity.ChannelEmail, Title: "t", Body: "b"}
		require.NoError(t, repo.Create(ctx, n))
		require.NotEmpty(t, n.ID)
		assert.Equal(t, entity.NotificationStatusPending, n.Status)

		got, err := repo.GetByID(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, "t", got.Title)
		assert.Equal(t, entity.ChannelEmail, got.Channel)

		_, err = repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("status transitions", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		n := &entity.Notification{OwnerID: "owner-a", Channel: entity.ChannelSMS}
		require.NoError(t, repo.Create(ctx, n))

		sent, err := repo.UpdateStatus(ctx, n.ID, entity.StatusUpdate{
			Status:   entity.NotificationStatusSent,
			Metadata: map[string]any{entity.MetadataMessageID: "SM-conf-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, entity.NotificationStatusSent, sent.Status)

		found, err := repo.FindByProviderMessageID(ctx, entity.ChannelSMS, "SM-conf-1")
		require.NoError(t, err)
		assert.Equal(t, n.ID, found.ID)

		failed, err := repo.UpdateStatus(ctx, n.ID, entity.StatusUpdate{Status: entity.NotificationStatusFailed, FailureReason: "undelivered"})
		require.NoError(t, err)
		require.NotNil(t, failed.FailureReason)
		assert.Equal(t, "undelivered", *failed.FailureReason)

		_, err = repo.UpdateStatus(ctx, n.ID, entity.StatusUpdate{Status: entity.NotificationStatusDelivered})
		assert.ErrorIs(t, err, entity.ErrInvalidTransition)

		stored, err := repo.GetByID(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.NotificationStatusFailed, stored.Status)
		assert.Equal(t, "SM-conf-1", stored.ProviderMessageID())
	})

	t.Run("message id unique per channel", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		a := &entity.Notification{Channel: entity.ChannelSMS}
		b := &entity.Notification{Channel: entity.ChannelSMS}
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Create(ctx, b))

		withID := entity.StatusUpdate{Status: entity.NotificationStatusSent, Metadata: map[string]any{entity.MetadataMessageID: "SM-dup"}}
		_, err := repo.UpdateStatus(ctx, a.ID, withID)
		require.NoError(t, err)
		_, err = repo.UpdateStatus(ctx, b.ID, withID)
		assert.ErrorIs(t, err, entity.ErrDuplicateMessageID)
	})

	t.Run("list newest first", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		base := time.Now().UTC().Truncate(time.Second)

		for i := range 5 {
			ch := entity.ChannelEmail
			if i%2 == 1 {
				ch = entity.ChannelPush
			}
			require.NoError(t, repo.Create(ctx, &entity.Notification{
				OwnerID:   "owner-list",
				Channel:   ch,
				Title:     string(rune('a' + i)),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, repo.Create(ctx, &entity.Notification{OwnerID: "someone-else", Channel: entity.ChannelEmail}))

		items, total, err := repo.ListByOwner(ctx, "owner-list", entity.ListFilter{}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, items, 2)
		assert.Equal(t, "e", items[0].Title)
		assert.Equal(t, "d", items[1].Title)

		items, total, err = repo.ListByOwner(ctx, "owner-list", entity.ListFilter{Channel: entity.ChannelPush}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, items, 2)
	})

	t.Run("stats", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now().UTC()

		require.NoError(t, repo.Create(ctx, &entity.Notification{OwnerID: "owner-stats", Channel: entity.ChannelEmail, CreatedAt: now}))
		require.NoError(t, repo.Create(ctx, &entity.Notification{OwnerID: "owner-stats", Channel: entity.ChannelSMS, CreatedAt: now.AddDate(0, 0, -30)}))

		stats, err := repo.AggregateStats(ctx, "owner-stats", now.AddDate(0, 0, -6))
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.ByStatus[entity.NotificationStatusPending])
		assert.Equal(t, int64(1), stats.ByChannel[entity.ChannelSMS])
		assert.Equal(t, map[string]int64{entity.DayKey(now): 1}, stats.ByDay)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		n := &entity.Notification{OwnerID: "owner-del", Channel: entity.ChannelEmail}
		require.NoError(t, repo.Create(ctx, n))
		require.NoError(t, repo.Create(ctx, &entity.Notification{OwnerID: "owner-del", Channel: entity.ChannelEmail}))

		assert.ErrorIs(t, repo.Delete(ctx, "intruder", n.ID), entity.ErrNotFound)
		require.NoError(t, repo.Delete(ctx, "owner-del", n.ID))
		assert.ErrorIs(t, repo.Delete(ctx, "owner-del", n.ID), entity.ErrNotFound)

		deleted, err := repo.DeleteByOwner(ctx, "owner-del")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("stale pending", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		old := time.Now().UTC().Add(-time.Hour)

		stale := &entity.Notification{Channel: entity.ChannelPush, CreatedAt: old}
		require.NoError(t, repo.Create(ctx, stale))
		require.NoError(t, repo.Create(ctx, &entity.Notification{Channel: entity.ChannelPush}))

		items, err := repo.ListStalePending(ctx, time.Now().UTC().Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, stale.ID, items[0].ID)
	})
}

// PushTargetRepository runs the conformance checks for push target stores
func PushTargetRepository(t *testing.T, newRepo func(t *testing.T) repository.PushTargetRepository) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-b"))
	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))

	tokens, err := repo.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"token-a", "token-b"}, tokens)

	require.NoError(t, repo.Remove(ctx, "user-1", "token-a", "unknown"))
	tokens, err = repo.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"token-b"}, tokens)

	empty, err := repo.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
