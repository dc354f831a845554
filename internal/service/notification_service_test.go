package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/infrastructure/memory"
	"notify-service/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, repo interface {
	Create(context.Context, *entity.Notification) error
}, n *entity.Notification) *entity.Notification {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), n))
	return n
}

func TestNotificationService_ListPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	svc := service.NewNotificationService(repo, nil, service.NotificationConfig{}, zerolog.Nop())

	base := time.Now().Add(-time.Hour)
	for i := 1; i <= 25; i++ {
		seed(t, repo, &entity.Notification{
			ID:        fmt.Sprintf("n-%02d", i),
			OwnerID:   "owner",
			Channel:   entity.ChannelEmail,
			Title:     fmt.Sprintf("record %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	seed(t, repo, &entity.Notification{OwnerID: "someone-else", Channel: entity.ChannelSMS})

	page, err := svc.List(ctx, "owner", entity.ListFilter{}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 10)

	// Newest first: records 11..20 in listing order are n-15 down to n-06
	for i, n := range page.Items {
		assert.Equal(t, fmt.Sprintf("n-%02d", 15-i), n.ID)
	}

	last, err := svc.List(ctx, "owner", entity.ListFilter{}, 3, 10)
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)

	beyond, err := svc.List(ctx, "owner", entity.ListFilter{}, 9, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.NotNil(t, beyond.Items)
}

func TestNotificationService_ListDefaultsAndFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	svc := service.NewNotificationService(repo, nil, service.NotificationConfig{}, zerolog.Nop())

	for i := 0; i < 12; i++ {
		ch := entity.ChannelEmail
		if i%2 == 0 {
			ch = entity.ChannelPush
		}
		seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: ch})
	}

	page, err := svc.List(ctx, "owner", entity.ListFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, service.DefaultLimit, page.Limit)
	assert.Len(t, page.Items, 10)
	assert.Equal(t, 2, page.Pages)

	capped, err := svc.List(ctx, "owner", entity.ListFilter{}, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, service.MaxLimit, capped.Limit)

	push, err := svc.List(ctx, "owner", entity.ListFilter{Channel: entity.ChannelPush}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(6), push.Total)
	for _, n := range push.Items {
		assert.Equal(t, entity.ChannelPush, n.Channel)
	}

	pending, err := svc.List(ctx, "owner", entity.ListFilter{Status: entity.NotificationStatusPending}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(12), pending.Total)

	_, err = svc.List(ctx, "owner", entity.ListFilter{Status: "lost"}, 1, 10)
	assert.ErrorIs(t, err, entity.ErrValidation)
	_, err = svc.List(ctx, "", entity.ListFilter{}, 1, 10)
	assert.ErrorIs(t, err, entity.ErrValidation)
}

func TestNotificationService_MarkRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T, statuses ...entity.NotificationStatus) (*entity.Notification, *recordingPublisher, func() *entity.Notification, interface {
		MarkRead(context.Context, string, string) (*entity.Notification, error)
	}) {
		repo := memory.NewNotificationRepository()
		pub := &recordingPublisher{}
		svc := service.NewNotificationService(repo, pub, service.NotificationConfig{}, zerolog.Nop())
		n := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelPush})
		for _, st := range statuses {
			_, err := repo.UpdateStatus(ctx, n.ID, entity.StatusUpdate{Status: st, FailureReason: "boom"})
			require.NoError(t, err)
		}
		reload := func() *entity.Notification {
			got, err := repo.GetByID(ctx, n.ID)
			require.NoError(t, err)
			return got
		}
		return n, pub, reload, svc
	}

	t.Run("sent walks through delivered", func(t *testing.T) {
		t.Parallel()
		n, pub, reload, svc := setup(t, entity.NotificationStatusSent)

		got, err := svc.MarkRead(ctx, "owner", n.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.NotificationStatusRead, got.Status)
		assert.NotNil(t, got.ReadAt)
		assert.NotNil(t, got.DeliveredAt)
		assert.Equal(t, []string{"sent->delivered", "delivered->read"}, pub.transitions())
		assert.Equal(t, entity.NotificationStatusRead, reload().Status)
	})

	t.Run("delivered becomes read", func(t *testing.T) {
		t.Parallel()
		n, _, _, svc := setup(t, entity.NotificationStatusSent, entity.NotificationStatusDelivered)

		got, err := svc.MarkRead(ctx, "owner", n.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.NotificationStatusRead, got.Status)
	})

	t.Run("read is a no-op", func(t *testing.T) {
		t.Parallel()
		n, pub, reload, svc := setup(t, entity.NotificationStatusSent, entity.NotificationStatusDelivered, entity.NotificationStatusRead)
		before := reload()

		got, err := svc.MarkRead(ctx, "owner", n.ID)
		require.NoError(t, err)
		assert.Equal(t, before, got)
		assert.Empty(t, pub.transitions())
	})

	t.Run("failed is rejected", func(t *testing.T) {
		t.Parallel()
		n, _, reload, svc := setup(t, entity.NotificationStatusFailed)

		_, err := svc.MarkRead(ctx, "owner", n.ID)
		assert.ErrorIs(t, err, entity.ErrInvalidTransition)
		assert.Equal(t, entity.NotificationStatusFailed, reload().Status)
	})

	t.Run("pending is rejected", func(t *testing.T) {
		t.Parallel()
		n, _, _, svc := setup(t)

		_, err := svc.MarkRead(ctx, "owner", n.ID)
		assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	})

	t.Run("other owner sees not found", func(t *testing.T) {
		t.Parallel()
		n, _, reload, svc := setup(t, entity.NotificationStatusSent)

		_, err := svc.MarkRead(ctx, "intruder", n.ID)
		assert.ErrorIs(t, err, entity.ErrNotFound)
		assert.Equal(t, entity.NotificationStatusSent, reload().Status)
	})
}

func TestNotificationService_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	svc := service.NewNotificationService(repo, nil, service.NotificationConfig{}, zerolog.Nop())

	a := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelEmail})
	seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelEmail})
	other := seed(t, repo, &entity.Notification{OwnerID: "other", Channel: entity.ChannelEmail})

	assert.ErrorIs(t, svc.Delete(ctx, "owner", other.ID), entity.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "owner", a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "owner", a.ID), entity.ErrNotFound)

	deleted, err := svc.DeleteAll(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, other.ID)
	assert.NoError(t, err)
}

func TestNotificationService_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	svc := service.NewNotificationService(repo, nil, service.NotificationConfig{}, zerolog.Nop())

	now := time.Now().UTC()
	seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelEmail, CreatedAt: now})
	seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelEmail, CreatedAt: now})
	seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelSMS, CreatedAt: now.AddDate(0, 0, -2)})
	seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelPush, CreatedAt: now.AddDate(0, 0, -30)})
	failed := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelSMS, CreatedAt: now})
	_, err := repo.UpdateStatus(ctx, failed.ID, entity.StatusUpdate{Status: entity.NotificationStatusFailed, FailureReason: "x"})
	require.NoError(t, err)
	seed(t, repo, &entity.Notification{OwnerID: "other", Channel: entity.ChannelEmail, CreatedAt: now})

	report, err := svc.Stats(ctx, "owner")
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.ByStatus[entity.NotificationStatusPending])
	assert.Equal(t, int64(1), report.ByStatus[entity.NotificationStatusFailed])
	assert.Contains(t, report.ByStatus, entity.NotificationStatusRead)
	assert.Equal(t, int64(2), report.ByChannel[entity.ChannelEmail])
	assert.Equal(t, int64(2), report.ByChannel[entity.ChannelSMS])
	assert.Equal(t, int64(1), report.ByChannel[entity.ChannelPush])

	require.Len(t, report.ByDay, 7)
	assert.Equal(t, entity.DayKey(now), report.ByDay[6].Date)
	assert.Equal(t, int64(3), report.ByDay[6].Count)
	assert.Equal(t, entity.DayKey(now.AddDate(0, 0, -2)), report.ByDay[4].Date)
	assert.Equal(t, int64(1), report.ByDay[4].Count)
	assert.Equal(t, int64(0), report.ByDay[0].Count)
}

func TestNotificationService_FailStalePending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	pub := &recordingPublisher{}
	svc := service.NewNotificationService(repo, pub, service.NotificationConfig{PendingTimeout: time.Minute}, zerolog.Nop())

	stale := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelSMS, CreatedAt: time.Now().Add(-time.Hour)})
	fresh := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelSMS})
	done := seed(t, repo, &entity.Notification{OwnerID: "owner", Channel: entity.ChannelSMS, CreatedAt: time.Now().Add(-time.Hour)})
	_, err := repo.UpdateStatus(ctx, done.ID, entity.StatusUpdate{Status: entity.NotificationStatusSent})
	require.NoError(t, err)

	count, err := svc.FailStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, service.FailureReasonInterrupted, *got.FailureReason)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusPending, got.Status)

	assert.Equal(t, []string{"pending->failed"}, pub.transitions())
}
