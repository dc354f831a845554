package entity_test

import (
	"testing"
	"time"

	"notify-service/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	t.Parallel()

	legal := map[entity.NotificationStatus][]entity.NotificationStatus{
		entity.NotificationStatusPending:   {entity.NotificationStatusSent, entity.NotificationStatusFailed},
		entity.NotificationStatusSent:      {entity.NotificationStatusDelivered, entity.NotificationStatusFailed},
		entity.NotificationStatusDelivered: {entity.NotificationStatusRead},
	}

	for _, from := range entity.Statuses {
		for _, to := range entity.Statuses {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	assert.True(t, entity.NotificationStatusFailed.IsTerminal())
	assert.True(t, entity.NotificationStatusRead.IsTerminal())
	assert.False(t, entity.NotificationStatusPending.IsTerminal())
	assert.False(t, entity.NotificationStatusSent.IsTerminal())
	assert.False(t, entity.NotificationStatusDelivered.IsTerminal())
}

func TestPredecessors(t *testing.T) {
	t.Parallel()

	assert.Empty(t, entity.Predecessors(entity.NotificationStatusPending))
	assert.Equal(t, []entity.NotificationStatus{entity.NotificationStatusPending}, entity.Predecessors(entity.NotificationStatusSent))
	assert.ElementsMatch(t,
		[]entity.NotificationStatus{entity.NotificationStatusPending, entity.NotificationStatusSent},
		entity.Predecessors(entity.NotificationStatusFailed))
	assert.Equal(t, []entity.NotificationStatus{entity.NotificationStatusDelivered}, entity.Predecessors(entity.NotificationStatusRead))
}

func TestApplyStatus(t *testing.T) {
	t.Parallel()

	t.Run("rejected transitions leave the record untouched", func(t *testing.T) {
		t.Parallel()

		cases := []struct{ from, to entity.NotificationStatus }{
			{entity.NotificationStatusFailed, entity.NotificationStatusSent},
			{entity.NotificationStatusRead, entity.NotificationStatusSent},
			{entity.NotificationStatusSent, entity.NotificationStatusPending},
			{entity.NotificationStatusFailed, entity.NotificationStatusRead},
			{entity.NotificationStatusPending, entity.NotificationStatusDelivered},
		}
		for _, c := range cases {
			n := &entity.Notification{Status: c.from}
			err := entity.ApplyStatus(n, entity.StatusUpdate{Status: c.to})
			require.Error(t, err)
			assert.ErrorIs(t, err, entity.ErrInvalidTransition)

			var te *entity.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, c.from, te.From)
			assert.Equal(t, c.to, te.To)
			assert.Equal(t, c.from, n.Status)
		}
	})

	t.Run("timestamps and failure reason", func(t *testing.T) {
		t.Parallel()

		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		n := &entity.Notification{Status: entity.NotificationStatusPending}

		require.NoError(t, entity.ApplyStatus(n, entity.StatusUpdate{
			Status:   entity.NotificationStatusSent,
			Metadata: map[string]any{entity.MetadataMessageID: "SID1"},
			At:       at,
		}))
		assert.Nil(t, n.DeliveredAt)
		assert.Nil(t, n.FailureReason)
		assert.Equal(t, "SID1", n.ProviderMessageID())
		assert.Equal(t, at, n.UpdatedAt)

		require.NoError(t, entity.ApplyStatus(n, entity.StatusUpdate{Status: entity.NotificationStatusDelivered, At: at.Add(time.Minute)}))
		require.NotNil(t, n.DeliveredAt)
		assert.Equal(t, at.Add(time.Minute), *n.DeliveredAt)
		assert.Nil(t, n.ReadAt)

		require.NoError(t, entity.ApplyStatus(n, entity.StatusUpdate{Status: entity.NotificationStatusRead, At: at.Add(time.Hour)}))
		require.NotNil(t, n.ReadAt)
		assert.Equal(t, at.Add(time.Hour), *n.ReadAt)
		assert.Equal(t, "SID1", n.ProviderMessageID())
	})

	t.Run("failure reason only while failed", func(t *testing.T) {
		t.Parallel()

		n := &entity.Notification{Status: entity.NotificationStatusSent}
		require.NoError(t, entity.ApplyStatus(n, entity.StatusUpdate{Status: entity.NotificationStatusFailed, FailureReason: "bounced"}))
		require.NotNil(t, n.FailureReason)
		assert.Equal(t, "bounced", *n.FailureReason)

		ok := &entity.Notification{Status: entity.NotificationStatusPending}
		require.NoError(t, entity.ApplyStatus(ok, entity.StatusUpdate{Status: entity.NotificationStatusSent, FailureReason: "ignored"}))
		assert.Nil(t, ok.FailureReason)
	})
}

func TestUserPreferencesAllows(t *testing.T) {
	t.Parallel()

	off, on := false, true
	p := entity.UserPreferences{Email: &off, SMS: &on}

	assert.False(t, p.Allows(entity.ChannelEmail))
	assert.True(t, p.Allows(entity.ChannelSMS))
	assert.True(t, p.Allows(entity.ChannelPush))
}

func TestClone(t *testing.T) {
	t.Parallel()

	reason := "x"
	n := &entity.Notification{ID: "1", FailureReason: &reason, Metadata: map[string]any{"k": "v"}}
	c := n.Clone()
	c.Metadata["k"] = "changed"
	*c.FailureReason = "y"

	assert.Equal(t, "v", n.Metadata["k"])
	assert.Equal(t, "x", *n.FailureReason)
}
