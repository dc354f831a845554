package service_test

import (
	"context"
	"testing"

	"notify-service/internal/domain/entity"
	"notify-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapProviderStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want entity.NotificationStatus
		ok   bool
	}{
		{raw: "delivered", want: entity.NotificationStatusDelivered, ok: true},
		{raw: "Delivery", want: entity.NotificationStatusDelivered, ok: true},
		{raw: "read", want: entity.NotificationStatusDelivered, ok: true},
		{raw: "sent", want: entity.NotificationStatusSent, ok: true},
		{raw: " queued ", want: entity.NotificationStatusSent, ok: true},
		{raw: "failed", want: entity.NotificationStatusFailed, ok: true},
		{raw: "undelivered", want: entity.NotificationStatusFailed, ok: true},
		{raw: "bounced", want: entity.NotificationStatusFailed, ok: true},
		{raw: "SpamComplaint", want: entity.NotificationStatusFailed, ok: true},
		{raw: "receiving", ok: false},
		{raw: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := service.MapProviderStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

// sentSMS dispatches one SMS with the given provider message id and returns the record id
func sentSMS(t *testing.T, e *engine, messageID string) string {
	t.Helper()
	e.sms.send = succeedWith(messageID, "queued")
	res, err := e.dispatch.SendSMS(context.Background(), entity.SendRequest{OwnerID: "u1", Recipient: "+33612345678", Body: "x"})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.NotificationID
}

func TestReconcile_UnknownMessage(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	outcome, err := e.reconcile.Reconcile(context.Background(), entity.DeliveryCallback{
		ProviderMessageID: "SID-none",
		Channel:           entity.ChannelSMS,
		ProviderStatus:    "delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeNotFound, outcome)
	assert.Zero(t, e.count(t, "u1"))
	assert.Zero(t, e.count(t, ""))
}

func TestReconcile_ChannelScopesMessageID(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	sentSMS(t, e, "ID-1")

	outcome, err := e.reconcile.Reconcile(context.Background(), entity.DeliveryCallback{
		ProviderMessageID: "ID-1",
		Channel:           entity.ChannelEmail,
		ProviderStatus:    "delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeNotFound, outcome)
}

func TestReconcile_FailureCarriesReason(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(t)
	id := sentSMS(t, e, "SID-F")

	outcome, err := e.reconcile.Reconcile(ctx, entity.DeliveryCallback{
		ProviderMessageID: "SID-F",
		Channel:           entity.ChannelSMS,
		ProviderStatus:    "undelivered",
		ErrorCode:         "30006",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeApplied, outcome)

	n, err := e.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusFailed, n.Status)
	require.NotNil(t, n.FailureReason)
	assert.Equal(t, "provider reported undelivered (code 30006)", *n.FailureReason)
	assert.Equal(t, "30006", n.Metadata[entity.MetadataProviderError])
	assert.Equal(t, "undelivered", n.Metadata[entity.MetadataProviderStatus])
}

func TestReconcile_IgnoresStaleAndTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		first    string
		second   string
		expected entity.NotificationStatus
	}{
		{name: "sent after delivered", first: "delivered", second: "sent", expected: entity.NotificationStatusDelivered},
		{name: "failed after delivered", first: "delivered", second: "failed", expected: entity.NotificationStatusDelivered},
		{name: "delivered after failed", first: "failed", second: "delivered", expected: entity.NotificationStatusFailed},
		{name: "same status twice", first: "failed", second: "bounced", expected: entity.NotificationStatusFailed},
		{name: "unknown vocabulary", first: "delivered", second: "receiving", expected: entity.NotificationStatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			e := newEngine(t)
			id := sentSMS(t, e, "SID-S")

			outcome, err := e.reconcile.Reconcile(ctx, entity.DeliveryCallback{ProviderMessageID: "SID-S", Channel: entity.ChannelSMS, ProviderStatus: tt.first})
			require.NoError(t, err)
			require.Equal(t, entity.OutcomeApplied, outcome)

			before, err := e.repo.GetByID(ctx, id)
			require.NoError(t, err)

			outcome, err = e.reconcile.Reconcile(ctx, entity.DeliveryCallback{ProviderMessageID: "SID-S", Channel: entity.ChannelSMS, ProviderStatus: tt.second})
			require.NoError(t, err)
			assert.Equal(t, entity.OutcomeIgnored, outcome)

			after, err := e.repo.GetByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, after.Status)
			assert.Equal(t, before, after)
		})
	}
}

func TestReconcile_QueuedOnSentIsNoop(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	sentSMS(t, e, "SID-Q")

	outcome, err := e.reconcile.Reconcile(context.Background(), entity.DeliveryCallback{
		ProviderMessageID: "SID-Q",
		Channel:           entity.ChannelSMS,
		ProviderStatus:    "sent",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeIgnored, outcome)
}

func TestReconcile_Validation(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	_, err := e.reconcile.Reconcile(context.Background(), entity.DeliveryCallback{Channel: entity.ChannelSMS, ProviderStatus: "delivered"})
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = e.reconcile.Reconcile(context.Background(), entity.DeliveryCallback{ProviderMessageID: "x", Channel: "fax", ProviderStatus: "delivered"})
	assert.ErrorIs(t, err, entity.ErrValidation)
}
