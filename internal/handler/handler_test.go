package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	domainservice "notify-service/internal/domain/service"
	"notify-service/internal/handler"
	"notify-service/internal/infrastructure/memory"
	"notify-service/internal/infrastructure/twilio"
	"notify-service/internal/middleware"
	"notify-service/internal/service"
	"notify-service/pkg/jwt"
)

const (
	apiKey        = "test-key"
	twilioToken   = "twilio-secret"
	postmarkToken = "pm-secret"
	publicURL     = "https://notify.example.com"
)

type stubAdapter struct {
	channel entity.Channel
	mu      sync.Mutex
	result  entity.SendResult
	sent    []entity.Destination
}

func (a *stubAdapter) Channel() entity.Channel { return a.channel }

func (a *stubAdapter) Send(_ context.Context, dest entity.Destination, _, _ string, _ map[string]any) entity.SendResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, dest)
	return a.result
}

type stubRenderer struct{}

func (stubRenderer) Render(name string, vars map[string]any) (string, string, error) {
	if name != "confirm" {
		return "", "", errors.New("unknown template")
	}
	return "Confirm", "<a href=\"/confirm?token=" + vars["token"].(string) + "\">confirm</a>", nil
}

type server struct {
	t      *testing.T
	srv    *httptest.Server
	repo   repository.NotificationRepository
	tokens *jwt.TokenManager
	sms    *stubAdapter
	email  *stubAdapter
	push   *stubAdapter
}

func newServer(t *testing.T) *server {
	t.Helper()

	log := zerolog.Nop()
	repo := memory.NewNotificationRepository()
	targets := memory.NewPushTargetRepository()

	s := &server{
		t:      t,
		repo:   repo,
		tokens: jwt.NewTokenManager("jwt-secret", "", time.Hour),
		sms:    &stubAdapter{channel: entity.ChannelSMS, result: entity.SendResult{Success: true, ProviderMessageID: "SM1", ProviderStatus: "queued"}},
		email:  &stubAdapter{channel: entity.ChannelEmail, result: entity.SendResult{Success: true, ProviderMessageID: "EM1"}},
		push:   &stubAdapter{channel: entity.ChannelPush, result: entity.Failure(entity.ErrorKindTransient, "fcm unavailable")},
	}

	tokenService := service.NewTokenService(targets, nil, nil, log)
	dispatch := service.NewDispatchService(service.DispatchDeps{
		Repo:     repo,
		Adapters: []domainservice.ChannelAdapter{s.sms, s.email, s.push},
		Tokens:   tokenService,
		Renderer: stubRenderer{},
	}, service.DispatchConfig{DefaultCountryCode: "33"}, log)
	notifications := service.NewNotificationService(repo, nil, service.NotificationConfig{}, log)
	reconciler := service.NewReconcilerService(repo, nil, log)

	auth := middleware.NewAuthMiddleware(apiKey, s.tokens, log)
	router := handler.NewRouter(handler.RouterDeps{
		Send:          handler.NewSendHandler(dispatch, tokenService, log),
		Notifications: handler.NewNotificationHandler(notifications, log),
		Webhooks: handler.NewWebhookHandler(reconciler, auth, handler.WebhookConfig{
			PublicURL:               publicURL,
			TwilioAuthToken:         twilioToken,
			ValidateTwilioSignature: true,
			PostmarkToken:           postmarkToken,
		}, log),
		Auth: auth,
		Checks: map[string]handler.HealthCheck{
			"store": func(context.Context) error { return nil },
		},
	}, log)

	s.srv = httptest.NewServer(router.Setup())
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) do(method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	s.t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *server) asUser(userID string) map[string]string {
	s.t.Helper()
	token, _, err := s.tokens.GenerateAccessToken(userID)
	require.NoError(s.t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

var withKey = map[string]string{middleware.APIKeyHeader: apiKey}

func TestSendRoutesRequireAPIKey(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, _ := s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "0612345678", "message": "hi"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, s.sms.sent)
}

func TestSendSMS(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/sms",
		map[string]any{"to": "06 12 34 56 78", "message": "hello", "userId": "u1"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "SM1", body["provider_message_id"])
	require.Len(t, s.sms.sent, 1)
	assert.Equal(t, "+33612345678", s.sms.sent[0].Address)

	n, err := s.repo.GetByID(context.Background(), body["notification_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusSent, n.Status)
}

func TestSendSMS_ResetCode(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/sms",
		map[string]any{"phoneNumber": "+33612345678", "type": "reset", "code": "123456"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := s.repo.GetByID(context.Background(), body["notification_id"].(string))
	require.NoError(t, err)
	assert.Contains(t, n.Body, "123456")
}

func TestSendValidationIs400(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "abc", "message": "x"}, withKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "recipient", body["field"])

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/notifications/email", strings.NewReader("{oops"))
	req.Header.Set(middleware.APIKeyHeader, apiKey)
	raw, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestSendEmail_Template(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/email",
		map[string]any{"type": "confirm", "email": "ana@example.com", "tokenOrCode": "tok"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	n, err := s.repo.GetByID(context.Background(), body["notification_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Confirm", n.Title)
	assert.Contains(t, n.Body, "token=tok")

	resp, _ = s.do(http.MethodPost, "/api/v1/notifications/email",
		map[string]any{"type": "unknown", "email": "ana@example.com"}, withKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendPush_ProviderFailureIs200(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/push",
		map[string]any{"token": strings.Repeat("a", 64), "title": "Hi", "body": "there"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(entity.ErrorKindTransient), body["error_kind"])
	require.NotEmpty(t, body["notification_id"])

	n, err := s.repo.GetByID(context.Background(), body["notification_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusFailed, n.Status)
}

func TestPushTargets(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	token := strings.Repeat("b", 64)
	resp, _ := s.do(http.MethodPost, "/api/v1/notifications/push/tokens", map[string]any{"userId": "u1", "token": token}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/notifications/push", map[string]any{"userId": "u1", "title": "T", "body": "B"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, s.push.sent, 1)
	assert.Equal(t, []string{token}, s.push.sent[0].Tokens)

	resp, _ = s.do(http.MethodDelete, "/api/v1/notifications/push/tokens", map[string]any{"userId": "u1", "token": token}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(http.MethodPost, "/api/v1/notifications/push", map[string]any{"userId": "u1", "title": "T", "body": "B"}, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(entity.ErrorKindNotFound), body["error_kind"])

	resp, _ = s.do(http.MethodPost, "/api/v1/notifications/push/tokens", map[string]any{"token": token}, withKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserRoutes(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	_, first := s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "+33612345678", "message": "a", "userId": "u1"}, withKey)
	_, _ = s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "+33612345678", "message": "b", "userId": "u1"}, withKey)
	_, _ = s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "+33612345678", "message": "c", "userId": "u2"}, withKey)
	id := first["notification_id"].(string)

	resp, _ := s.do(http.MethodGet, "/api/v1/notifications", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	u1 := s.asUser("u1")

	resp, page := s.do(http.MethodGet, "/api/v1/notifications?limit=1&type=sms", nil, u1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, page["total"])
	assert.EqualValues(t, 2, page["pages"])
	assert.Len(t, page["items"], 1)

	resp, _ = s.do(http.MethodGet, "/api/v1/notifications?type=fax", nil, u1)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, stats := s.do(http.MethodGet, "/api/v1/notifications/stats", nil, u1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, stats["by_status"].(map[string]any)["sent"])
	assert.Len(t, stats["by_day"], 7)

	// sent walks through delivered to read
	resp, read := s.do(http.MethodPatch, "/api/v1/notifications/"+id+"/read", nil, u1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "read", read["status"])
	assert.NotEmpty(t, read["delivered_at"])

	// another owner cannot see the record
	resp, _ = s.do(http.MethodPatch, "/api/v1/notifications/"+id+"/read", nil, s.asUser("u2"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodDelete, "/api/v1/notifications/"+id, nil, u1)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(http.MethodDelete, "/api/v1/notifications/"+id, nil, u1)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, deleted := s.do(http.MethodDelete, "/api/v1/notifications", nil, u1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, deleted["deleted"])
}

func TestMarkReadFailedIsConflict(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	_, body := s.do(http.MethodPost, "/api/v1/notifications/push",
		map[string]any{"token": strings.Repeat("c", 64), "title": "T", "body": "B", "userId": "u1"}, withKey)
	id := body["notification_id"].(string)

	resp, _ := s.do(http.MethodPatch, "/api/v1/notifications/"+id+"/read", nil, s.asUser("u1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeliveryWebhook(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	_, body := s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "+33612345678", "message": "a"}, withKey)
	id := body["notification_id"].(string)

	cb := map[string]any{"providerMessageId": "SM1", "channel": "SMS", "providerStatus": "delivered"}

	resp, _ := s.do(http.MethodPost, "/api/v1/webhooks/delivery", cb, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := s.do(http.MethodPost, "/api/v1/webhooks/delivery", cb, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(entity.OutcomeApplied), out["outcome"])

	n, err := s.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusDelivered, n.Status)

	// replays and unknown ids are acknowledged
	resp, out = s.do(http.MethodPost, "/api/v1/webhooks/delivery", cb, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(entity.OutcomeIgnored), out["outcome"])

	cb["providerMessageId"] = "nope"
	resp, out = s.do(http.MethodPost, "/api/v1/webhooks/delivery", cb, withKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(entity.OutcomeNotFound), out["outcome"])

	cb["channel"] = "fax"
	resp, _ = s.do(http.MethodPost, "/api/v1/webhooks/delivery", cb, withKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTwilioWebhook(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	_, body := s.do(http.MethodPost, "/api/v1/notifications/sms", map[string]any{"to": "+33612345678", "message": "a"}, withKey)
	id := body["notification_id"].(string)

	form := url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"30003"},
	}
	post := func(signature string) int {
		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/webhooks/twilio", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(twilio.SignatureHeader, signature)
		resp, err := s.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("forged"))

	signature := twilio.Signature(twilioToken, publicURL+"/api/v1/webhooks/twilio", form)
	require.Equal(t, http.StatusOK, post(signature))

	n, err := s.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusFailed, n.Status)
	require.NotNil(t, n.FailureReason)
}

func TestTwilioWebhook_RejectsWithoutAuthToken(t *testing.T) {
	t.Parallel()

	log := zerolog.Nop()
	repo := memory.NewNotificationRepository()
	auth := middleware.NewAuthMiddleware(apiKey, jwt.NewTokenManager("jwt-secret", "", time.Hour), log)
	hooks := handler.NewWebhookHandler(service.NewReconcilerService(repo, nil, log), auth, handler.WebhookConfig{
		PublicURL:               publicURL,
		ValidateTwilioSignature: true,
	}, log)

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// signed with the empty key an unconfigured deployment would hold
	req.Header.Set(twilio.SignatureHeader, twilio.Signature("", publicURL+"/api/v1/webhooks/twilio", form))

	rec := httptest.NewRecorder()
	hooks.Twilio(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostmarkWebhook(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	_, body := s.do(http.MethodPost, "/api/v1/notifications/email",
		map[string]any{"email": "ana@example.com", "subject": "Hi", "body": "<p>hi</p>"}, withKey)
	id := body["notification_id"].(string)

	event := map[string]any{"RecordType": "Delivery", "MessageID": "EM1"}

	resp, _ := s.do(http.MethodPost, "/api/v1/webhooks/postmark", event, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/webhooks/postmark?token="+postmarkToken, event, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := s.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusDelivered, n.Status)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp, err := s.srv.Client().Get(s.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["store"])
}
