package handler

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"
	"notify-service/internal/infrastructure/postmark"
	"notify-service/internal/infrastructure/twilio"
	"notify-service/internal/middleware"
)

// WebhookConfig holds the credentials provider callbacks are checked against
type WebhookConfig struct {
	// PublicURL is the externally visible base URL Twilio signed against
	PublicURL string
	// TwilioAuthToken signs Twilio callbacks. Signatures are only checked when ValidateTwilioSignature is set.
	TwilioAuthToken         string
	ValidateTwilioSignature bool
	// PostmarkToken is accepted as ?token= or basic auth password on Postmark callbacks
	PostmarkToken string
}

// WebhookHandler turns provider callbacks into delivery reconciliations
type WebhookHandler struct {
	reconciler service.ReconcilerService
	auth       *middleware.AuthMiddleware
	cfg        WebhookConfig
	log        zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	reconciler service.ReconcilerService,
	auth *middleware.AuthMiddleware,
	cfg WebhookConfig,
	log zerolog.Logger,
) *WebhookHandler {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &WebhookHandler{
		reconciler: reconciler,
		auth:       auth,
		cfg:        cfg,
		log:        log,
	}
}

// Delivery handles POST /api/v1/webhooks/delivery with a generic JSON callback
func (h *WebhookHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	var cb entity.DeliveryCallback
	if !decodeJSON(w, r, &cb) {
		return
	}
	cb.Channel = entity.Channel(strings.ToLower(string(cb.Channel)))

	h.reconcile(w, r, cb)
}

// Twilio handles POST /api/v1/webhooks/twilio status callbacks
func (h *WebhookHandler) Twilio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	if h.cfg.ValidateTwilioSignature {
		if h.cfg.TwilioAuthToken == "" {
			h.log.Warn().Str("ip", middleware.ClientIP(r)).Msg("rejected twilio callback, no auth token configured")
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
		fullURL := h.cfg.PublicURL + r.URL.RequestURI()
		signature := r.Header.Get(twilio.SignatureHeader)
		if !twilio.ValidSignature(h.cfg.TwilioAuthToken, fullURL, r.PostForm, signature) {
			h.log.Warn().Str("ip", middleware.ClientIP(r)).Msg("rejected twilio callback with invalid signature")
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	cb, err := twilio.ParseCallback(r.PostForm)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	h.reconcile(w, r, cb)
}

// Postmark handles POST /api/v1/webhooks/postmark delivery and bounce events
func (h *WebhookHandler) Postmark(w http.ResponseWriter, r *http.Request) {
	if !h.postmarkAuthorized(r) {
		writeError(w, http.StatusForbidden, "unauthorized access")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cb, err := postmark.ParseWebhook(body)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	h.reconcile(w, r, cb)
}

// postmarkAuthorized accepts the API key header, or the webhook token as a
// query parameter or basic auth password since Postmark cannot send headers
func (h *WebhookHandler) postmarkAuthorized(r *http.Request) bool {
	if h.auth.ValidAPIKey(r.Header.Get(middleware.APIKeyHeader)) {
		return true
	}
	if h.cfg.PostmarkToken == "" {
		return false
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		_, token, _ = r.BasicAuth()
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.PostmarkToken)) == 1
}

// reconcile acknowledges unknown and stale callbacks so providers stop
// retrying them, and answers 503 on store failures so they retry later
func (h *WebhookHandler) reconcile(w http.ResponseWriter, r *http.Request, cb entity.DeliveryCallback) {
	outcome, err := h.reconciler.Reconcile(r.Context(), cb)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	if outcome != entity.OutcomeApplied {
		h.log.Warn().
			Str("channel", string(cb.Channel)).
			Str("message_id", cb.ProviderMessageID).
			Str("outcome", string(outcome)).
			Msg("delivery callback acknowledged without update")
	}

	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
