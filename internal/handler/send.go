package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"
)

// SendHandler handles the send and push target routes used by other services
type SendHandler struct {
	dispatch service.DispatchService
	tokens   service.TokenService
	log      zerolog.Logger
}

// NewSendHandler creates a new send handler
func NewSendHandler(dispatch service.DispatchService, tokens service.TokenService, log zerolog.Logger) *SendHandler {
	return &SendHandler{
		dispatch: dispatch,
		tokens:   tokens,
		log:      log,
	}
}

type sendEmailRequest struct {
	// Type names a built-in template: confirm, reset or welcome
	Type        string         `json:"type"`
	Email       string         `json:"email"`
	To          string         `json:"to"`
	UserID      string         `json:"userId"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	HTML        string         `json:"html"`
	TokenOrCode string         `json:"tokenOrCode"`
	FirstName   string         `json:"firstName"`
	Variables   map[string]any `json:"variables"`
}

// tokenOrCode lands in the variable each template expects
var templateSlot = map[string]string{
	"confirm": "token",
	"reset":   "code",
	"welcome": "firstName",
}

func (req sendEmailRequest) toSendRequest() entity.SendRequest {
	recipient := req.Email
	if recipient == "" {
		recipient = req.To
	}
	body := req.Body
	if body == "" {
		body = req.HTML
	}

	out := entity.SendRequest{
		OwnerID:   req.UserID,
		Title:     req.Subject,
		Body:      body,
		Recipient: recipient,
	}

	if req.Type != "" {
		vars := make(map[string]any, len(req.Variables)+3)
		for k, v := range req.Variables {
			vars[k] = v
		}
		vars["email"] = recipient
		if req.FirstName != "" {
			vars["firstName"] = req.FirstName
		}
		if slot, ok := templateSlot[strings.ToLower(req.Type)]; ok && req.TokenOrCode != "" {
			vars[slot] = req.TokenOrCode
		}
		out.Template = req.Type
		out.Variables = vars
	}

	return out
}

// SendEmail handles POST /api/v1/notifications/email
func (h *SendHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.dispatch.SendEmail(r.Context(), req.toSendRequest())
	h.respond(w, result, err)
}

type sendSMSRequest struct {
	To          string `json:"to"`
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	// Type "reset" with Code builds the password reset message
	Type string `json:"type"`
	Code string `json:"code"`
}

// SendSMS handles POST /api/v1/notifications/sms
func (h *SendHandler) SendSMS(w http.ResponseWriter, r *http.Request) {
	var req sendSMSRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipient := req.To
	if recipient == "" {
		recipient = req.PhoneNumber
	}
	message := req.Message
	if message == "" && strings.EqualFold(req.Type, "reset") && req.Code != "" {
		message = fmt.Sprintf("Your password reset code: %s", req.Code)
	}

	result, err := h.dispatch.SendSMS(r.Context(), entity.SendRequest{
		OwnerID:     req.UserID,
		Body:        message,
		Recipient:   recipient,
		CountryCode: req.CountryCode,
	})
	h.respond(w, result, err)
}

type sendPushRequest struct {
	UserID string            `json:"userId"`
	Token  string            `json:"token"`
	Topic  string            `json:"topic"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
}

// SendPush handles POST /api/v1/notifications/push
func (h *SendHandler) SendPush(w http.ResponseWriter, r *http.Request) {
	var req sendPushRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.dispatch.SendPush(r.Context(), entity.SendRequest{
		OwnerID: req.UserID,
		Title:   req.Title,
		Body:    req.Body,
		Token:   req.Token,
		Topic:   req.Topic,
		Data:    req.Data,
	})
	h.respond(w, result, err)
}

// respond answers 200 for every processed send. Provider failures are
// reported in the body, the record exists either way.
func (h *SendHandler) respond(w http.ResponseWriter, result *entity.DispatchResult, err error) {
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type pushTargetRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// AddTarget handles POST /api/v1/notifications/push/tokens
func (h *SendHandler) AddTarget(w http.ResponseWriter, r *http.Request) {
	var req pushTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.tokens.AddTarget(r.Context(), req.UserID, req.Token); err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "push token registered"})
}

// RemoveTarget handles DELETE /api/v1/notifications/push/tokens
func (h *SendHandler) RemoveTarget(w http.ResponseWriter, r *http.Request) {
	var req pushTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.tokens.RemoveTarget(r.Context(), req.UserID, req.Token); err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "push token removed"})
}
