package postmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"
	"notify-service/pkg/validation"

	"github.com/mrz1836/postmark"
)

// Postmark API error codes, see https://postmarkapp.com/developer/api/overview#error-codes
const (
	codeInvalidToken       = 10
	codeSenderNotConfirmed = 400
	codeInvalidRecipient   = 300
	codeInactiveRecipient  = 406
	codeAccountPending     = 412
	codeRateLimited        = 429
)

type Client struct {
	client *postmark.Client
	cfg    *config.PostmarkConfig
}

var _ service.ChannelAdapter = (*Client)(nil)

// NewClient creates a Postmark email adapter. Missing tokens or sender fail
// construction so the channel is left unregistered.
func NewClient(cfg *config.PostmarkConfig) (*Client, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", entity.ErrConfiguration)
	}
	if err := validation.ValidateEmail(cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("%w: postmark sender: %v", entity.ErrConfiguration, err)
	}

	return &Client{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

// WithBaseURL points the client at another API root
func (c *Client) WithBaseURL(url string) *Client {
	c.client.BaseURL = url
	return c
}

func (c *Client) Channel() entity.Channel {
	return entity.ChannelEmail
}

func (c *Client) Send(ctx context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult {
	from := c.cfg.FromEmail
	if c.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", c.cfg.FromName, c.cfg.FromEmail)
	}

	email := postmark.Email{
		From:          from,
		To:            dest.Address,
		Subject:       title,
		HTMLBody:      body,
		TrackOpens:    true,
		TrackLinks:    "HtmlOnly",
		MessageStream: c.cfg.MessageStream,
	}
	if tmpl, ok := extra[entity.MetadataTemplate].(string); ok && tmpl != "" {
		email.Tag = tmpl
	}
	if id, ok := extra["notificationId"].(string); ok && id != "" {
		email.Metadata = map[string]string{"notificationId": id}
	}

	resp, err := c.client.SendEmail(ctx, email)

	// API rejections arrive either as a 200 carrying ErrorCode or as a 4xx
	// decoded into APIError. Both come with a non-nil err.
	code, message := resp.ErrorCode, resp.Message
	var apiErr postmark.APIError
	if code == 0 && errors.As(err, &apiErr) {
		code, message = apiErr.ErrorCode, apiErr.Message
	}
	if code != 0 {
		return entity.Failure(Classify(code), fmt.Sprintf("postmark error: %d - %s", code, message))
	}
	if err != nil {
		return entity.Failure(entity.ErrorKindTransient, fmt.Sprintf("failed to send email: %v", err))
	}

	return entity.SendResult{
		Success:           true,
		ProviderMessageID: resp.MessageID,
		ProviderStatus:    "accepted",
		Metadata:          map[string]any{entity.MetadataRecipient: dest.Address},
	}
}

// Classify maps a Postmark API error code onto an error kind
func Classify(code int64) entity.ErrorKind {
	switch {
	case code == 0:
		return entity.ErrorKindNone
	case code == codeInvalidRecipient || code == codeInactiveRecipient:
		return entity.ErrorKindPermanentInvalidTarget
	case code == codeInvalidToken || code == codeSenderNotConfirmed || code == codeAccountPending:
		return entity.ErrorKindConfiguration
	case code == codeRateLimited:
		return entity.ErrorKindTransient
	default:
		return entity.ErrorKindUnknown
	}
}

// WebhookEvent is the subset of a Postmark delivery, bounce or open webhook
// the reconciler needs
type WebhookEvent struct {
	RecordType  string `json:"RecordType"`
	MessageID   string `json:"MessageID"`
	Type        string `json:"Type"`
	TypeCode    int64  `json:"TypeCode"`
	Description string `json:"Description"`
	Details     string `json:"Details"`
}

// ParseWebhook decodes a Postmark webhook body into a delivery callback
func ParseWebhook(body []byte) (entity.DeliveryCallback, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return entity.DeliveryCallback{}, entity.NewValidationError("body", "invalid postmark webhook payload")
	}

	cb := entity.DeliveryCallback{
		ProviderMessageID: ev.MessageID,
		Channel:           entity.ChannelEmail,
		ProviderStatus:    ev.RecordType,
	}
	if ev.TypeCode != 0 {
		cb.ErrorCode = strconv.FormatInt(ev.TypeCode, 10)
	}
	switch {
	case ev.Description != "":
		cb.ErrorMessage = ev.Description
	case ev.Details != "":
		cb.ErrorMessage = ev.Details
	}

	return cb, nil
}
