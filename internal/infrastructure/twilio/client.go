package twilio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.twilio.com"

// Twilio REST error codes, see https://www.twilio.com/docs/api/errors
const (
	codeAuthenticationFailed = 20003
	codeResourceNotFound     = 20404
	codeTooManyRequests      = 20429
	codeInvalidTo            = 21211
	codeNotPermittedRegion   = 21408
	codeUnsubscribed         = 21610
	codeNotMobile            = 21614
	codeInvalidFrom          = 21606
	codeQueueOverflow        = 30001
)

type messageResponse struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

type Client struct {
	http        *resty.Client
	cfg         *config.TwilioConfig
	callbackURL string
}

var _ service.ChannelAdapter = (*Client)(nil)

// NewClient creates a Twilio SMS adapter. callbackURL, when set, is sent as
// the StatusCallback of every message.
func NewClient(cfg *config.TwilioConfig, callbackURL string) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token are required", entity.ErrConfiguration)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: twilio sender number is required", entity.ErrConfiguration)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &Client{
		http:        client,
		cfg:         cfg,
		callbackURL: callbackURL,
	}, nil
}

func (c *Client) Channel() entity.Channel {
	return entity.ChannelSMS
}

// Send creates a message. Title is ignored, SMS carries the body only.
func (c *Client) Send(ctx context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult {
	form := map[string]string{
		"To":   dest.Address,
		"From": c.cfg.From,
		"Body": body,
	}
	if c.callbackURL != "" {
		form["StatusCallback"] = c.callbackURL
	}

	var (
		result  messageResponse
		failure apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sid", c.cfg.AccountSID).
		SetFormData(form).
		SetResult(&result).
		SetError(&failure).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return entity.Failure(entity.ErrorKindTransient, fmt.Sprintf("failed to send sms: %v", err))
	}

	if resp.IsError() {
		kind := Classify(failure.Code, resp.StatusCode())
		detail := failure.Message
		if detail == "" {
			detail = resp.Status()
		}
		return entity.Failure(kind, fmt.Sprintf("twilio error %d: %s", failure.Code, detail))
	}

	if result.ErrorCode != nil {
		detail := ""
		if result.ErrorMessage != nil {
			detail = *result.ErrorMessage
		}
		return entity.Failure(Classify(*result.ErrorCode, resp.StatusCode()), fmt.Sprintf("twilio error %d: %s", *result.ErrorCode, detail))
	}

	return entity.SendResult{
		Success:           true,
		ProviderMessageID: result.SID,
		ProviderStatus:    result.Status,
		Delivered:         result.Status == "delivered",
		Metadata:          map[string]any{entity.MetadataRecipient: dest.Address},
	}
}

// Classify maps a Twilio error code and HTTP status onto an error kind
func Classify(code, httpStatus int) entity.ErrorKind {
	switch code {
	case codeInvalidTo, codeNotPermittedRegion, codeUnsubscribed, codeNotMobile:
		return entity.ErrorKindPermanentInvalidTarget
	case codeAuthenticationFailed, codeResourceNotFound, codeInvalidFrom:
		return entity.ErrorKindConfiguration
	case codeTooManyRequests, codeQueueOverflow:
		return entity.ErrorKindTransient
	}

	switch {
	case httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden:
		return entity.ErrorKindConfiguration
	case httpStatus == http.StatusTooManyRequests || httpStatus >= http.StatusInternalServerError:
		return entity.ErrorKindTransient
	default:
		return entity.ErrorKindUnknown
	}
}
