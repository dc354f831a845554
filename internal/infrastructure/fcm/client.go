package fcm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL     = "https://fcm.googleapis.com"
	messagingScope     = "https://www.googleapis.com/auth/firebase.messaging"
	defaultConcurrency = 10
)

type notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type message struct {
	Token        string            `json:"token,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	Notification *notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type sendRequest struct {
	ValidateOnly bool    `json:"validate_only,omitempty"`
	Message      message `json:"message"`
}

type sendResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// errorCode returns the FCM specific code, falling back to the RPC status
func (e errorResponse) errorCode() string {
	for _, d := range e.Error.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode
		}
	}
	return e.Error.Status
}

type Client struct {
	http        *resty.Client
	projectID   string
	concurrency int
}

var (
	_ service.ChannelAdapter = (*Client)(nil)
	_ service.TokenValidator = (*Client)(nil)
)

// NewClient creates an FCM HTTP v1 push adapter authenticated with the
// service account in cfg.CredentialsFile, or application default credentials.
func NewClient(ctx context.Context, cfg *config.FCMConfig) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: fcm project id is required", entity.ErrConfiguration)
	}

	var (
		creds *google.Credentials
		err   error
	)
	if cfg.CredentialsFile != "" {
		data, readErr := os.ReadFile(cfg.CredentialsFile)
		if readErr != nil {
			return nil, fmt.Errorf("%w: failed to read fcm credentials: %v", entity.ErrConfiguration, readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, messagingScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, messagingScope)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load fcm credentials: %v", entity.ErrConfiguration, err)
	}

	return NewClientWithHTTP(cfg, oauth2.NewClient(ctx, creds.TokenSource)), nil
}

// NewClientWithHTTP creates an FCM adapter sending through an already
// authenticated HTTP client
func NewClientWithHTTP(cfg *config.FCMConfig, httpClient *http.Client) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	client := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:        client,
		projectID:   cfg.ProjectID,
		concurrency: concurrency,
	}
}

func (c *Client) Channel() entity.Channel {
	return entity.ChannelPush
}

// Send delivers to a topic, or fans out to every token with bounded
// concurrency. The result succeeds when at least one token accepted the
// message; rejected tokens are reported in InvalidTargets.
func (c *Client) Send(ctx context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult {
	data := payloadData(extra)

	if dest.Topic != "" {
		id, kind, detail := c.send(ctx, message{
			Topic:        dest.Topic,
			Notification: &notification{Title: title, Body: body},
			Data:         data,
		}, false)
		if kind != entity.ErrorKindNone {
			return entity.Failure(kind, detail)
		}
		return entity.SendResult{Success: true, ProviderMessageID: id, ProviderStatus: "sent"}
	}

	if len(dest.Tokens) == 0 {
		return entity.Failure(entity.ErrorKindPermanentInvalidTarget, "no push tokens")
	}

	targets := make([]entity.TargetResult, len(dest.Tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, token := range dest.Tokens {
		g.Go(func() error {
			id, kind, detail := c.send(gctx, message{
				Token:        token,
				Notification: &notification{Title: title, Body: body},
				Data:         data,
			}, false)
			targets[i] = entity.TargetResult{
				Token:     token,
				Success:   kind == entity.ErrorKindNone,
				MessageID: id,
				ErrorKind: kind,
				Error:     detail,
			}
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(targets)
}

// ValidateToken dry-runs a send to token
func (c *Client) ValidateToken(ctx context.Context, token string) (entity.ErrorKind, error) {
	_, kind, detail := c.send(ctx, message{Token: token}, true)
	if kind == entity.ErrorKindNone {
		return kind, nil
	}
	return kind, fmt.Errorf("%w: %s", entity.ErrProvider, detail)
}

func (c *Client) send(ctx context.Context, msg message, validateOnly bool) (string, entity.ErrorKind, string) {
	var (
		result  sendResponse
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("project", c.projectID).
		SetBody(sendRequest{ValidateOnly: validateOnly, Message: msg}).
		SetResult(&result).
		SetError(&failure).
		Post("/v1/projects/{project}/messages:send")
	if err != nil {
		return "", entity.ErrorKindTransient, fmt.Sprintf("failed to send push: %v", err)
	}
	if resp.IsError() {
		code := failure.errorCode()
		return "", Classify(code, resp.StatusCode()), fmt.Sprintf("fcm error %s: %s", code, failure.Error.Message)
	}

	return result.Name, entity.ErrorKindNone, ""
}

func aggregate(targets []entity.TargetResult) entity.SendResult {
	var (
		res       = entity.SendResult{Targets: targets}
		lastKind  entity.ErrorKind
		lastError string
	)
	for _, t := range targets {
		if t.Success {
			if !res.Success {
				res.ProviderMessageID = t.MessageID
			}
			res.Success = true
			continue
		}
		if t.ErrorKind == entity.ErrorKindPermanentInvalidTarget {
			res.InvalidTargets = append(res.InvalidTargets, t.Token)
		}
		lastKind, lastError = t.ErrorKind, t.Error
	}

	if res.Success {
		res.ProviderStatus = "sent"
		return res
	}

	res.ErrorKind = lastKind
	res.ErrorDetail = fmt.Sprintf("all %d push targets failed: %s", len(targets), lastError)
	return res
}

// Classify maps an FCM error code and HTTP status onto an error kind.
// INVALID_ARGUMENT also covers payload errors, so only codes naming the
// token itself mark a target invalid.
func Classify(code string, httpStatus int) entity.ErrorKind {
	switch code {
	case "UNREGISTERED", "SENDER_ID_MISMATCH":
		return entity.ErrorKindPermanentInvalidTarget
	case "INVALID_ARGUMENT":
		return entity.ErrorKindUnknown
	case "THIRD_PARTY_AUTH_ERROR", "PERMISSION_DENIED", "UNAUTHENTICATED":
		return entity.ErrorKindConfiguration
	case "QUOTA_EXCEEDED", "UNAVAILABLE", "INTERNAL", "RESOURCE_EXHAUSTED":
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

// payloadData builds the FCM data map. Values must be strings.
func payloadData(extra map[string]any) map[string]string {
	data := make(map[string]string)
	if d, ok := extra["data"].(map[string]string); ok {
		for k, v := range d {
			data[k] = v
		}
	}
	if id, ok := extra["notificationId"].(string); ok && id != "" {
		data["notificationId"] = id
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
