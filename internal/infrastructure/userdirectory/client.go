package userdirectory

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

type Client struct {
	http *resty.Client
}

var _ service.UserDirectory = (*Client)(nil)

// NewClient creates a client for the user data service
func NewClient(cfg *config.UserDirectoryConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: user directory url is required", entity.ErrConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.URL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}, nil
}

// GetUser retrieves a user by ID
func (c *Client) GetUser(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&user).
		Get("/api/users/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("user %s: %w", id, entity.ErrNotFound)
	case resp.IsError():
		return nil, fmt.Errorf("failed to get user: unexpected status %s", resp.Status())
	}

	if user.ID == "" {
		user.ID = id
	}
	return &user, nil
}

// UpdateUser applies a partial update to a user
func (c *Client) UpdateUser(ctx context.Context, id string, fields map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(fields).
		Put("/api/users/{id}")
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("user %s: %w", id, entity.ErrNotFound)
	case resp.IsError():
		return fmt.Errorf("failed to update user: unexpected status %s", resp.Status())
	}

	return nil
}
