package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/eventra/notify/internal/domain"
)

// Client talks to the platform REST API. Only the notification surface
// is modeled here; the rest of the platform API is consumed elsewhere.
type Client struct {
	http   *resty.Client
	tokens TokenSource
	logger *zap.Logger
}

// envelope is the platform's standard response shape.
type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *errorInfo `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type unreadCountData struct {
	Count int `json:"count"`
}

type markOpenedData struct {
	Updated int `json:"updated"`
}

// NewClient creates an API client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   http,
		tokens: tokens,
		logger: logger,
	}
}

// FetchFeed returns up to limit notifications, newest first. A non-zero
// before timestamp pages further back in time.
func (c *Client) FetchFeed(ctx context.Context, userID string, limit int, before time.Time) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out envelope[[]*domain.Notification]
	req.SetResult(&out).SetError(&out).
		SetQueryParam("user_id", userID).
		SetQueryParam("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		req.SetQueryParam("before", before.UTC().Format(time.RFC3339Nano))
	}

	resp, err := req.Get("/api/v1/notifications")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	if err := checkResponse(resp, out.Error); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FetchUnreadCount returns the authoritative unread counter.
func (c *Client) FetchUnreadCount(ctx context.Context, userID string) (int, error) {
	req, err := c.request(ctx)
	if err != nil {
		return 0, err
	}

	var out envelope[unreadCountData]
	resp, err := req.SetResult(&out).SetError(&out).
		SetQueryParam("user_id", userID).
		Get("/api/v1/notifications/unread-count")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread count: %w", err)
	}
	if err := checkResponse(resp, out.Error); err != nil {
		return 0, err
	}
	return out.Data.Count, nil
}

// MarkOpened marks the given notification ids opened and returns the
// number of rows the server actually updated.
func (c *Client) MarkOpened(ctx context.Context, userID string, ids []string) (int, error) {
	req, err := c.request(ctx)
	if err != nil {
		return 0, err
	}

	var out envelope[markOpenedData]
	resp, err := req.SetResult(&out).SetError(&out).
		SetBody(map[string]interface{}{"user_id": userID, "ids": ids}).
		Post("/api/v1/notifications/opened")
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications opened: %w", err)
	}
	if err := checkResponse(resp, out.Error); err != nil {
		return 0, err
	}
	return out.Data.Updated, nil
}

// RegisterDevice registers this device's push token with the platform.
func (c *Client) RegisterDevice(ctx context.Context, reg domain.DeviceRegistration) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	var out envelope[map[string]interface{}]
	resp, err := req.SetResult(&out).SetError(&out).
		SetBody(reg).
		Post("/api/v1/devices")
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return checkResponse(resp, out.Error)
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("no usable access token: %w", err)
		}
		if token != "" {
			req.SetAuthToken(token)
		}
	}
	return req, nil
}

func checkResponse(resp *resty.Response, apiErr *errorInfo) error {
	if !resp.IsError() {
		return nil
	}
	if apiErr != nil {
		return fmt.Errorf("api error %s: %s", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("api error: status %d", resp.StatusCode())
}
