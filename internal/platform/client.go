// Package platform is a thin client for the platform's internal API,
// used by the built-in assistant tools (orders, payment links, schedule,
// shopping lists, catalog search).
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
)

// Client calls the platform's internal REST API. Requests and responses
// are opaque JSON; the assistant relays them between tool handlers and
// the model.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a platform API client.
func NewClient(cfg config.PlatformConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateOrder places an order on behalf of the vendor.
func (c *Client) CreateOrder(ctx context.Context, vendorID string, payload []byte) (string, error) {
	return c.post(ctx, fmt.Sprintf("/internal/vendors/%s/orders", url.PathEscape(vendorID)), payload)
}

// CreatePaymentLink creates a payment link the vendor can forward.
func (c *Client) CreatePaymentLink(ctx context.Context, vendorID string, payload []byte) (string, error) {
	return c.post(ctx, fmt.Sprintf("/internal/vendors/%s/payment-links", url.PathEscape(vendorID)), payload)
}

// GetSchedule returns the vendor's bookings for a day.
func (c *Client) GetSchedule(ctx context.Context, vendorID, date string) (string, error) {
	path := fmt.Sprintf("/internal/vendors/%s/schedule", url.PathEscape(vendorID))
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	return c.get(ctx, path)
}

// UpdateShoppingList applies edits to a client's shopping list.
func (c *Client) UpdateShoppingList(ctx context.Context, vendorID string, payload []byte) (string, error) {
	return c.post(ctx, fmt.Sprintf("/internal/vendors/%s/shopping-list", url.PathEscape(vendorID)), payload)
}

// SearchProducts searches the vendor's catalog.
func (c *Client) SearchProducts(ctx context.Context, vendorID, query string) (string, error) {
	path := fmt.Sprintf("/internal/vendors/%s/products?q=%s", url.PathEscape(vendorID), url.QueryEscape(query))
	return c.get(ctx, path)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read platform response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"path":   req.URL.Path,
		}).Warn("Platform API returned error status")
		return "", fmt.Errorf("platform API error %d: %s", resp.StatusCode, string(body))
	}

	return string(body), nil
}
