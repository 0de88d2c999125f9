package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Endpoint paths, relative to the backend base URL.
const (
	PathCreateCheckoutSession = "/create-checkout-session"
	PathGetCheckoutSession    = "/get-checkout-session"
	PathSubscriptionStatus    = "/subscription-status"
	PathResolveSubscription   = "/resolve-subscription"
	PathCancelSubscription    = "/cancel-subscription"
)

// RequestIDHeader carries a per-request id for log correlation.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// Client calls the billing backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a billing backend client. A nil httpClient selects a
// client with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateCheckoutSession starts a hosted checkout and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, priceID, customerEmail string) (string, error) {
	var resp CheckoutResponse
	body := CheckoutRequest{PriceID: priceID, CustomerEmail: customerEmail}
	if err := c.do(ctx, http.MethodPost, PathCreateCheckoutSession, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("billing %s: response has no url", PathCreateCheckoutSession)
	}
	return resp.URL, nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var resp CheckoutSession
	q := url.Values{"session_id": {sessionID}}
	if err := c.do(ctx, http.MethodGet, PathGetCheckoutSession, q, nil, &resp); err != nil {
		return CheckoutSession{}, err
	}
	return resp, nil
}

// SubscriptionStatus retrieves the current state of a subscription.
func (c *Client) SubscriptionStatus(ctx context.Context, subscriptionID string) (Subscription, error) {
	var resp Subscription
	q := url.Values{"subscriptionId": {subscriptionID}}
	if err := c.do(ctx, http.MethodGet, PathSubscriptionStatus, q, nil, &resp); err != nil {
		return Subscription{}, err
	}
	return resp, nil
}

// ResolveSubscription looks up the most recent subscription for an email.
// It returns ErrNotFound when the backend has none.
func (c *Client) ResolveSubscription(ctx context.Context, email string) (Subscription, error) {
	var resp Subscription
	q := url.Values{"email": {email}}
	if err := c.do(ctx, http.MethodGet, PathResolveSubscription, q, nil, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	return resp, nil
}

// CancelSubscription cancels a subscription, immediately or at period end.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (Subscription, error) {
	var resp Subscription
	body := CancelRequest{SubscriptionID: subscriptionID, CancelAtPeriodEnd: atPeriodEnd}
	if err := c.do(ctx, http.MethodPost, PathCancelSubscription, nil, body, &resp); err != nil {
		return Subscription{}, err
	}
	return resp, nil
}

// do sends one request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("billing %s: encode request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("billing %s: build request: %w", path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("billing request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Endpoint: path, StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			se.Message = er.Error
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("billing %s: decode response: %w", path, err)
	}
	return nil
}
