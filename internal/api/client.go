// Package api provides the HTTP client for the membership backend.
//
// This file implements the gateway itself: one typed method per
// endpoint, each with its own timeout, wrapped in a shared retry loop
// with exponential backoff.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Per-endpoint timeouts. Reads are fast; preview pricing and contract
// creation do real work on the backend and get more room.
const (
	OffersTimeout  = 10 * time.Second
	DetailTimeout  = 5 * time.Second
	PreviewTimeout = 15 * time.Second
	SessionTimeout = 10 * time.Second
	SignupTimeout  = 30 * time.Second
)

// Retry policy for retryable failures.
const (
	MaxAttempts    = 3
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 10 * time.Second
)

// Endpoint paths on the membership backend.
const (
	offersPath  = "/v1/memberships/membership-offers"
	previewPath = "/v1/memberships/signup/preview"
	sessionPath = "/v1/payments/user-session"
	signupPath  = "/v1/memberships/signup"
)

// apiKeyHeader authenticates every request.
const apiKeyHeader = "X-API-KEY"

// Opts holds client configuration.
type Opts struct {
	BaseURL string
	APIKey  string
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
	// Sleep overrides the retry delay function, mainly for tests.
	Sleep func(context.Context, time.Duration) error
}

// Option configures client construction.
type Option func(*Opts)

// WithBaseURL sets the backend base URL.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the membership backend. All methods return *APIError
// on failure.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
}

// NewClient creates a configured client. BaseURL and APIKey are
// required; a client missing either fails every call with CONFIG_ERROR
// rather than failing construction, so the flow can surface the problem
// where the user sees it.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		sleep:      sleep,
	}
}

// Configured reports whether the client has the settings every call
// needs.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) checkConfig() *APIError {
	if c.baseURL == "" {
		return newConfigError("API base URL is not configured")
	}
	if c.apiKey == "" {
		return newConfigError("API key is not configured")
	}
	return nil
}

// errorBody is the backend's error response shape.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

// call performs one HTTP exchange and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &APIError{Code: ErrCodeUnknown, Message: fmt.Sprintf("failed to marshal request body: %v", err), cause: err}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &APIError{Code: ErrCodeUnknown, Message: fmt.Sprintf("failed to build request: %v", err), cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		message := eb.Message
		if message == "" {
			message = eb.Error
		}
		return statusError(resp.StatusCode, message, eb.Details)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Code: ErrCodeUnknown, Message: fmt.Sprintf("failed to decode response: %v", err), cause: err}
		}
	}
	return nil
}

// callWithRetry wraps call with the retry policy: up to MaxAttempts
// tries for retryable failures, exponential backoff capped at
// maxRetryDelay. Configuration errors fail fast without touching the
// network.
func (c *Client) callWithRetry(ctx context.Context, method, path string, timeout time.Duration, body, out any) error {
	if err := c.checkConfig(); err != nil {
		slog.Error("Client not configured", "path", path, "error", err)
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.call(attemptCtx, method, path, body, out)
		cancel()
		if err == nil {
			if attempt > 1 {
				slog.Debug("Client call recovered after retry", "path", path, "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			slog.Debug("Client call failed, not retryable", "path", path, "error", err)
			return err
		}
		if attempt == MaxAttempts {
			break
		}
		delay := retryDelay(attempt)
		slog.Debug("Client call failed, retrying", "path", path, "attempt", attempt, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return transportError(err)
		}
	}
	slog.Error("Client call exhausted retries", "path", path, "attempts", MaxAttempts, "error", lastErr)
	return lastErr
}

// retryDelay returns the backoff before the next attempt: 1s, 2s, 4s...
// capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
