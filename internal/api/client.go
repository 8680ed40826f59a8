// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the planning backend.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the planning backend API.
const (
	// DefaultBaseURL is the local development backend.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default timeout for REST requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// defaultRateLimit caps requests per second against the backend.
	defaultRateLimit = rate.Limit(10)
	defaultRateBurst = 20
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all REST requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests. No client
	// timeout; stream lifetime is controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the planning backend. The zero retry/limiter
// defaults suit interactive use; tune them with the With methods.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	idleTimeout  time.Duration
}

// NewClient creates a client for the given backend base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		limiter:      rate.NewLimiter(defaultRateLimit, defaultRateBurst),
		maxRetries:   DefaultMaxRetries,
	}
}

// WithHTTPClient sets a custom client for REST requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithStreamClient sets a custom client for streaming requests. It
// must not carry a request timeout.
func (c *Client) WithStreamClient(hc *http.Client) *Client {
	c.streamClient = hc
	return c
}

// WithMaxRetries sets the retry budget for transient REST failures.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// WithRateLimit replaces the default request rate limiter.
func (c *Client) WithRateLimit(limit rate.Limit, burst int) *Client {
	c.limiter = rate.NewLimiter(limit, burst)
	return c
}

// WithIdleTimeout sets the stream idle timeout. Zero keeps the
// stream package default.
func (c *Client) WithIdleTimeout(d time.Duration) *Client {
	c.idleTimeout = d
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// doJSON runs one REST call with rate limiting and retries, decoding
// the response into out when out is non-nil.
//
// RELIABILITY: 429 and 5xx responses are retried with exponential
// backoff; 4xx responses are permanent and fail immediately.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return &RequestError{Op: op, Err: err}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return &RequestError{Op: op, Err: err}
		}

		retry, err := c.attempt(ctx, op, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

// attempt runs a single HTTP exchange. The bool reports whether the
// failure is transient and worth retrying.
func (c *Client) attempt(ctx context.Context, op, method, path string, payload []byte, out any) (bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failures are transient unless the context
		// is done.
		if ctx.Err() != nil {
			return false, &RequestError{Op: op, Err: ctx.Err()}
		}
		return true, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return true, &RequestError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return false, &RequestError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, &RequestError{Op: op, Status: resp.StatusCode, Body: trimBody(data), Err: ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, &RequestError{Op: op, Status: resp.StatusCode, Body: trimBody(data), Err: ErrRateLimited}
	case resp.StatusCode >= 500:
		return true, &RequestError{Op: op, Status: resp.StatusCode, Body: trimBody(data)}
	default:
		return false, &RequestError{Op: op, Status: resp.StatusCode, Body: trimBody(data)}
	}
}

// sleepBackoff waits for the exponential backoff delay before the
// given attempt, aborting early if the context ends.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func trimBody(data []byte) string {
	const max = 512
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
