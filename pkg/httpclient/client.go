// Package httpclient is a thin retrying wrapper around net/http used for all
// outbound provider and tool-server traffic.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries a couple of times with short fixed delays.
	ConservativeRetry
	// SmartRetry backs off exponentially, honoring Retry-After when present.
	SmartRetry
)

type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying retryable status codes. Requests with a
// body must have GetBody set (http.NewRequest does this for common readers).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry || attempt >= c.maxRetries {
			return resp, nil
		}

		delay := c.calculateDelay(strategy, attempt, resp.Header)
		if delay <= 0 {
			return resp, nil
		}

		resp.Body.Close()
		slog.Debug("Retrying HTTP request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max", c.maxRetries)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded", c.maxRetries)
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, headers http.Header) time.Duration {
	switch strategy {
	case SmartRetry:
		if after := retryAfter(headers); after > 0 {
			return after
		}
		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponential) * 0.1)
		return exponential + jitter

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

func retryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
