// Package httpclient is the JSON-over-HTTP transport shared by the remote
// embedding and chat collaborators.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        uint64
	RetryBase         time.Duration
	RequestsPerSecond float64
}

// Client posts JSON documents to an OpenAI-compatible API, retrying
// transport errors, 429 and 5xx responses with exponential backoff. A
// Retry-After header given in seconds replaces the next backoff step.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	retryBase  time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
	// RetryAfter is the server's Retry-After hint; negative when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("POST %s failed: %s: %s", e.URL, e.Status, e.Body)
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := cfg.RetryBase
	if base == 0 {
		base = 200 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		retryBase:  base,
	}
}

// PostJSON sends body to baseURL+path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	hint := time.Duration(-1)
	exp := retry.WithCappedDuration(5*time.Second, retry.NewExponential(c.retryBase))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		if hint >= 0 {
			next, hint = hint, -1
		}
		return next, false
	})
	return retry.Do(ctx, retry.WithMaxRetries(c.maxRetries, backoff), func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 300 {
			serr := &StatusError{
				URL:        url,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       truncate(string(payload), 200),
				RetryAfter: retryAfter(resp.Header),
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				hint = serr.RetryAfter
				return retry.RetryableError(serr)
			}
			return serr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", url, err)
		}
		return nil
	})
}

// retryAfter reads a Retry-After header in delta-seconds form. HTTP dates
// and malformed values give -1.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return -1
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
