// Package httpjson is the rate-limited JSON transport shared by the ledger,
// index and token issuer clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jtacoma/uritemplates"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	// Maximum response body size (1MB)
	maxResponseSize = 1 << 20
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	// Headers are sent on every request, e.g. an API key.
	Headers    map[string]string
	HTTPClient *http.Client
}

// Client sends JSON requests to URLs expanded from RFC 6570 templates.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	headers map[string]string
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		base:    strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		limiter: limiter,
		headers: cfg.Headers,
	}
}

// Template parses a path template; it panics on malformed templates, which
// are compile-time constants.
func Template(path string) *uritemplates.UriTemplate {
	t, err := uritemplates.Parse("{+base}" + path)
	if err != nil {
		panic(fmt.Sprintf("httpjson: bad template %q: %v", path, err))
	}
	return t
}

// Do expands tmpl with vars, sends body as JSON and decodes a 2xx response
// into out. out may be nil.
func (c *Client) Do(ctx context.Context, method string, tmpl *uritemplates.UriTemplate, vars map[string]interface{}, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	values := map[string]interface{}{"base": c.base}
	for k, v := range vars {
		values[k] = v
	}
	url, err := tmpl.Expand(values)
	if err != nil {
		return fmt.Errorf("failed to build request url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(limited, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
