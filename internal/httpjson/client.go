package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response status is worth retrying (429 and 5xx).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Auth carries optional credentials. Basic auth wins when a username is set.
type Auth struct {
	Username string
	Password string
	Bearer   string
}

// Client sends JSON requests with a per-call timeout and bounded retries with exponential
// backoff. Transport errors, 429 and 5xx are retried; other statuses fail immediately.
type Client struct {
	httpClient *http.Client
	auth       Auth
	attempts   int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client, e.g. to inject a fake transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuth sets request credentials.
func WithAuth(auth Auth) Option {
	return func(c *Client) { c.auth = auth }
}

// WithRetries sets the total attempts (at least one) and the first backoff delay.
func WithRetries(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = attempts
		c.baseDelay = baseDelay
	}
}

// New creates a client with the given timeout per attempt.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		attempts:   1,
		baseDelay:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends payload (nil for no body) to endpoint and decodes a JSON response into out (nil to
// discard).
func (c *Client) Do(ctx context.Context, method, endpoint string, payload, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.baseDelay * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := c.once(ctx, method, endpoint, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// PostJSON is Do with POST.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload, out any) error {
	return c.Do(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *Client) once(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.auth.Username != "":
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	case c.auth.Bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.auth.Bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Join appends path to base with exactly one slash between them.
func Join(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
