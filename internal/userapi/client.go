// Package userapi is the client of the account backend: authentication,
// profile, watchlist, dashboards, alerts and the admin endpoints.
package userapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cryptodash/internal/util"
)

// TokenStore holds the bearer token between runs.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Options tunes a Client.
type Options struct {
	Timeout time.Duration
	// ReadRetries is the number of attempts for GET requests. Auth errors
	// are never retried.
	ReadRetries int
	// OnUnauthorized runs after a 401 cleared the token.
	OnUnauthorized func()
	// OnForbidden runs after a 403.
	OnForbidden func()
}

// Client talks to the user API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	opts       Options
	log        *slog.Logger
}

// NewClient creates a user API client.
func NewClient(baseURL string, tokens TokenStore, opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ReadRetries < 1 {
		opts.ReadRetries = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		tokens:     tokens,
		opts:       opts,
		log:        log,
	}
}

// SignedIn reports whether a token is stored.
func (c *Client) SignedIn(ctx context.Context) bool {
	tok, err := c.tokens.Token(ctx)
	return err == nil && tok != ""
}

// do sends a request and applies the 401/403 policy to the outcome.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.request(ctx, method, path, body, out)
	if err != nil {
		c.handleAuthError(ctx, err)
	}
	return err
}

// request sends a request with the bearer token and decodes a JSON response
// into out when out is non-nil. GETs are retried on transport and 5xx
// errors.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.opts.ReadRetries
	}
	return util.Retry(ctx, attempts, 200*time.Millisecond, func() error {
		err := c.once(ctx, method, path, payload, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return util.Permanent(err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) handleAuthError(ctx context.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		if err := c.tokens.ClearToken(ctx); err != nil {
			c.log.Error("clearing token after 401 failed", "error", err)
		}
		c.log.Warn("session rejected, signed out", "path", apiErr.Path)
		if c.opts.OnUnauthorized != nil {
			c.opts.OnUnauthorized()
		}
	case http.StatusForbidden:
		c.log.Warn("insufficient privileges", "path", apiErr.Path)
		if c.opts.OnForbidden != nil {
			c.opts.OnForbidden()
		}
	}
}

// readDetail extracts FastAPI's {"detail": ...} message, falling back to the
// raw body.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 1024))
	var body struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(body.Detail)
		return string(b)
	}
	return strings.TrimSpace(string(raw))
}
