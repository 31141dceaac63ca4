// Package client calls the portal's /api/auth endpoints. Every call returns
// an action.Result: transport problems come back as errors, HTTP failures as
// failed results carrying the server's message.
package client

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wispberry-tech/wispy-portal/action"
)

const defaultUserAgent = "portalctl/1.0"

// Client is a portal API client. It is safe for concurrent use once
// configured; SetToken must not race with calls.
type Client struct {
	baseURL    string
	basePath   string
	token      string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken authenticates calls with a session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithUserAgent sets the User-Agent header. The gateway's bot detection
// refuses requests without one.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBasePath sets the path the auth routes are mounted under.
func WithBasePath(path string) Option {
	return func(c *Client) { c.basePath = strings.TrimSuffix(path, "/") }
}

// New creates a client for the portal at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		basePath:   "/api/auth",
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the session token, e.g. after signing in.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *Client) Token() string {
	return c.token
}

// errorPayload covers both error shapes the server produces: the
// framework's {"error": "..."} and the gateway's {"message": "..."}.
type errorPayload struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (p errorPayload) message() string {
	if len(p.Error) > 0 {
		var s string
		if err := json.Unmarshal(p.Error, &s); err == nil {
			return cmp.Or(s, p.Message)
		}
		var obj action.ResultError
		if err := json.Unmarshal(p.Error, &obj); err == nil {
			return cmp.Or(obj.Message, p.Message)
		}
	}
	return p.Message
}

// call performs a request and decodes a 2xx body into T.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (action.Result[T], error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return action.Result[T]{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	target := c.baseURL + c.basePath + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return action.Result[T]{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return action.Result[T]{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return action.Result[T]{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload errorPayload
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &payload)
		}
		return action.Fail[T](&action.ResultError{
			Message:    payload.message(),
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}), nil
	}

	var data T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return action.Result[T]{}, fmt.Errorf("decode response: %w", err)
		}
	}
	return action.Ok(data), nil
}
