package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/wispberry-tech/wispy-portal/core"
)

// fallbackKey identifies requests with neither a session nor a client address.
const fallbackKey = "127.0.0.1"

// SessionResolver resolves the session of a request. *core.AuthService satisfies it.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*core.SessionContext, bool)
}

// Gateway screens POST requests through a Protector before delegating them.
type Gateway struct {
	protector    Protector
	sessions     SessionResolver
	signUpPath   string
	maxBodyBytes int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSignUpPath sets the path suffix that selects the sign-up rules.
func WithSignUpPath(suffix string) Option {
	return func(g *Gateway) { g.signUpPath = suffix }
}

// WithMaxBodyBytes bounds the buffered request body.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) { g.maxBodyBytes = n }
}

// New creates a Gateway. sessions may be nil, in which case identities are IP based.
func New(protector Protector, sessions SessionResolver, opts ...Option) *Gateway {
	g := &Gateway{
		protector:    protector,
		sessions:     sessions,
		signUpPath:   "/sign-up/email",
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware wraps next. Only POST requests are evaluated.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := g.readBody(r)
		if err != nil {
			slog.Debug("Rejected request body", "path", r.URL.Path, "error", err)
			status := http.StatusBadRequest
			if errors.Is(err, ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			w.WriteHeader(status)
			return
		}

		decision, err := g.protector.Protect(r.Context(), g.evaluationRequest(r, body))
		if err != nil {
			slog.Error("Failed to evaluate request protection", "path", r.URL.Path, "error", err)
			decision = Allow()
		}
		if decision.IsDenied() {
			slog.Debug("Request denied", "path", r.URL.Path, "reason", decision.Reason, "emailTypes", decision.EmailTypes)
			writeDenial(w, decision)
			return
		}

		next.ServeHTTP(w, withBody(r, body))
	})
}

func (g *Gateway) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > g.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// evaluationRequest builds the protector input from a clone of r reading its own copy of body.
func (g *Gateway) evaluationRequest(r *http.Request, body []byte) Request {
	req := Request{
		Rules:     RulesGeneric,
		Key:       g.identityKey(r),
		IP:        core.ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		Body:      body,
		HTTP:      withBody(r.Clone(r.Context()), body),
	}
	if strings.HasSuffix(r.URL.Path, g.signUpPath) {
		if email, ok := signUpEmail(r.Header.Get("Content-Type"), body); ok {
			req.Rules = RulesSignUp
			req.Email = email
		}
	}
	return req
}

func (g *Gateway) identityKey(r *http.Request) string {
	if g.sessions != nil {
		if sc, ok := g.sessions.ResolveSession(r); ok && sc.User != nil {
			return sc.User.ID
		}
	}
	if ip := core.ClientIP(r); ip != "" {
		return ip
	}
	return fallbackKey
}

// signUpEmail extracts the email field when it is a string.
func signUpEmail(contentType string, body []byte) (string, bool) {
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil || !values.Has("email") {
			return "", false
		}
		return values.Get("email"), true
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	email, ok := payload["email"].(string)
	return email, ok
}

func withBody(r *http.Request, body []byte) *http.Request {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return r
}

func writeDenial(w http.ResponseWriter, d Decision) {
	switch d.Reason {
	case ReasonRateLimit:
		w.WriteHeader(http.StatusTooManyRequests)
	case ReasonEmail:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(map[string]string{"message": EmailDenialMessage(d)}); err != nil {
			slog.Error("Failed to encode denial", "error", err)
		}
	default:
		w.WriteHeader(http.StatusForbidden)
	}
}
