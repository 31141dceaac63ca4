package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispberry-tech/wispy-portal/core"
)

// recordingProtector returns a fixed decision and records what it saw.
type recordingProtector struct {
	decision Decision
	err      error
	calls    []Request
	bodies   []string
}

func (p *recordingProtector) Protect(_ context.Context, req Request) (Decision, error) {
	p.calls = append(p.calls, req)
	if req.HTTP != nil && req.HTTP.Body != nil {
		b, _ := io.ReadAll(req.HTTP.Body)
		p.bodies = append(p.bodies, string(b))
	}
	return p.decision, p.err
}

type staticSessions struct{ userID string }

func (s staticSessions) ResolveSession(*http.Request) (*core.SessionContext, bool) {
	if s.userID == "" {
		return nil, false
	}
	return &core.SessionContext{User: &core.User{ID: s.userID}, Session: &core.Session{}}, true
}

// echoHandler counts calls and echoes the request body with a 201.
type echoHandler struct{ calls int }

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("X-Echo", "yes")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

func post(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", "Mozilla/5.0")
	return r
}

func TestGateway_GetPassesThrough(t *testing.T) {
	protector := &recordingProtector{decision: Deny(ReasonBot)}
	next := &echoHandler{}
	rec := httptest.NewRecorder()

	New(protector, nil).Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, protector.calls)
}

func TestGateway_EmailDenials(t *testing.T) {
	tests := []struct {
		name  string
		types []EmailType
		want  string
	}{
		{"disposable", []EmailType{EmailDisposable}, MessageDisposable},
		{"disposable_wins", []EmailType{EmailNoMXRecords, EmailInvalid, EmailDisposable}, MessageDisposable},
		{"invalid", []EmailType{EmailInvalid}, MessageInvalid},
		{"invalid_before_mx", []EmailType{EmailNoMXRecords, EmailInvalid}, MessageInvalid},
		{"no_mx", []EmailType{EmailNoMXRecords}, MessageNoMX},
		{"other", []EmailType{EmailFree}, MessageFallback},
		{"none", nil, MessageFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &echoHandler{}
			rec := httptest.NewRecorder()
			g := New(&recordingProtector{decision: Deny(ReasonEmail, tt.types...)}, nil)

			g.Middleware(next).ServeHTTP(rec, post("/api/auth/sign-up/email", `{"email":"x@example.com"}`))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"message":"`+tt.want+`"}`, rec.Body.String())
			assert.Equal(t, 0, next.calls, "denied request must not be delegated")
		})
	}
}

func TestGateway_OtherDenials(t *testing.T) {
	tests := []struct {
		reason Reason
		want   int
	}{
		{ReasonRateLimit, http.StatusTooManyRequests},
		{ReasonBot, http.StatusForbidden},
		{ReasonShield, http.StatusForbidden},
		{Reason("UNKNOWN"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			next := &echoHandler{}
			rec := httptest.NewRecorder()

			New(&recordingProtector{decision: Deny(tt.reason)}, nil).Middleware(next).ServeHTTP(rec, post("/api/auth/sign-in/email", `{}`))

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Equal(t, 0, next.calls)
		})
	}
}

func TestGateway_AllowDelegatesVerbatim(t *testing.T) {
	protector := &recordingProtector{decision: Allow()}
	next := &echoHandler{}
	rec := httptest.NewRecorder()
	body := `{"email":"ada@example.com","password":"secret"}`

	New(protector, nil).Middleware(next).ServeHTTP(rec, post("/api/auth/sign-in/email", body))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Echo"))
	assert.Equal(t, body, rec.Body.String(), "handler must see the full body")
	require.Len(t, protector.bodies, 1)
	assert.Equal(t, body, protector.bodies[0], "protector must see the full body")
}

func TestGateway_RuleSelection(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantRules   RuleSet
		wantEmail   string
	}{
		{"signup_json", "/api/auth/sign-up/email", "application/json", `{"email":"a@b.com"}`, RulesSignUp, "a@b.com"},
		{"signup_form", "/api/auth/sign-up/email", "application/x-www-form-urlencoded", `email=a%40b.com&name=A`, RulesSignUp, "a@b.com"},
		{"signup_email_not_string", "/api/auth/sign-up/email", "application/json", `{"email":5}`, RulesGeneric, ""},
		{"signup_without_email", "/api/auth/sign-up/email", "application/json", `{"name":"A"}`, RulesGeneric, ""},
		{"signup_bad_json", "/api/auth/sign-up/email", "application/json", `not json`, RulesGeneric, ""},
		{"sign_in", "/api/auth/sign-in/email", "application/json", `{"email":"a@b.com"}`, RulesGeneric, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protector := &recordingProtector{decision: Allow()}
			r := post(tt.path, tt.body)
			r.Header.Set("Content-Type", tt.contentType)

			New(protector, nil).Middleware(&echoHandler{}).ServeHTTP(httptest.NewRecorder(), r)

			require.Len(t, protector.calls, 1)
			assert.Equal(t, tt.wantRules, protector.calls[0].Rules)
			assert.Equal(t, tt.wantEmail, protector.calls[0].Email)
		})
	}
}

func TestGateway_IdentityKey(t *testing.T) {
	tests := []struct {
		name       string
		sessions   SessionResolver
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"user_id", staticSessions{userID: "user-1"}, "192.0.2.1:1234", "", "user-1"},
		{"forwarded_header_ignored", staticSessions{}, "192.0.2.1:1234", "203.0.113.7, 10.0.0.1", "192.0.2.1"},
		{"remote_addr", nil, "192.0.2.1:1234", "", "192.0.2.1"},
		{"fallback", nil, "", "", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protector := &recordingProtector{decision: Allow()}
			r := post("/api/auth/sign-out", "")
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			New(protector, tt.sessions).Middleware(&echoHandler{}).ServeHTTP(httptest.NewRecorder(), r)

			require.Len(t, protector.calls, 1)
			assert.Equal(t, tt.want, protector.calls[0].Key)
		})
	}
}

func TestGateway_FailsOpen(t *testing.T) {
	next := &echoHandler{}
	rec := httptest.NewRecorder()
	protector := &recordingProtector{err: errors.New("boom")}

	New(protector, nil).Middleware(next).ServeHTTP(rec, post("/api/auth/sign-in/email", `{}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, next.calls)
}

func TestGateway_BodyTooLarge(t *testing.T) {
	next := &echoHandler{}
	rec := httptest.NewRecorder()
	protector := &recordingProtector{decision: Allow()}

	New(protector, nil, WithMaxBodyBytes(8)).Middleware(next).ServeHTTP(rec, post("/api/auth/sign-in/email", `{"email":"too long"}`))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, next.calls)
	assert.Empty(t, protector.calls)
}

func TestGateway_RateLimitWithLocalProtector(t *testing.T) {
	protector := NewLocalProtector(LocalConfig{StrictLimit: 3, StrictWindow: DefaultLocalConfig().StrictWindow})
	next := &echoHandler{}
	handler := New(protector, nil).Middleware(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, post("/api/auth/sign-in/email", `{}`))
		require.Equal(t, http.StatusCreated, rec.Code, "request %d", i+1)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, post("/api/auth/sign-in/email", `{}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 3, next.calls)

	other := post("/api/auth/sign-in/email", `{}`)
	other.RemoteAddr = "198.51.100.4:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusCreated, rec.Code, "limits are per identity")
}

func TestGateway_SignUpEmailWithLocalProtector(t *testing.T) {
	protector := NewLocalProtector(LocalConfig{Resolver: fakeResolver{"example.com": {{Host: "mx.example.com."}}}})
	next := &echoHandler{}
	handler := New(protector, nil).Middleware(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, post("/api/auth/sign-up/email", `{"email":"temp@mailinator.com","password":"x","name":"T"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Disposable email addresses are not allowed."}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, post("/api/auth/sign-up/email", `{"email":"ada@example.com","password":"x","name":"A"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, next.calls)
}
