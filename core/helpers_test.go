package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/wispberry-tech/wispy-portal/core"
	"github.com/wispberry-tech/wispy-portal/core/storage"
)

const testPassword = "TestPassword123"

// sentEmail is one message captured by recordingMailer.
type sentEmail struct {
	Kind string
	To   string
	Link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (m *recordingMailer) record(kind, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{Kind: kind, To: to, Link: link})
	return nil
}

func (m *recordingMailer) SendWelcome(_ context.Context, to, _ string) error {
	return m.record("welcome", to, "")
}

func (m *recordingMailer) SendVerification(_ context.Context, to, _, link string) error {
	return m.record("verification", to, link)
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, _, link string) error {
	return m.record("password-reset", to, link)
}

func (m *recordingMailer) SendDeleteAccount(_ context.Context, to, _, link string) error {
	return m.record("delete-account", to, link)
}

func (m *recordingMailer) SendOrganizationInvitation(_ context.Context, inv core.InvitationEmail) error {
	return m.record("invitation", inv.To, inv.InviteLink)
}

// last returns the most recent email of kind sent to to.
func (m *recordingMailer) last(t *testing.T, kind, to string) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind && m.sent[i].To == to {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s email sent to %s", kind, to)
	return sentEmail{}
}

// tokenFromLink extracts the token query parameter of an emailed link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("failed to parse link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("link %q has no token", link)
	}
	return token
}

type testEnv struct {
	auth   *core.AuthService
	store  *storage.MemoryStorage
	mailer *recordingMailer
}

func mustCreateTestAuthService(t *testing.T, configure ...func(*core.Config)) *testEnv {
	t.Helper()

	store := storage.NewMemoryStorage()
	mailer := &recordingMailer{}
	cfg := core.Config{
		Storage:        store,
		SecurityConfig: core.DefaultSecurityConfig(),
		Mailer:         mailer,
		BaseURL:        "http://portal.test",
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	authService, err := core.NewAuthService(cfg)
	if err != nil {
		t.Fatalf("Failed to create auth service: %v", err)
	}
	t.Cleanup(func() { authService.Close() })

	return &testEnv{auth: authService, store: store, mailer: mailer}
}

// createTestRequest builds a JSON request, authenticated when token is non-empty.
func createTestRequest(t *testing.T, method, path string, body any, token string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// mustSignUp registers a user and returns it with a session token.
func (e *testEnv) mustSignUp(t *testing.T, email, name string) (*core.User, string) {
	t.Helper()

	resp := e.auth.SignUpHandler(createTestRequest(t, "POST", "/api/auth/sign-up/email", map[string]any{
		"email":          email,
		"password":       testPassword,
		"name":           name,
		"favoriteNumber": 1,
	}, ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Sign up of %s failed: %d %s", email, resp.StatusCode, resp.Error)
	}
	return resp.User, resp.Token
}

// mustSignUpAdmin registers a user holding the admin role label.
func (e *testEnv) mustSignUpAdmin(t *testing.T, email string) (*core.User, string) {
	t.Helper()

	user, token := e.mustSignUp(t, email, "Admin")
	stored, _ := e.store.GetUserByID(user.ID)
	stored.Role = core.RoleAdmin
	if err := e.store.UpdateUser(stored); err != nil {
		t.Fatalf("Failed to promote user: %v", err)
	}
	return stored, token
}
