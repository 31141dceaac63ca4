package core_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wispberry-tech/wispy-portal/core"
)

func TestResolveSession(t *testing.T) {
	env := mustCreateTestAuthService(t)
	user, token := env.mustSignUp(t, "alice@example.com", "Alice")

	expired := &core.Session{
		Token:     "expired-token",
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := env.store.CreateSession(expired); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	banned, bannedToken := env.mustSignUp(t, "mallory@example.com", "Mallory")
	stored, _ := env.store.GetUserByID(banned.ID)
	stored.Banned = true
	env.store.UpdateUser(stored)

	lapsed, lapsedToken := env.mustSignUp(t, "lapsed@example.com", "Lapsed")
	stored, _ = env.store.GetUserByID(lapsed.ID)
	past := time.Now().Add(-time.Hour)
	stored.Banned = true
	stored.BanExpires = &past
	env.store.UpdateUser(stored)

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"no_token", "", false},
		{"unknown_token", "does-not-exist", false},
		{"expired_session", "expired-token", false},
		{"banned_user", bannedToken, false},
		{"ban_expired", lapsedToken, true},
		{"valid_session", token, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, tt.token))
			if ok != tt.wantOK {
				t.Fatalf("ResolveSession() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				if sc != nil {
					t.Error("ResolveSession() returned a session on failure")
				}
				return
			}
			if sc.User.PasswordHash != "" {
				t.Error("resolved user carries a password hash")
			}
			if sc.Session.Token != tt.token {
				t.Errorf("session token = %q, want %q", sc.Session.Token, tt.token)
			}
		})
	}

	if s, _ := env.store.GetSession("expired-token"); s != nil {
		t.Error("expired session was not deleted on resolution")
	}
}

func TestResolveSession_Cookie(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, token := env.mustSignUp(t, "cookie@example.com", "Cookie")

	req := httptest.NewRequest("GET", "/profile", nil)
	req.AddCookie(&http.Cookie{Name: env.auth.SecurityConfig().CookieName, Value: token})

	sc, ok := env.auth.ResolveSession(req)
	if !ok {
		t.Fatal("ResolveSession() did not accept the session cookie")
	}
	if sc.User.Email != "cookie@example.com" {
		t.Errorf("resolved email = %q", sc.User.Email)
	}
}

func TestResolveSession_SlidingRefresh(t *testing.T) {
	env := mustCreateTestAuthService(t)
	user, _ := env.mustSignUp(t, "slide@example.com", "Slide")

	staleUpdate := time.Now().Add(-48 * time.Hour)
	soonExpiry := time.Now().Add(time.Hour)
	stale := &core.Session{
		Token:     "stale-token",
		UserID:    user.ID,
		ExpiresAt: soonExpiry,
		CreatedAt: staleUpdate,
		UpdatedAt: staleUpdate,
	}
	env.store.CreateSession(stale)

	sc, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, "stale-token"))
	if !ok {
		t.Fatal("ResolveSession() failed")
	}
	if !sc.Session.ExpiresAt.After(soonExpiry.Add(24 * time.Hour)) {
		t.Errorf("session was not extended: expires %v", sc.Session.ExpiresAt)
	}

	stored, _ := env.store.GetSession("stale-token")
	if !stored.ExpiresAt.Equal(sc.Session.ExpiresAt) {
		t.Error("extended expiry was not persisted")
	}
}

func TestResolveSession_ImpersonationKeepsLifetime(t *testing.T) {
	env := mustCreateTestAuthService(t)
	user, _ := env.mustSignUp(t, "target@example.com", "Target")

	adminID := "admin-id"
	old := time.Now().Add(-48 * time.Hour)
	expiry := time.Now().Add(30 * time.Minute)
	env.store.CreateSession(&core.Session{
		Token:          "imp-token",
		UserID:         user.ID,
		ExpiresAt:      expiry,
		ImpersonatedBy: &adminID,
		CreatedAt:      old,
		UpdatedAt:      old,
	})

	sc, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, "imp-token"))
	if !ok {
		t.Fatal("ResolveSession() failed")
	}
	if !sc.IsImpersonating() {
		t.Error("IsImpersonating() = false")
	}
	if !sc.Session.ExpiresAt.Equal(expiry) {
		t.Errorf("impersonation session was extended to %v", sc.Session.ExpiresAt)
	}
}

func TestResolveSession_PrefersContext(t *testing.T) {
	env := mustCreateTestAuthService(t)

	want := &core.SessionContext{
		Session: &core.Session{ID: "ctx"},
		User:    &core.User{ID: "ctx-user"},
	}
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(core.WithSession(req.Context(), want))

	sc, ok := env.auth.ResolveSession(req)
	if !ok || sc != want {
		t.Errorf("ResolveSession() = %v, %v; want the context session", sc, ok)
	}
}

func TestSignUp_SetsActiveOrganizationOnNextSession(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, token := env.mustSignUp(t, "orgs@example.com", "Orgs")

	resp := env.auth.CreateOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"name": "Acme"}, token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CreateOrganizationHandler() = %d %s", resp.StatusCode, resp.Error)
	}

	signIn := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "orgs@example.com", testPassword)
	if signIn.StatusCode != http.StatusOK {
		t.Fatalf("SignIn() = %d %s", signIn.StatusCode, signIn.Error)
	}

	sc, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, signIn.Token))
	if !ok {
		t.Fatal("ResolveSession() failed")
	}
	if sc.Session.ActiveOrganizationID == nil || *sc.Session.ActiveOrganizationID != resp.Organization.ID {
		t.Errorf("active organization = %v, want %s", sc.Session.ActiveOrganizationID, resp.Organization.ID)
	}
}
