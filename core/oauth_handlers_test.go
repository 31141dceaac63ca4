package core_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/wispberry-tech/wispy-portal/core"
)

// newFakeGitHub serves the token, profile and emails endpoints of a GitHub-like provider.
func newFakeGitHub(t *testing.T, profile map[string]any, emails []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(profile)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func withGitHub(srv *httptest.Server) func(*core.Config) {
	return func(c *core.Config) {
		provider := core.NewGitHubOAuthProvider("client-id", "client-secret", "http://portal.test/api/auth/callback/github")
		provider.AuthURL = srv.URL + "/login/oauth/authorize"
		provider.TokenURL = srv.URL + "/login/oauth/access_token"
		provider.UserInfoURL = srv.URL + "/user"
		provider.EmailsURL = srv.URL + "/user/emails"
		c.OAuthProviders = map[string]core.OAuthProviderConfig{"github": provider}
	}
}

// startOAuth runs the init step and returns the issued state.
func startOAuth(t *testing.T, env *testEnv, callbackURL string) string {
	t.Helper()
	path := "/api/auth/sign-in/social/github"
	if callbackURL != "" {
		path += "?callbackURL=" + url.QueryEscape(callbackURL)
	}
	resp := env.auth.OAuthInitHandler(createTestRequest(t, "GET", path, nil, ""), "github")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OAuthInitHandler() = %d %s", resp.StatusCode, resp.Error)
	}
	u, err := url.Parse(resp.URL)
	if err != nil {
		t.Fatalf("bad authorization URL %q: %v", resp.URL, err)
	}
	return u.Query().Get("state")
}

func TestOAuthInitHandler_UnknownProvider(t *testing.T) {
	env := mustCreateTestAuthService(t)
	resp := env.auth.OAuthInitHandler(createTestRequest(t, "GET", "/", nil, ""), "myspace")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("OAuthInitHandler() = %d, want 400", resp.StatusCode)
	}
}

func TestOAuthCallback_CreatesUser(t *testing.T) {
	srv := newFakeGitHub(t,
		map[string]any{"id": 4242, "login": "octo", "name": "", "email": "", "avatar_url": "https://avatars.test/octo", "public_gists": 9},
		[]map[string]any{
			{"email": "unverified@example.com", "primary": false, "verified": false},
			{"email": "octo@example.com", "primary": true, "verified": true},
		})
	env := mustCreateTestAuthService(t, withGitHub(srv))

	state := startOAuth(t, env, "")
	resp := env.auth.OAuthCallbackHandler(createTestRequest(t, "GET", "/api/auth/callback/github?state="+state+"&code=abc", nil, ""), "github")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OAuthCallbackHandler() = %d %s", resp.StatusCode, resp.Error)
	}
	if !resp.IsNewUser {
		t.Error("IsNewUser = false")
	}
	if resp.RedirectTo != "/profile" {
		t.Errorf("RedirectTo = %q, want /profile", resp.RedirectTo)
	}
	if resp.User.Email != "octo@example.com" || resp.User.Name != "octo" || resp.User.FavoriteNumber != 9 {
		t.Errorf("created user = %+v", resp.User)
	}
	if !resp.User.EmailVerified {
		t.Error("provider email not marked verified")
	}
	env.mailer.last(t, "welcome", "octo@example.com")

	replay := env.auth.OAuthCallbackHandler(createTestRequest(t, "GET", "/?state="+state+"&code=abc", nil, ""), "github")
	if replay.StatusCode != http.StatusBadRequest {
		t.Errorf("replayed state = %d, want 400", replay.StatusCode)
	}
}

func TestOAuthCallback_LinksExistingAccount(t *testing.T) {
	srv := newFakeGitHub(t,
		map[string]any{"id": 7, "login": "linked", "name": "Linked", "email": "linked@example.com"},
		nil)
	env := mustCreateTestAuthService(t, withGitHub(srv))
	existing, _ := env.mustSignUp(t, "linked@example.com", "Linked")

	state := startOAuth(t, env, "/organizations")
	resp := env.auth.OAuthCallbackHandler(createTestRequest(t, "GET", "/?state="+state+"&code=abc", nil, ""), "github")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OAuthCallbackHandler() = %d %s", resp.StatusCode, resp.Error)
	}
	if resp.IsNewUser || resp.User.ID != existing.ID {
		t.Errorf("expected link to %s, got %s new=%v", existing.ID, resp.User.ID, resp.IsNewUser)
	}
	if resp.RedirectTo != "/organizations" {
		t.Errorf("RedirectTo = %q", resp.RedirectTo)
	}

	stored, _ := env.store.GetUserByProviderID("github", "7")
	if stored == nil || stored.ID != existing.ID {
		t.Error("provider id was not linked")
	}
}

func TestOAuthCallback_RejectsBadState(t *testing.T) {
	srv := newFakeGitHub(t, map[string]any{"id": 1}, nil)
	env := mustCreateTestAuthService(t, withGitHub(srv))

	env.store.StoreOAuthState(&core.OAuthState{
		State:     "stale",
		Provider:  "github",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	tests := []struct {
		name  string
		query string
	}{
		{"missing_code", "?state=stale"},
		{"unknown_state", "?state=unknown&code=abc"},
		{"expired_state", "?state=stale&code=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.auth.OAuthCallbackHandler(createTestRequest(t, "GET", "/"+tt.query, nil, ""), "github")
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("OAuthCallbackHandler() = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestValidateOAuthState(t *testing.T) {
	valid := &core.OAuthState{State: "s", Provider: "github", ExpiresAt: time.Now().Add(time.Minute)}
	if err := core.ValidateOAuthState(valid, "github"); err != nil {
		t.Errorf("ValidateOAuthState() error = %v", err)
	}
	if err := core.ValidateOAuthState(valid, "gitlab"); err == nil {
		t.Error("state accepted for another provider")
	}
	if err := core.ValidateOAuthState(nil, "github"); err == nil {
		t.Error("nil state accepted")
	}
}
