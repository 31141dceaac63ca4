package core_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/wispberry-tech/wispy-portal/core"
)

func TestNewAuthService(t *testing.T) {
	if _, err := core.NewAuthService(core.Config{}); err == nil || !strings.Contains(err.Error(), "storage is required") {
		t.Errorf("NewAuthService() without storage error = %v", err)
	}

	env := mustCreateTestAuthService(t, func(c *core.Config) {
		c.SecurityConfig = core.SecurityConfig{}
	})
	cfg := env.auth.SecurityConfig()
	if cfg.SessionLifetime != 7*24*time.Hour {
		t.Errorf("SessionLifetime = %v, want the default", cfg.SessionLifetime)
	}
	if cfg.CookieName == "" {
		t.Error("CookieName is empty")
	}
}

func TestSignUpHandler(t *testing.T) {
	env := mustCreateTestAuthService(t)
	env.mustSignUp(t, "taken@example.com", "Taken")

	tests := []struct {
		name           string
		body           map[string]any
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "valid_signup",
			body:           map[string]any{"email": "New@Example.com", "password": testPassword, "name": "New", "favoriteNumber": 7},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "negative_favorite_number",
			body:           map[string]any{"email": "negative@example.com", "password": testPassword, "name": "Negative", "favoriteNumber": -3},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing_favorite_number",
			body:           map[string]any{"email": "nonumber@example.com", "password": testPassword, "name": "NoNumber"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "FavoriteNumber is required",
		},
		{
			name:           "duplicate_email",
			body:           map[string]any{"email": "taken@example.com", "password": testPassword, "name": "Again", "favoriteNumber": 1},
			expectedStatus: http.StatusConflict,
			expectedError:  "User already exists",
		},
		{
			name:           "weak_password",
			body:           map[string]any{"email": "weak@example.com", "password": "password", "name": "Weak", "favoriteNumber": 1},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "uppercase",
		},
		{
			name:           "invalid_email",
			body:           map[string]any{"email": "not-an-email", "password": testPassword, "name": "Bad", "favoriteNumber": 1},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "valid email",
		},
		{
			name:           "missing_name",
			body:           map[string]any{"email": "noname@example.com", "password": testPassword, "favoriteNumber": 1},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.auth.SignUpHandler(createTestRequest(t, "POST", "/api/auth/sign-up/email", tt.body, ""))
			if resp.StatusCode != tt.expectedStatus {
				t.Fatalf("SignUpHandler() status = %d, want %d (%s)", resp.StatusCode, tt.expectedStatus, resp.Error)
			}
			if tt.expectedError != "" && !strings.Contains(resp.Error, tt.expectedError) {
				t.Errorf("SignUpHandler() error = %q, want containing %q", resp.Error, tt.expectedError)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			if resp.Token == "" {
				t.Error("expected a session token")
			}
			email := strings.ToLower(tt.body["email"].(string))
			if resp.User.Email != email {
				t.Errorf("email was not normalized: %q", resp.User.Email)
			}
			if want := tt.body["favoriteNumber"].(int); resp.User.FavoriteNumber != want {
				t.Errorf("FavoriteNumber = %d, want %d", resp.User.FavoriteNumber, want)
			}
			if resp.User.PasswordHash != "" {
				t.Error("response leaks the password hash")
			}
			env.mailer.last(t, "welcome", email)
			env.mailer.last(t, "verification", email)
		})
	}
}

func TestSignUpHandler_RequireEmailVerification(t *testing.T) {
	env := mustCreateTestAuthService(t, func(c *core.Config) {
		c.SecurityConfig.RequireEmailVerification = true
	})

	resp := env.auth.SignUpHandler(createTestRequest(t, "POST", "/", map[string]any{
		"email": "verify@example.com", "password": testPassword, "name": "Verify",
	}, ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SignUpHandler() = %d %s", resp.StatusCode, resp.Error)
	}
	if resp.Token != "" {
		t.Error("session opened before email verification")
	}

	signIn := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "verify@example.com", testPassword)
	if signIn.StatusCode != http.StatusForbidden || signIn.Error != "Email not verified" {
		t.Fatalf("SignIn() before verification = %d %q", signIn.StatusCode, signIn.Error)
	}

	link := env.mailer.last(t, "verification", "verify@example.com").Link
	if !strings.HasPrefix(link, "http://portal.test/api/auth/verify-email?") {
		t.Errorf("verification link = %q", link)
	}

	verify := env.auth.VerifyEmailHandler(createTestRequest(t, "GET", "/api/auth/verify-email?token="+tokenFromLink(t, link), nil, ""))
	if verify.StatusCode != http.StatusOK {
		t.Fatalf("VerifyEmailHandler() = %d %s", verify.StatusCode, verify.Error)
	}
	if verify.Token == "" {
		t.Error("verification did not sign the user in")
	}
	if verify.RedirectTo != "/" {
		t.Errorf("RedirectTo = %q, want /", verify.RedirectTo)
	}

	signIn = env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "verify@example.com", testPassword)
	if signIn.StatusCode != http.StatusOK {
		t.Errorf("SignIn() after verification = %d %s", signIn.StatusCode, signIn.Error)
	}
}

func TestSignInHandler(t *testing.T) {
	env := mustCreateTestAuthService(t)
	env.mustSignUp(t, "bob@example.com", "Bob")

	banned, _ := env.mustSignUp(t, "banned@example.com", "Banned")
	stored, _ := env.store.GetUserByID(banned.ID)
	stored.Banned = true
	env.store.UpdateUser(stored)

	tests := []struct {
		name           string
		email          string
		password       string
		expectedStatus int
		expectedError  string
	}{
		{"valid_credentials", "bob@example.com", testPassword, http.StatusOK, ""},
		{"case_insensitive_email", "BOB@example.com", testPassword, http.StatusOK, ""},
		{"wrong_password", "bob@example.com", "WrongPassword1", http.StatusUnauthorized, "Invalid email or password"},
		{"unknown_user", "nobody@example.com", testPassword, http.StatusUnauthorized, "Invalid email or password"},
		{"banned_user", "banned@example.com", testPassword, http.StatusForbidden, "You have been banned from this application"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.auth.SignInHandler(createTestRequest(t, "POST", "/api/auth/sign-in/email", map[string]any{
				"email": tt.email, "password": tt.password,
			}, ""))
			if resp.StatusCode != tt.expectedStatus {
				t.Fatalf("SignInHandler() status = %d, want %d (%s)", resp.StatusCode, tt.expectedStatus, resp.Error)
			}
			if resp.Error != tt.expectedError {
				t.Errorf("SignInHandler() error = %q, want %q", resp.Error, tt.expectedError)
			}
			if tt.expectedStatus == http.StatusOK && resp.Token == "" {
				t.Error("expected a session token")
			}
		})
	}
}

func TestSignIn_Lockout(t *testing.T) {
	env := mustCreateTestAuthService(t, func(c *core.Config) {
		c.SecurityConfig.MaxLoginAttempts = 3
	})
	user, _ := env.mustSignUp(t, "locked@example.com", "Locked")

	for i := 0; i < 3; i++ {
		resp := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "locked@example.com", "WrongPassword1")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "locked@example.com", testPassword)
	if resp.Error != "Account is temporarily locked" {
		t.Errorf("SignIn() on locked account error = %q", resp.Error)
	}

	events, _ := env.store.GetSecurityEventsByUser(user.ID, 50, 0)
	found := false
	for _, e := range events {
		if e.EventType == core.EventAccountLocked {
			found = true
		}
	}
	if !found {
		t.Error("no account_locked security event recorded")
	}
}

func TestSessionHandlers(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, first := env.mustSignUp(t, "multi@example.com", "Multi")
	second := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "multi@example.com", testPassword).Token
	third := env.auth.SignIn(createTestRequest(t, "POST", "/", nil, ""), "multi@example.com", testPassword).Token

	list := env.auth.ListSessionsHandler(createTestRequest(t, "GET", "/", nil, first))
	if list.StatusCode != http.StatusOK || len(list.Sessions) != 3 {
		t.Fatalf("ListSessionsHandler() = %d with %d sessions", list.StatusCode, len(list.Sessions))
	}

	revoke := env.auth.RevokeSessionHandler(createTestRequest(t, "POST", "/", map[string]any{"token": third}, first))
	if revoke.StatusCode != http.StatusOK {
		t.Fatalf("RevokeSessionHandler() = %d %s", revoke.StatusCode, revoke.Error)
	}
	if _, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, third)); ok {
		t.Error("revoked session still resolves")
	}

	others := env.auth.RevokeOtherSessionsHandler(createTestRequest(t, "POST", "/", nil, first))
	if others.StatusCode != http.StatusOK {
		t.Fatalf("RevokeOtherSessionsHandler() = %d", others.StatusCode)
	}
	if _, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, second)); ok {
		t.Error("other session still resolves")
	}

	get := env.auth.GetSessionHandler(createTestRequest(t, "GET", "/", nil, first))
	if get.User == nil || get.User.Email != "multi@example.com" {
		t.Errorf("GetSessionHandler() user = %v", get.User)
	}

	out := env.auth.SignOutHandler(createTestRequest(t, "POST", "/", nil, first))
	if out.StatusCode != http.StatusOK {
		t.Fatalf("SignOutHandler() = %d", out.StatusCode)
	}
	get = env.auth.GetSessionHandler(createTestRequest(t, "GET", "/", nil, first))
	if get.StatusCode != http.StatusOK || get.Session != nil || get.User != nil {
		t.Errorf("GetSessionHandler() after sign out = %+v", get)
	}
}

func TestRevokeSessionHandler_OtherUsersSession(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, alice := env.mustSignUp(t, "a@example.com", "A")
	_, bob := env.mustSignUp(t, "b@example.com", "B")

	resp := env.auth.RevokeSessionHandler(createTestRequest(t, "POST", "/", map[string]any{"token": bob}, alice))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("revoking another user's session = %d, want 404", resp.StatusCode)
	}
}
