package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispberry-tech/wispy-portal/core"
	"github.com/wispberry-tech/wispy-portal/core/storage"
)

func newTestPortal(t *testing.T) *httptest.Server {
	t.Helper()
	authService, err := core.NewAuthService(core.Config{
		Storage:        storage.NewMemoryStorage(),
		SecurityConfig: core.DefaultSecurityConfig(),
		BaseURL:        "http://portal.test",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(authService.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SessionFlow(t *testing.T) {
	ctx := context.Background()
	c := New(newTestPortal(t).URL)

	favorite := 5
	res, err := c.SignUp(ctx, core.SignUpRequest{Email: "ada@example.com", Password: "TestPassword123", Name: "Ada", FavoriteNumber: &favorite})
	require.NoError(t, err)
	require.False(t, res.Failed(), "sign up failed: %v", res.Error)
	assert.NotEmpty(t, c.Token())

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	data, err := session.Unwrap()
	require.NoError(t, err)
	require.NotNil(t, data.User)
	assert.Equal(t, "ada@example.com", data.User.Email)

	org, err := c.CreateOrganization(ctx, "Acme", "acme")
	require.NoError(t, err)
	require.False(t, org.Failed(), "create organization failed: %v", org.Error)

	// Inviting an existing member comes back as a failed result, not an error.
	invite, err := c.InviteMember(ctx, core.InviteMemberRequest{Email: "ada@example.com", Role: "member"})
	require.NoError(t, err)
	require.True(t, invite.Failed())
	assert.Equal(t, "Already a member", invite.Error.Message)
	assert.Equal(t, http.StatusBadRequest, invite.Error.Status)

	out, err := c.SignOut(ctx)
	require.NoError(t, err)
	assert.False(t, out.Failed())
	assert.Empty(t, c.Token())

	session, err = c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session.Data.User)
}

func TestClient_SignInFailure(t *testing.T) {
	c := New(newTestPortal(t).URL)

	res, err := c.SignIn(context.Background(), "nobody@example.com", "TestPassword123")
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, http.StatusUnauthorized, res.Error.Status)
	assert.NotEmpty(t, res.Error.Message)
	assert.Empty(t, c.Token())
}

func TestClient_ErrorShapes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantError   string
	}{
		{"framework error", http.StatusForbidden, `{"error":"Insufficient permissions"}`, "Insufficient permissions", "Insufficient permissions"},
		{"gateway email denial", http.StatusBadRequest, `{"message":"Disposable email addresses are not allowed."}`, "Disposable email addresses are not allowed.", "Disposable email addresses are not allowed."},
		{"structured error", http.StatusBadRequest, `{"error":{"message":"Invalid token","status":400}}`, "Invalid token", "Invalid token"},
		{"rate limited", http.StatusTooManyRequests, ``, "", "Too Many Requests"},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, "", "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL).RequestPasswordReset(context.Background(), "ada@example.com")
			require.NoError(t, err)
			require.True(t, res.Failed())
			assert.Equal(t, tt.wantMessage, res.Error.Message)
			assert.Equal(t, tt.status, res.Error.Status)
			assert.Equal(t, tt.wantError, res.Error.Error())
		})
	}
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"sessions":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("tok"), WithUserAgent("portalctl-test"))
	res, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "portalctl-test", got.Get("User-Agent"))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).GetSession(context.Background())
	assert.Error(t, err)
}
