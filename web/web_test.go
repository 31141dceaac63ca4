package web_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispberry-tech/wispy-portal/billing"
	"github.com/wispberry-tech/wispy-portal/core"
	"github.com/wispberry-tech/wispy-portal/core/storage"
	"github.com/wispberry-tech/wispy-portal/web"
)

// stubProvider satisfies billing.Provider; rendering never calls it.
type stubProvider struct{ billing.Provider }

type fixture struct {
	store   *storage.MemoryStorage
	auth    *core.AuthService
	handler http.Handler
}

func newFixture(t *testing.T, withBilling bool) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	authService, err := core.NewAuthService(core.Config{
		Storage:        store,
		SecurityConfig: core.DefaultSecurityConfig(),
		BaseURL:        "http://portal.test",
	})
	require.NoError(t, err)

	cfg := web.Config{Auth: authService, SocialProviders: []string{"github"}}
	if withBilling {
		cfg.Billing, err = billing.NewService(billing.Config{
			Storage:  store,
			Provider: stubProvider{},
			Sessions: authService,
			Plans:    billing.DefaultPlans("price_basic", "price_pro"),
		})
		require.NoError(t, err)
	}
	pages, err := web.New(cfg)
	require.NoError(t, err)
	return &fixture{store: store, auth: authService, handler: pages.Routes()}
}

// user creates a user with a live session and returns the session token.
func (f *fixture) user(t *testing.T, name, email, role string) (*core.User, string) {
	t.Helper()
	u := &core.User{Name: name, Email: email, Role: role, Provider: "email", EmailVerified: true, CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateUser(u))
	token := "token-" + u.ID
	require.NoError(t, f.store.CreateSession(&core.Session{
		Token:     token,
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(time.Hour),
		UserAgent: "test-agent",
		CreatedAt: time.Now(),
	}))
	return u, token
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestGuard_Redirects(t *testing.T) {
	f := newFixture(t, false)
	_, userToken := f.user(t, "Uma", "uma@example.com", core.RoleUser)
	_, adminToken := f.user(t, "Ada", "ada@example.com", core.RoleAdmin)

	tests := []struct {
		name         string
		path         string
		token        string
		wantStatus   int
		wantLocation string
	}{
		{"anonymous profile", "/profile", "", http.StatusFound, web.LoginPath},
		{"anonymous admin", "/admin", "", http.StatusFound, web.LoginPath},
		{"unknown token", "/profile", "bogus", http.StatusFound, web.LoginPath},
		{"user on admin", "/admin", userToken, http.StatusFound, web.HomePath},
		{"user on profile", "/profile", userToken, http.StatusOK, ""},
		{"admin on admin", "/admin", adminToken, http.StatusOK, ""},
		{"anonymous home", "/", "", http.StatusOK, ""},
		{"anonymous login", "/auth/login", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.path, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}

func TestGuard_Check(t *testing.T) {
	f := newFixture(t, false)
	u, token := f.user(t, "Ada", "ada@example.com", "user,admin")
	guard := web.NewGuard(f.auth, f.auth.AccessControl())

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	sc, ok := guard.Check(rec, req, core.CapUserList, core.CapUserBan)
	require.True(t, ok)
	assert.Equal(t, u.ID, sc.User.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHome(t *testing.T) {
	f := newFixture(t, false)
	_, token := f.user(t, "Ada", "ada@example.com", core.RoleUser)

	rec := f.get(t, "/", "")
	assert.Contains(t, rec.Body.String(), `href="/auth/login"`)
	assert.NotContains(t, rec.Body.String(), "Welcome to Our App")

	rec = f.get(t, "/", token)
	assert.Contains(t, rec.Body.String(), "Welcome to Our App")
	assert.Contains(t, rec.Body.String(), "Logged in as Ada")
}

func TestLogin_SocialProviders(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/auth/login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/auth/sign-in/social/github?redirect=true")
	assert.Contains(t, rec.Body.String(), `name="favoriteNumber"`)
}

func TestImpersonationBanner(t *testing.T) {
	f := newFixture(t, false)
	admin, _ := f.user(t, "Ada", "ada@example.com", core.RoleAdmin)
	target, plainToken := f.user(t, "Uma", "uma@example.com", core.RoleUser)

	rec := f.get(t, "/profile", plainToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "impersonation-banner")

	impersonated := "imp-token"
	require.NoError(t, f.store.CreateSession(&core.Session{
		Token:          impersonated,
		UserID:         target.ID,
		ImpersonatedBy: &admin.ID,
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}))

	rec = f.get(t, "/profile", impersonated)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "impersonation-banner")
	assert.Contains(t, body, "/api/auth/admin/stop-impersonating")
	assert.Contains(t, body, "Stop impersonating")
}

func TestProfile_ListsSessions(t *testing.T) {
	f := newFixture(t, false)
	_, token := f.user(t, "Ada", "ada@example.com", core.RoleUser)

	rec := f.get(t, "/profile", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-agent")
	assert.Contains(t, rec.Body.String(), "Current session")
	assert.Contains(t, rec.Body.String(), "A · Ada")
}

func TestProfile_MultibyteInitial(t *testing.T) {
	f := newFixture(t, false)
	_, token := f.user(t, "élodie", "elodie@example.com", core.RoleUser)

	rec := f.get(t, "/profile", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "É · élodie")
}

func TestInvitationPage(t *testing.T) {
	f := newFixture(t, false)
	owner, _ := f.user(t, "Olga", "olga@example.com", core.RoleUser)
	_, inviteeToken := f.user(t, "Ivan", "ivan@example.com", core.RoleUser)
	_, strangerToken := f.user(t, "Sam", "sam@example.com", core.RoleUser)

	org := &core.Organization{Name: "Acme", Slug: "acme", CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateOrganization(org))

	pending := &core.Invitation{
		OrganizationID: org.ID, Email: "ivan@example.com", Role: core.MemberRoleAdmin,
		Status: core.InvitationPending, InviterID: owner.ID, ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.store.CreateInvitation(pending))
	expired := &core.Invitation{
		OrganizationID: org.ID, Email: "ivan@example.com", Role: core.MemberRoleMember,
		Status: core.InvitationPending, InviterID: owner.ID, ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.store.CreateInvitation(expired))

	rec := f.get(t, "/organizations/invites/"+pending.ID, inviteeToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "join the Acme organization as a admin")

	tests := []struct {
		name  string
		id    string
		token string
		want  string
	}{
		{"unknown invitation", "missing", inviteeToken, web.HomePath},
		{"expired invitation", expired.ID, inviteeToken, web.HomePath},
		{"someone else's invitation", pending.ID, strangerToken, web.HomePath},
		{"anonymous", pending.ID, "", web.LoginPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, "/organizations/invites/"+tt.id, tt.token)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Location"))
		})
	}
}

func TestOrganizationsPage(t *testing.T) {
	f := newFixture(t, true)
	owner, token := f.user(t, "Olga", "olga@example.com", core.RoleUser)
	member, _ := f.user(t, "Mia", "mia@example.com", core.RoleUser)

	org := &core.Organization{Name: "Acme", Slug: "acme", CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateOrganization(org))
	require.NoError(t, f.store.CreateMember(&core.Member{OrganizationID: org.ID, UserID: owner.ID, Role: core.MemberRoleOwner}))
	require.NoError(t, f.store.CreateMember(&core.Member{OrganizationID: org.ID, UserID: member.ID, Role: core.MemberRoleMember}))
	require.NoError(t, f.store.CreateSubscription(&core.Subscription{ReferenceID: org.ID, Plan: "pro", Status: billing.StatusActive, Seats: 1}))

	sess, err := f.store.GetSession(token)
	require.NoError(t, err)
	sess.ActiveOrganizationID = &org.ID
	require.NoError(t, f.store.UpdateSession(sess))

	rec := f.get(t, "/organizations", token)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Acme · Members")
	assert.Contains(t, body, "mia@example.com")
	assert.Contains(t, body, "organization/remove-member")
	assert.Contains(t, body, "$30.00")
	assert.Contains(t, body, "Cancel Subscription")
	assert.Contains(t, body, "Change Plan")
}

func TestOrganizationsPage_NoActiveOrganization(t *testing.T) {
	f := newFixture(t, true)
	_, token := f.user(t, "Olga", "olga@example.com", core.RoleUser)

	rec := f.get(t, "/organizations", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a member of any organization")
	assert.NotContains(t, rec.Body.String(), `id="subscriptions"`)
}

func TestAdminPage(t *testing.T) {
	f := newFixture(t, false)
	_, adminToken := f.user(t, "Ada", "ada@example.com", core.RoleAdmin)
	f.user(t, "Uma", "uma@example.com", core.RoleUser)

	rec := f.get(t, "/admin", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "uma@example.com")
	assert.NotContains(t, body, "ada@example.com</td>")
	assert.Contains(t, body, "Total: 2")
	assert.Contains(t, body, "admin/impersonate-user")
	assert.Contains(t, body, "admin/ban-user")
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/static/portal.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data-api")
}
