// Package web serves the portal's server-rendered pages behind session and
// capability guards.
package web

import (
	"log/slog"
	"net/http"

	"github.com/wispberry-tech/wispy-portal/core"
)

// Redirect targets of the guard.
const (
	LoginPath = "/auth/login"
	HomePath  = "/"
)

// SessionResolver resolves the caller of a request. *core.AuthService
// implements it.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*core.SessionContext, bool)
}

// Authorizer answers capability checks for a role label. *core.AccessControl
// implements it.
type Authorizer interface {
	Allows(roleLabel string, caps ...core.Capability) bool
}

// Guard decides whether a page may render. Without a session the visitor is
// sent to the login page; with a session lacking a capability, to the home
// page. Either redirect ends the request.
type Guard struct {
	sessions SessionResolver
	access   Authorizer
}

// NewGuard creates a guard.
func NewGuard(sessions SessionResolver, access Authorizer) *Guard {
	return &Guard{sessions: sessions, access: access}
}

// Check resolves the session and verifies caps. When it returns false a
// redirect has been written and the caller must stop.
func (g *Guard) Check(w http.ResponseWriter, r *http.Request, caps ...core.Capability) (*core.SessionContext, bool) {
	sc, ok := g.sessions.ResolveSession(r)
	if !ok {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return nil, false
	}
	if len(caps) > 0 && !g.access.Allows(sc.User.Role, caps...) {
		slog.Debug("Page refused for missing capability", "path", r.URL.Path, "user_id", sc.User.ID)
		http.Redirect(w, r, HomePath, http.StatusFound)
		return nil, false
	}
	return sc, true
}

// RequireSession guards next and stores the session in the request context.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return g.RequirePermission()(next)
}

// RequirePermission guards next with caps and stores the session in the
// request context.
func (g *Guard) RequirePermission(caps ...core.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := g.Check(w, r, caps...)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(core.WithSession(r.Context(), sc)))
		})
	}
}
