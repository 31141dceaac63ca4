package core

import (
	"log/slog"
	"net/http"
)

// RequireSession rejects requests without a valid session with 401 and
// stores the resolved session in the request context otherwise.
func (a *AuthService) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := a.ResolveSession(r)
		if !ok {
			slog.Debug("Request without valid session", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, StatusResponse{Error: "User not authenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sc)))
	})
}

// LoadSession stores the session in the request context when there is one
// and lets every request through.
func (a *AuthService) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc, ok := a.ResolveSession(r); ok {
			r = r.WithContext(WithSession(r.Context(), sc))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability rejects requests whose user lacks caps with 403.
func (a *AuthService) RequireCapability(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, status, msg := a.requireCapability(r, caps...)
			if status != 0 {
				writeJSON(w, status, StatusResponse{Error: msg})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sc)))
		})
	}
}
