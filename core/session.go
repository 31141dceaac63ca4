package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SessionContext is a resolved session together with its user.
type SessionContext struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// IsImpersonating reports whether an admin is acting as this session's user.
func (sc *SessionContext) IsImpersonating() bool {
	return sc != nil && sc.Session != nil && sc.Session.ImpersonatedBy != nil
}

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession returns a copy of ctx carrying sc.
func WithSession(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}

// SessionFromContext returns the session stored by WithSession, if any.
func SessionFromContext(ctx context.Context) (*SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey).(*SessionContext)
	return sc, ok && sc != nil
}

// ResolveSession returns the current session for r. It never fails loudly:
// a missing, unknown, expired or banned session resolves to (nil, false) and
// storage errors are logged.
func (a *AuthService) ResolveSession(r *http.Request) (*SessionContext, bool) {
	if sc, ok := SessionFromContext(r.Context()); ok {
		return sc, true
	}

	token := extractTokenFromRequest(r, a.securityConfig.CookieName)
	if token == "" {
		return nil, false
	}

	session, err := a.storage.GetSession(token)
	if err != nil {
		slog.Error("Failed to get session", "error", err)
		return nil, false
	}
	if session == nil {
		slog.Debug("Invalid session token", "token_prefix", token[:min(8, len(token))])
		return nil, false
	}

	now := time.Now()
	if now.After(session.ExpiresAt) {
		slog.Debug("Session expired", "session_id", session.ID)
		if err := a.storage.DeleteSession(token); err != nil {
			slog.Error("Failed to delete expired session", "error", err)
		}
		return nil, false
	}

	user, err := a.storage.GetUserByID(session.UserID)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		return nil, false
	}
	if user == nil {
		slog.Debug("User not found for session", "user_id", session.UserID)
		return nil, false
	}
	if user.IsBanned(now) {
		slog.Debug("Session belongs to banned user", "user_id", user.ID)
		return nil, false
	}

	// Sliding refresh; impersonation sessions keep their short fixed lifetime.
	if session.ImpersonatedBy == nil && now.Sub(session.UpdatedAt) >= a.securityConfig.SessionUpdateAge {
		session.ExpiresAt = calculateSessionExpiry(a.securityConfig.SessionLifetime)
		session.UpdatedAt = now
		if err := a.storage.UpdateSession(session); err != nil {
			slog.Error("Failed to refresh session", "session_id", session.ID, "error", err)
		}
	}

	user.PasswordHash = ""
	return &SessionContext{Session: session, User: user}, true
}

// sessionOptions customise createSession.
type sessionOptions struct {
	lifetime       time.Duration
	impersonatedBy *string
}

// createSession opens a session for user. The active organization defaults
// to the user's most recently joined organization.
func (a *AuthService) createSession(r *http.Request, user *User, opts sessionOptions) (*Session, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	lifetime := opts.lifetime
	if lifetime == 0 {
		lifetime = a.securityConfig.SessionLifetime
	}

	now := time.Now()
	session := &Session{
		ID:             uuid.NewString(),
		Token:          token,
		UserID:         user.ID,
		ExpiresAt:      now.Add(lifetime),
		IPAddress:      ClientIP(r),
		UserAgent:      r.UserAgent(),
		ImpersonatedBy: opts.impersonatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	memberships, err := a.storage.ListUserMemberships(user.ID)
	if err != nil {
		slog.Error("Failed to list memberships for new session", "user_id", user.ID, "error", err)
	} else if len(memberships) > 0 {
		orgID := memberships[0].OrganizationID
		session.ActiveOrganizationID = &orgID
	}

	if err := a.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SetSessionCookie writes the session cookie for token.
func (a *AuthService) SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.securityConfig.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (a *AuthService) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.securityConfig.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
