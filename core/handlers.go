package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Request and Response Types

// SignUpRequest represents a user registration request
type SignUpRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=128"`
	Name           string `json:"name" validate:"required,max=100"`
	Image          string `json:"image" validate:"omitempty,url"`
	FavoriteNumber *int   `json:"favoriteNumber" validate:"required"`
}

// SignUpResponse represents the response for user registration. Token is
// empty when the email must be verified before the first sign-in.
type SignUpResponse struct {
	Token      string    `json:"token,omitempty"`
	ExpiresAt  time.Time `json:"-"`
	User       *User     `json:"user"`
	StatusCode int       `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// SignInRequest represents a user login request
type SignInRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe *bool  `json:"rememberMe"`
}

// SignInResponse represents the response for user authentication
type SignInResponse struct {
	Token      string    `json:"token"`
	User       *User     `json:"user"`
	ExpiresAt  time.Time `json:"expiresAt"`
	StatusCode int       `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// GetSessionResponse carries the current session, or nulls when there is none.
type GetSessionResponse struct {
	Session    *Session `json:"session"`
	User       *User    `json:"user"`
	StatusCode int      `json:"-"`
	Error      string   `json:"error,omitempty"`
}

// SessionsResponse represents the response for user session listing
type SessionsResponse struct {
	Sessions   []*Session `json:"sessions"`
	StatusCode int        `json:"-"`
	Error      string     `json:"error,omitempty"`
}

// StatusResponse is returned by operations with no payload beyond success.
type StatusResponse struct {
	Status     bool   `json:"status"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"-"`
	Error      string `json:"error,omitempty"`
}

// RevokeSessionRequest identifies a session of the caller by its token.
type RevokeSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// SignUpHandler processes user registration requests
func (a *AuthService) SignUpHandler(r *http.Request) SignUpResponse {
	var req SignUpRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		slog.Debug("Signup request rejected", "error", msg)
		return SignUpResponse{StatusCode: status, Error: msg}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	existingUser, err := a.storage.GetUserByEmail(email)
	if err != nil {
		slog.Error("Failed to check existing user", "error", err)
		return SignUpResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if existingUser != nil {
		slog.Debug("User already exists", "email", email)
		return SignUpResponse{StatusCode: http.StatusConflict, Error: "User already exists"}
	}

	if err := validatePasswordStrength(req.Password, a.securityConfig); err != nil {
		slog.Debug("Password validation failed", "error", err)
		return SignUpResponse{StatusCode: http.StatusBadRequest, Error: err.Error()}
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return SignUpResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	user := &User{
		Email:          email,
		Name:           strings.TrimSpace(req.Name),
		Image:          req.Image,
		PasswordHash:   hashedPassword,
		Provider:       "email",
		Role:           RoleUser,
		FavoriteNumber: *req.FavoriteNumber,
	}

	if err := a.storage.CreateUser(user); err != nil {
		slog.Error("Failed to create user", "error", err)
		return SignUpResponse{StatusCode: http.StatusInternalServerError, Error: "Failed to create user"}
	}

	ip := ClientIP(r)
	userAgent := r.UserAgent()
	a.logSecurityEvent(&user.ID, EventSignUp, "User successfully registered", ip, userAgent, true)
	slog.Info("User registered successfully", "user_id", user.ID, "email", user.Email)

	a.sendVerificationEmail(r, user, PurposeEmailVerification, user.Email, "")

	if err := a.mailer.SendWelcome(r.Context(), user.Email, user.Name); err != nil {
		slog.Error("Failed to send welcome email", "user_id", user.ID, "error", err)
	}

	user.PasswordHash = ""

	if a.securityConfig.RequireEmailVerification {
		return SignUpResponse{StatusCode: http.StatusOK, User: user}
	}

	session, err := a.createSession(r, user, sessionOptions{})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return SignUpResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	return SignUpResponse{
		StatusCode: http.StatusOK,
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
		User:       user,
	}
}

// SignInHandler processes user authentication requests
func (a *AuthService) SignInHandler(r *http.Request) SignInResponse {
	var req SignInRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		slog.Debug("Signin request rejected", "error", msg)
		return SignInResponse{StatusCode: status, Error: msg}
	}
	return a.SignIn(r, req.Email, req.Password)
}

// SignIn verifies email and password credentials and opens a session.
func (a *AuthService) SignIn(r *http.Request, email, password string) SignInResponse {
	ip := ClientIP(r)
	userAgent := r.UserAgent()
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := a.storage.GetUserByEmail(email)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		return SignInResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if user == nil || user.PasswordHash == "" {
		slog.Debug("User not found", "email", email)
		a.logSecurityEvent(nil, EventLoginFailed, "Login attempt for non-existent user", ip, userAgent, false)
		return SignInResponse{StatusCode: http.StatusUnauthorized, Error: "Invalid email or password"}
	}

	if user.IsBanned(time.Now()) {
		slog.Debug("User account is banned", "user_id", user.ID)
		a.logSecurityEvent(&user.ID, EventLoginFailed, "Login attempt on banned account", ip, userAgent, false)
		return SignInResponse{StatusCode: http.StatusForbidden, Error: "You have been banned from this application"}
	}

	userSecurity, err := a.storage.GetUserSecurity(user.ID)
	if err != nil {
		slog.Error("Failed to get user security", "error", err)
		return SignInResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if userSecurity != nil && userSecurity.LockedUntil != nil && time.Now().Before(*userSecurity.LockedUntil) {
		slog.Debug("Account is locked", "user_id", user.ID, "locked_until", userSecurity.LockedUntil)
		a.logSecurityEvent(&user.ID, EventLoginFailed, "Login attempt on locked account", ip, userAgent, false)
		return SignInResponse{StatusCode: http.StatusUnauthorized, Error: "Account is temporarily locked"}
	}

	if !checkPasswordHash(password, user.PasswordHash) {
		slog.Debug("Invalid password", "user_id", user.ID)

		if err := a.storage.IncrementLoginAttempts(user.ID); err != nil {
			slog.Error("Failed to increment login attempts", "error", err)
		}

		if userSecurity != nil && userSecurity.LoginAttempts+1 >= a.securityConfig.MaxLoginAttempts {
			lockUntil := time.Now().Add(a.securityConfig.LockoutDuration)
			if err := a.storage.SetUserLocked(user.ID, lockUntil); err != nil {
				slog.Error("Failed to lock user account", "error", err)
			} else {
				a.logSecurityEvent(&user.ID, EventAccountLocked, "Account locked due to too many failed login attempts", ip, userAgent, true)
			}
		}

		a.logSecurityEvent(&user.ID, EventLoginFailed, "Invalid password provided", ip, userAgent, false)
		return SignInResponse{StatusCode: http.StatusUnauthorized, Error: "Invalid email or password"}
	}

	if a.securityConfig.RequireEmailVerification && !user.EmailVerified {
		a.sendVerificationEmail(r, user, PurposeEmailVerification, user.Email, "")
		return SignInResponse{StatusCode: http.StatusForbidden, Error: "Email not verified"}
	}

	if err := a.storage.ResetLoginAttempts(user.ID); err != nil {
		slog.Error("Failed to reset login attempts", "error", err)
	}
	if err := a.storage.UpdateLastLogin(user.ID, ip); err != nil {
		slog.Error("Failed to update last login", "error", err)
	}

	session, err := a.createSession(r, user, sessionOptions{})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return SignInResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&user.ID, EventLoginSuccess, "User successfully logged in", ip, userAgent, true)
	slog.Info("User logged in successfully", "user_id", user.ID, "email", user.Email)

	user.PasswordHash = ""

	return SignInResponse{
		StatusCode: http.StatusOK,
		Token:      session.Token,
		User:       user,
		ExpiresAt:  session.ExpiresAt,
	}
}

// GetSessionHandler returns the current session. It answers 200 with null
// fields when there is no session.
func (a *AuthService) GetSessionHandler(r *http.Request) GetSessionResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return GetSessionResponse{StatusCode: http.StatusOK}
	}
	return GetSessionResponse{StatusCode: http.StatusOK, Session: sc.Session, User: sc.User}
}

// SignOutHandler deletes the current session
func (a *AuthService) SignOutHandler(r *http.Request) StatusResponse {
	token := extractTokenFromRequest(r, a.securityConfig.CookieName)
	if token == "" {
		return StatusResponse{StatusCode: http.StatusBadRequest, Error: "No token provided"}
	}

	if err := a.storage.DeleteSession(token); err != nil {
		slog.Error("Failed to delete session", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	return StatusResponse{StatusCode: http.StatusOK, Status: true, Message: "Successfully logged out"}
}

// ListSessionsHandler returns all active sessions for the current user
func (a *AuthService) ListSessionsHandler(r *http.Request) SessionsResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return SessionsResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	sessions, err := a.storage.GetUserSessions(sc.User.ID)
	if err != nil {
		slog.Error("Failed to get user sessions", "error", err)
		return SessionsResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	now := time.Now()
	active := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ExpiresAt.After(now) {
			active = append(active, s)
		}
	}

	return SessionsResponse{StatusCode: http.StatusOK, Sessions: active}
}

// RevokeSessionHandler deletes one of the caller's own sessions
func (a *AuthService) RevokeSessionHandler(r *http.Request) StatusResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return StatusResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req RevokeSessionRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	session, err := a.storage.GetSession(req.Token)
	if err != nil {
		slog.Error("Failed to get session", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if session == nil || session.UserID != sc.User.ID {
		return StatusResponse{StatusCode: http.StatusNotFound, Error: "Session not found"}
	}

	if err := a.storage.DeleteSession(req.Token); err != nil {
		slog.Error("Failed to delete session", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&sc.User.ID, EventSessionTerminated, "Session revoked by user", ClientIP(r), r.UserAgent(), true)
	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

// RevokeOtherSessionsHandler deletes every session of the caller except the current one
func (a *AuthService) RevokeOtherSessionsHandler(r *http.Request) StatusResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return StatusResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	if err := a.revokeOtherSessions(sc); err != nil {
		slog.Error("Failed to revoke other sessions", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

func (a *AuthService) revokeOtherSessions(sc *SessionContext) error {
	sessions, err := a.storage.GetUserSessions(sc.User.ID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Token == sc.Session.Token {
			continue
		}
		if err := a.storage.DeleteSession(s.Token); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
