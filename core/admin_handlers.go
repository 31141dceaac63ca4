package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// AdminUserRequest names the target of a row action.
type AdminUserRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// SetRoleRequest assigns a role label to a user
type SetRoleRequest struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

// BanUserRequest bans a user, optionally for a limited time
type BanUserRequest struct {
	UserID       string `json:"userId" validate:"required"`
	BanReason    string `json:"banReason"`
	BanExpiresIn int64  `json:"banExpiresIn" validate:"gte=0"` // seconds, 0 means permanent
}

// HasPermissionRequest asks whether the caller holds a set of permissions
type HasPermissionRequest struct {
	Permissions map[string][]string `json:"permissions" validate:"required"`
}

// ListUsersResponse is a page of users
type ListUsersResponse struct {
	Users      []*User `json:"users"`
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
	StatusCode int     `json:"-"`
	Error      string  `json:"error,omitempty"`
}

// ImpersonationResponse carries the session swap performed by impersonation.
// AdminToken is the session to restore when impersonation stops.
type ImpersonationResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	AdminToken string    `json:"-"`
	User       *User     `json:"user"`
	StatusCode int       `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// HasPermissionResponse answers a permission query
type HasPermissionResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"-"`
	Error      string `json:"error,omitempty"`
}

// requireCapability resolves the session and checks caps. On failure it
// returns the status and message to answer with.
func (a *AuthService) requireCapability(r *http.Request, caps ...Capability) (*SessionContext, int, string) {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return nil, http.StatusUnauthorized, "User not authenticated"
	}
	if !a.access.Allows(sc.User.Role, caps...) {
		slog.Debug("Capability check failed", "user_id", sc.User.ID, "capabilities", caps)
		return nil, http.StatusForbidden, "You are not allowed to perform this action"
	}
	return sc, 0, ""
}

// loadTarget fetches the user named by an admin request.
func (a *AuthService) loadTarget(userID string) (*User, int, string) {
	user, err := a.storage.GetUserByID(userID)
	if err != nil {
		slog.Error("Failed to load target user", "user_id", userID, "error", err)
		return nil, http.StatusInternalServerError, "Internal server error"
	}
	if user == nil {
		return nil, http.StatusNotFound, "User not found"
	}
	return user, 0, ""
}

// ListUsersHandler returns a page of users for the admin console
func (a *AuthService) ListUsersHandler(r *http.Request) ListUsersResponse {
	if _, status, msg := a.requireCapability(r, CapUserList); status != 0 {
		return ListUsersResponse{StatusCode: status, Error: msg}
	}

	q := r.URL.Query()
	opts := ListUsersOptions{
		Limit:         100,
		SortBy:        "createdAt",
		SortDirection: "desc",
		SearchEmail:   q.Get("searchEmail"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		opts.Offset = v
	}
	switch q.Get("sortBy") {
	case "email", "name", "createdAt":
		opts.SortBy = q.Get("sortBy")
	}
	switch strings.ToLower(q.Get("sortDirection")) {
	case "asc":
		opts.SortDirection = "asc"
	}

	users, total, err := a.storage.ListUsers(opts)
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		return ListUsersResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	for _, u := range users {
		u.PasswordHash = ""
	}

	return ListUsersResponse{StatusCode: http.StatusOK, Users: users, Total: total, Limit: opts.Limit, Offset: opts.Offset}
}

// SetRoleHandler replaces a user's role label
func (a *AuthService) SetRoleHandler(r *http.Request) UserResponse {
	sc, status, msg := a.requireCapability(r, CapUserSetRole)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	var req SetRoleRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user, status, msg := a.loadTarget(req.UserID)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user.Role = req.Role
	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to set role", "user_id", user.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&user.ID, EventRoleChanged, "Role set to "+req.Role+" by "+sc.User.ID, ClientIP(r), r.UserAgent(), true)
	user.PasswordHash = ""
	return UserResponse{StatusCode: http.StatusOK, User: user}
}

// BanUserHandler bans a user and revokes their sessions
func (a *AuthService) BanUserHandler(r *http.Request) UserResponse {
	sc, status, msg := a.requireCapability(r, CapUserBan)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	var req BanUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}
	if req.UserID == sc.User.ID {
		return UserResponse{StatusCode: http.StatusBadRequest, Error: "You cannot ban yourself"}
	}

	user, status, msg := a.loadTarget(req.UserID)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user.Banned = true
	user.BanReason = req.BanReason
	if user.BanReason == "" {
		user.BanReason = "No reason"
	}
	user.BanExpires = nil
	if req.BanExpiresIn > 0 {
		expires := time.Now().Add(time.Duration(req.BanExpiresIn) * time.Second)
		user.BanExpires = &expires
	}

	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to ban user", "user_id", user.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if err := a.storage.DeleteUserSessions(user.ID); err != nil {
		slog.Error("Failed to revoke sessions of banned user", "user_id", user.ID, "error", err)
	}

	a.logSecurityEvent(&user.ID, EventUserBanned, "User banned by "+sc.User.ID, ClientIP(r), r.UserAgent(), true)
	user.PasswordHash = ""
	return UserResponse{StatusCode: http.StatusOK, User: user}
}

// UnbanUserHandler lifts a ban
func (a *AuthService) UnbanUserHandler(r *http.Request) UserResponse {
	sc, status, msg := a.requireCapability(r, CapUserBan)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	var req AdminUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user, status, msg := a.loadTarget(req.UserID)
	if status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user.Banned = false
	user.BanReason = ""
	user.BanExpires = nil
	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to unban user", "user_id", user.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&user.ID, EventUserUnbanned, "User unbanned by "+sc.User.ID, ClientIP(r), r.UserAgent(), true)
	user.PasswordHash = ""
	return UserResponse{StatusCode: http.StatusOK, User: user}
}

// RemoveUserHandler deletes a user
func (a *AuthService) RemoveUserHandler(r *http.Request) StatusResponse {
	sc, status, msg := a.requireCapability(r, CapUserDelete)
	if status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	var req AdminUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}
	if req.UserID == sc.User.ID {
		return StatusResponse{StatusCode: http.StatusBadRequest, Error: "You cannot remove yourself"}
	}

	if _, status, msg := a.loadTarget(req.UserID); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	if err := a.removeUser(req.UserID); err != nil {
		slog.Error("Failed to remove user", "user_id", req.UserID, "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&sc.User.ID, EventAccountDeleted, "Removed user "+req.UserID, ClientIP(r), r.UserAgent(), true)
	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

// RevokeUserSessionsHandler signs a user out everywhere
func (a *AuthService) RevokeUserSessionsHandler(r *http.Request) StatusResponse {
	sc, status, msg := a.requireCapability(r, CapSessionRevoke)
	if status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	var req AdminUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	if err := a.storage.DeleteUserSessions(req.UserID); err != nil {
		slog.Error("Failed to revoke user sessions", "user_id", req.UserID, "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&req.UserID, EventSessionTerminated, "Sessions revoked by "+sc.User.ID, ClientIP(r), r.UserAgent(), true)
	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

// ImpersonateUserHandler opens a short session as another user on behalf of an admin
func (a *AuthService) ImpersonateUserHandler(r *http.Request) ImpersonationResponse {
	sc, status, msg := a.requireCapability(r, CapUserImpersonate)
	if status != 0 {
		return ImpersonationResponse{StatusCode: status, Error: msg}
	}

	var req AdminUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return ImpersonationResponse{StatusCode: status, Error: msg}
	}
	if req.UserID == sc.User.ID {
		return ImpersonationResponse{StatusCode: http.StatusBadRequest, Error: "You cannot impersonate yourself"}
	}

	target, status, msg := a.loadTarget(req.UserID)
	if status != 0 {
		return ImpersonationResponse{StatusCode: status, Error: msg}
	}
	if a.access.IsAdmin(target) {
		return ImpersonationResponse{StatusCode: http.StatusForbidden, Error: "You cannot impersonate an admin"}
	}

	adminID := sc.User.ID
	session, err := a.createSession(r, target, sessionOptions{
		lifetime:       a.securityConfig.ImpersonationSessionLifetime,
		impersonatedBy: &adminID,
	})
	if err != nil {
		slog.Error("Failed to create impersonation session", "error", err)
		return ImpersonationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(&target.ID, EventImpersonationStarted, "Impersonated by "+adminID, ClientIP(r), r.UserAgent(), true)
	slog.Info("Impersonation started", "admin_id", adminID, "user_id", target.ID)

	target.PasswordHash = ""
	return ImpersonationResponse{
		StatusCode: http.StatusOK,
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
		AdminToken: sc.Session.Token,
		User:       target,
	}
}

// StopImpersonatingHandler ends an impersonation session and restores the
// admin's own session. adminToken is the session saved when impersonation
// started; a fresh admin session is opened when it is no longer valid.
func (a *AuthService) StopImpersonatingHandler(r *http.Request, adminToken string) ImpersonationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return ImpersonationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	if !sc.IsImpersonating() {
		return ImpersonationResponse{StatusCode: http.StatusBadRequest, Error: "You are not impersonating anyone"}
	}
	adminID := *sc.Session.ImpersonatedBy

	if err := a.storage.DeleteSession(sc.Session.Token); err != nil {
		slog.Error("Failed to delete impersonation session", "error", err)
		return ImpersonationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	admin, status, msg := a.loadTarget(adminID)
	if status != 0 {
		return ImpersonationResponse{StatusCode: status, Error: msg}
	}

	a.logSecurityEvent(&sc.User.ID, EventImpersonationStopped, "Impersonation by "+adminID+" stopped", ClientIP(r), r.UserAgent(), true)
	admin.PasswordHash = ""

	if adminToken != "" {
		if s, err := a.storage.GetSession(adminToken); err == nil && s != nil && s.UserID == adminID && s.ExpiresAt.After(time.Now()) {
			return ImpersonationResponse{StatusCode: http.StatusOK, Token: s.Token, ExpiresAt: s.ExpiresAt, User: admin}
		}
	}

	session, err := a.createSession(r, admin, sessionOptions{})
	if err != nil {
		slog.Error("Failed to restore admin session", "error", err)
		return ImpersonationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	return ImpersonationResponse{StatusCode: http.StatusOK, Token: session.Token, ExpiresAt: session.ExpiresAt, User: admin}
}

// HasPermissionHandler reports whether the caller holds the requested permissions
func (a *AuthService) HasPermissionHandler(r *http.Request) HasPermissionResponse {
	var req HasPermissionRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return HasPermissionResponse{StatusCode: status, Error: msg}
	}

	caps, err := ParseCapabilities(req.Permissions)
	if err != nil {
		return HasPermissionResponse{StatusCode: http.StatusBadRequest, Error: err.Error()}
	}

	sc, ok := a.ResolveSession(r)
	if !ok {
		return HasPermissionResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	return HasPermissionResponse{StatusCode: http.StatusOK, Success: a.access.Allows(sc.User.Role, caps...)}
}
