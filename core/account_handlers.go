package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned when a verification token is unknown, used or expired
	ErrInvalidToken = errors.New("invalid or expired token")
)

// UpdateUserRequest changes profile fields; nil fields are left untouched.
type UpdateUserRequest struct {
	Name           *string `json:"name" validate:"omitempty,min=1,max=100"`
	Image          *string `json:"image" validate:"omitempty,url"`
	FavoriteNumber *int    `json:"favoriteNumber"`
}

// UserResponse carries a single user.
type UserResponse struct {
	User       *User  `json:"user"`
	StatusCode int    `json:"-"`
	Error      string `json:"error,omitempty"`
}

// ChangePasswordRequest represents a password change by a signed-in user
type ChangePasswordRequest struct {
	CurrentPassword     string `json:"currentPassword" validate:"required"`
	NewPassword         string `json:"newPassword" validate:"required,min=8,max=128"`
	RevokeOtherSessions bool   `json:"revokeOtherSessions"`
}

// RequestPasswordResetRequest asks for a reset link
type RequestPasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes a reset with the emailed token
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

// SendVerificationEmailRequest asks for a fresh verification link
type SendVerificationEmailRequest struct {
	Email       string `json:"email" validate:"required,email"`
	CallbackURL string `json:"callbackURL"`
}

// ChangeEmailRequest starts an email change; the link goes to the new address.
type ChangeEmailRequest struct {
	NewEmail    string `json:"newEmail" validate:"required,email"`
	CallbackURL string `json:"callbackURL"`
}

// DeleteUserRequest starts account deletion; the confirmation link is emailed.
type DeleteUserRequest struct {
	Password    string `json:"password"`
	CallbackURL string `json:"callbackURL"`
}

// RedirectResponse is returned by link callbacks. A non-empty Token means a
// session was opened and should be set as a cookie before redirecting.
type RedirectResponse struct {
	Status     bool      `json:"status"`
	RedirectTo string    `json:"redirectTo,omitempty"`
	Token      string    `json:"token,omitempty"`
	ExpiresAt  time.Time `json:"-"`
	StatusCode int       `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// safeRedirect keeps redirects on this origin.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fallback
	}
	return target
}

// issueVerification stores a single-use token for purpose and returns it.
func (a *AuthService) issueVerification(purpose, userID, value string) (string, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	v := &Verification{
		Token:     token,
		Purpose:   purpose,
		UserID:    userID,
		Value:     value,
		ExpiresAt: time.Now().Add(a.securityConfig.VerificationTokenExpiry),
	}
	if err := a.storage.CreateVerification(v); err != nil {
		return "", fmt.Errorf("store verification: %w", err)
	}
	return token, nil
}

// consumeVerification returns and deletes a live token issued for one of purposes.
func (a *AuthService) consumeVerification(token string, purposes ...string) (*Verification, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	v, err := a.storage.GetVerification(token)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrInvalidToken
	}
	if err := a.storage.DeleteVerification(token); err != nil {
		return nil, err
	}
	if time.Now().After(v.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	for _, p := range purposes {
		if v.Purpose == p {
			return v, nil
		}
	}
	return nil, ErrInvalidToken
}

// sendVerificationEmail issues a token for purpose and mails the matching link to to.
// Failures are logged; the triggering request still succeeds.
func (a *AuthService) sendVerificationEmail(r *http.Request, user *User, purpose, to, callbackURL string) {
	value := ""
	if purpose == PurposeChangeEmail {
		value = to
	}

	token, err := a.issueVerification(purpose, user.ID, value)
	if err != nil {
		slog.Error("Failed to issue verification token", "purpose", purpose, "user_id", user.ID, "error", err)
		return
	}

	q := url.Values{"token": {token}}
	if callbackURL != "" {
		q.Set("callbackURL", callbackURL)
	}

	ctx := r.Context()
	switch purpose {
	case PurposeEmailVerification, PurposeChangeEmail:
		link := a.baseURL + a.basePath + "/verify-email?" + q.Encode()
		err = a.mailer.SendVerification(ctx, to, user.Name, link)
	case PurposePasswordReset:
		link := a.baseURL + "/auth/reset-password?" + q.Encode()
		err = a.mailer.SendPasswordReset(ctx, to, user.Name, link)
	case PurposeDeleteAccount:
		link := a.baseURL + a.basePath + "/delete-user/callback?" + q.Encode()
		err = a.mailer.SendDeleteAccount(ctx, to, user.Name, link)
	}
	if err != nil {
		slog.Error("Failed to send email", "purpose", purpose, "user_id", user.ID, "error", err)
	}
}

// UpdateUserHandler updates the caller's profile
func (a *AuthService) UpdateUserHandler(r *http.Request) UserResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return UserResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req UpdateUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user, err := a.storage.GetUserByID(sc.User.ID)
	if err != nil || user == nil {
		slog.Error("Failed to load user for update", "user_id", sc.User.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Image != nil {
		user.Image = *req.Image
	}
	if req.FavoriteNumber != nil {
		user.FavoriteNumber = *req.FavoriteNumber
	}

	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to update user", "user_id", user.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	user.PasswordHash = ""
	return UserResponse{StatusCode: http.StatusOK, User: user}
}

// ChangePasswordHandler changes the caller's password after checking the current one
func (a *AuthService) ChangePasswordHandler(r *http.Request) UserResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return UserResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req ChangePasswordRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	user, err := a.storage.GetUserByID(sc.User.ID)
	if err != nil || user == nil {
		slog.Error("Failed to load user for password change", "user_id", sc.User.ID, "error", err)
		return UserResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if user.PasswordHash == "" {
		return UserResponse{StatusCode: http.StatusBadRequest, Error: "Account has no password"}
	}
	if !checkPasswordHash(req.CurrentPassword, user.PasswordHash) {
		return UserResponse{StatusCode: http.StatusBadRequest, Error: "Invalid password"}
	}
	if err := validatePasswordStrength(req.NewPassword, a.securityConfig); err != nil {
		return UserResponse{StatusCode: http.StatusBadRequest, Error: err.Error()}
	}

	if status, msg := a.setPassword(user, req.NewPassword); status != 0 {
		return UserResponse{StatusCode: status, Error: msg}
	}

	if req.RevokeOtherSessions {
		if err := a.revokeOtherSessions(sc); err != nil {
			slog.Error("Failed to revoke other sessions", "user_id", user.ID, "error", err)
		}
	}

	a.logSecurityEvent(&user.ID, EventPasswordChanged, "Password changed by user", ClientIP(r), r.UserAgent(), true)

	user.PasswordHash = ""
	return UserResponse{StatusCode: http.StatusOK, User: user}
}

func (a *AuthService) setPassword(user *User, password string) (int, string) {
	hashed, err := hashPassword(password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return http.StatusInternalServerError, "Internal server error"
	}
	user.PasswordHash = hashed
	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to store password", "user_id", user.ID, "error", err)
		return http.StatusInternalServerError, "Internal server error"
	}
	if err := a.storage.SetPasswordChanged(user.ID, time.Now()); err != nil {
		slog.Error("Failed to record password change", "user_id", user.ID, "error", err)
	}
	return 0, ""
}

// RequestPasswordResetHandler mails a reset link. It always answers 200 so
// that the response does not reveal whether an account exists.
func (a *AuthService) RequestPasswordResetHandler(r *http.Request) StatusResponse {
	var req RequestPasswordResetRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	ok := StatusResponse{StatusCode: http.StatusOK, Status: true, Message: "If this email exists in our system, check your email for the reset link"}

	user, err := a.storage.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		slog.Error("Failed to look up user for password reset", "error", err)
		return ok
	}
	if user == nil {
		slog.Debug("Password reset requested for unknown email")
		return ok
	}

	a.sendVerificationEmail(r, user, PurposePasswordReset, user.Email, "")
	return ok
}

// ResetPasswordHandler sets a new password from an emailed token and signs out every session
func (a *AuthService) ResetPasswordHandler(r *http.Request) StatusResponse {
	var req ResetPasswordRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}
	return a.ResetPassword(r, req.Token, req.NewPassword)
}

// ResetPassword completes a password reset.
func (a *AuthService) ResetPassword(r *http.Request, token, newPassword string) StatusResponse {
	if err := validatePasswordStrength(newPassword, a.securityConfig); err != nil {
		return StatusResponse{StatusCode: http.StatusBadRequest, Error: err.Error()}
	}

	v, err := a.consumeVerification(token, PurposePasswordReset)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return StatusResponse{StatusCode: http.StatusBadRequest, Error: "Invalid token"}
		}
		slog.Error("Failed to consume reset token", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	user, err := a.storage.GetUserByID(v.UserID)
	if err != nil || user == nil {
		return StatusResponse{StatusCode: http.StatusBadRequest, Error: "Invalid token"}
	}

	if status, msg := a.setPassword(user, newPassword); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}
	if err := a.storage.ResetLoginAttempts(user.ID); err != nil {
		slog.Error("Failed to reset login attempts", "error", err)
	}
	if err := a.storage.DeleteUserSessions(user.ID); err != nil {
		slog.Error("Failed to revoke sessions after reset", "user_id", user.ID, "error", err)
	}

	a.logSecurityEvent(&user.ID, EventPasswordReset, "Password reset via email link", ClientIP(r), r.UserAgent(), true)
	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

// SendVerificationEmailHandler re-sends the verification link
func (a *AuthService) SendVerificationEmailHandler(r *http.Request) StatusResponse {
	var req SendVerificationEmailRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	user, err := a.storage.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		slog.Error("Failed to look up user for verification", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if user == nil || user.EmailVerified {
		return StatusResponse{StatusCode: http.StatusOK, Status: true}
	}

	a.sendVerificationEmail(r, user, PurposeEmailVerification, user.Email, req.CallbackURL)
	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}

// VerifyEmailHandler confirms an email address (or an email change) from a
// link and signs the user in.
func (a *AuthService) VerifyEmailHandler(r *http.Request) RedirectResponse {
	q := r.URL.Query()
	v, err := a.consumeVerification(q.Get("token"), PurposeEmailVerification, PurposeChangeEmail)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			slog.Error("Failed to consume verification token", "error", err)
		}
		return RedirectResponse{StatusCode: http.StatusBadRequest, Error: "Invalid token"}
	}

	user, err := a.storage.GetUserByID(v.UserID)
	if err != nil || user == nil {
		return RedirectResponse{StatusCode: http.StatusBadRequest, Error: "Invalid token"}
	}

	if v.Purpose == PurposeChangeEmail {
		taken, err := a.storage.GetUserByEmail(v.Value)
		if err != nil {
			slog.Error("Failed to check new email", "error", err)
			return RedirectResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
		if taken != nil && taken.ID != user.ID {
			return RedirectResponse{StatusCode: http.StatusConflict, Error: "User already exists"}
		}
		user.Email = v.Value
		a.logSecurityEvent(&user.ID, EventEmailChanged, "Email address changed", ClientIP(r), r.UserAgent(), true)
	}
	user.EmailVerified = true

	if err := a.storage.UpdateUser(user); err != nil {
		slog.Error("Failed to mark email verified", "user_id", user.ID, "error", err)
		return RedirectResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	a.logSecurityEvent(&user.ID, EventEmailVerified, "Email address verified", ClientIP(r), r.UserAgent(), true)

	resp := RedirectResponse{StatusCode: http.StatusOK, Status: true, RedirectTo: safeRedirect(q.Get("callbackURL"), "/")}
	if _, signedIn := a.ResolveSession(r); signedIn {
		return resp
	}

	session, err := a.createSession(r, user, sessionOptions{})
	if err != nil {
		slog.Error("Failed to create session after verification", "error", err)
		return resp
	}
	resp.Token = session.Token
	resp.ExpiresAt = session.ExpiresAt
	return resp
}

// ChangeEmailHandler sends a verification link to the requested new address
func (a *AuthService) ChangeEmailHandler(r *http.Request) StatusResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return StatusResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req ChangeEmailRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	newEmail := strings.ToLower(strings.TrimSpace(req.NewEmail))
	if newEmail == sc.User.Email {
		return StatusResponse{StatusCode: http.StatusBadRequest, Error: "Email is the same"}
	}

	existing, err := a.storage.GetUserByEmail(newEmail)
	if err != nil {
		slog.Error("Failed to check new email", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if existing != nil {
		return StatusResponse{StatusCode: http.StatusConflict, Error: "User already exists"}
	}

	a.sendVerificationEmail(r, sc.User, PurposeChangeEmail, newEmail, req.CallbackURL)
	return StatusResponse{StatusCode: http.StatusOK, Status: true, Message: "Verification email sent"}
}

// DeleteUserHandler mails an account deletion link to the caller
func (a *AuthService) DeleteUserHandler(r *http.Request) StatusResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return StatusResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req DeleteUserRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	if req.Password != "" {
		user, err := a.storage.GetUserByID(sc.User.ID)
		if err != nil || user == nil {
			return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
		if !checkPasswordHash(req.Password, user.PasswordHash) {
			return StatusResponse{StatusCode: http.StatusBadRequest, Error: "Invalid password"}
		}
	}

	a.sendVerificationEmail(r, sc.User, PurposeDeleteAccount, sc.User.Email, req.CallbackURL)
	return StatusResponse{StatusCode: http.StatusOK, Status: true, Message: "Verification email sent"}
}

// DeleteUserCallbackHandler deletes the account named by an emailed token
func (a *AuthService) DeleteUserCallbackHandler(r *http.Request) RedirectResponse {
	q := r.URL.Query()
	v, err := a.consumeVerification(q.Get("token"), PurposeDeleteAccount)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			slog.Error("Failed to consume delete token", "error", err)
		}
		return RedirectResponse{StatusCode: http.StatusBadRequest, Error: "Invalid token"}
	}

	if err := a.removeUser(v.UserID); err != nil {
		slog.Error("Failed to delete user", "user_id", v.UserID, "error", err)
		return RedirectResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	a.logSecurityEvent(nil, EventAccountDeleted, "Account deleted by its owner", ClientIP(r), r.UserAgent(), true)
	return RedirectResponse{StatusCode: http.StatusOK, Status: true, RedirectTo: safeRedirect(q.Get("callbackURL"), "/")}
}

// removeUser drops the user's sessions and then the user record.
func (a *AuthService) removeUser(userID string) error {
	if err := a.storage.DeleteUserSessions(userID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := a.storage.DeleteUser(userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
