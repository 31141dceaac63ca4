package core

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Password utilities
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	numberRe  = regexp.MustCompile(`[0-9]`)
	specialRe = regexp.MustCompile(`[^a-zA-Z0-9]`)
	slugRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

// Password validation
func validatePasswordStrength(password string, config SecurityConfig) error {
	if len(password) < config.PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters long", config.PasswordMinLength)
	}

	if config.PasswordRequireUpper && !upperRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}

	if config.PasswordRequireLower && !lowerRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}

	if config.PasswordRequireNumber && !numberRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one number")
	}

	if config.PasswordRequireSpecial && !specialRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one special character")
	}

	return nil
}

// slugify lower-cases name and joins its alphanumeric runs with dashes.
func slugify(name string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// IP utilities
func extractIPFromRequest(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ClientIP returns the client address of r, or "" when none is known.
// Forwarding headers are ignored; servers behind a trusted proxy rewrite
// RemoteAddr before the request gets here.
func ClientIP(r *http.Request) string {
	return extractIPFromRequest(r.RemoteAddr)
}

// calculateSessionExpiry calculates when a session should expire
func calculateSessionExpiry(lifetime time.Duration) time.Time {
	return time.Now().Add(lifetime)
}

// extractTokenFromRequest extracts the session token from the Authorization header or the session cookie
func extractTokenFromRequest(r *http.Request, cookieName string) string {
	if token := r.Header.Get("Authorization"); token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}

	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}

	return ""
}

// decodeRequest decodes a JSON body into dst and validates it.
func (a *AuthService) decodeRequest(r *http.Request, dst any) (int, string) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return http.StatusBadRequest, "Invalid request format"
	}
	if err := a.validator.Struct(dst); err != nil {
		return http.StatusBadRequest, formatValidationErrors(err)
	}
	return 0, ""
}

// Helper function to format validation errors
func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errorMessages []string
		for _, fieldError := range validationErrors {
			switch fieldError.Tag() {
			case "required":
				errorMessages = append(errorMessages, fmt.Sprintf("%s is required", fieldError.Field()))
			case "email":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be a valid email address", fieldError.Field()))
			case "min":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be at least %s characters long", fieldError.Field(), fieldError.Param()))
			case "max":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be at most %s characters long", fieldError.Field(), fieldError.Param()))
			case "oneof":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be one of: %s", fieldError.Field(), fieldError.Param()))
			default:
				errorMessages = append(errorMessages, fmt.Sprintf("%s is invalid", fieldError.Field()))
			}
		}
		return strings.Join(errorMessages, "; ")
	}
	return err.Error()
}

// Security event types
const (
	EventSignUp               = "user_signup"
	EventLoginSuccess         = "login_success"
	EventLoginFailed          = "login_failed"
	EventPasswordReset        = "password_reset"
	EventPasswordChanged      = "password_changed"
	EventEmailVerified        = "email_verified"
	EventEmailChanged         = "email_changed"
	EventAccountLocked        = "account_locked"
	EventAccountDeleted       = "account_deleted"
	EventSessionTerminated    = "session_terminated"
	EventOAuthLinked          = "oauth_account_linked"
	EventUserBanned           = "user_banned"
	EventUserUnbanned         = "user_unbanned"
	EventRoleChanged          = "role_changed"
	EventImpersonationStarted = "impersonation_started"
	EventImpersonationStopped = "impersonation_stopped"
)
