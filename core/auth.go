// Package core is the authentication framework the portal is built on.
//
// This package includes:
//   - Email/password and GitHub sign-in with lockout protection
//   - Sessions with sliding refresh, impersonation and an active organization
//   - A closed capability set checked against role labels
//   - Organizations, memberships and invitations
//   - Security event auditing
//
// Handlers are return-based: each XxxHandler takes the request and returns a
// response value carrying its own status code. Handler() mounts all of them on
// a chi router under the configured base path.
//
//	authService, err := core.NewAuthService(core.Config{
//		Storage: store,
//		Mailer:  mailer,
//		BaseURL: "https://portal.example.com",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	http.Handle("/api/auth/", authService.Handler())
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Common authentication errors returned by the library
var (
	// ErrUserNotFound is returned when a user cannot be found in the database
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned for authentication failures
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when attempting to create a user that already exists
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidProvider is returned when an unsupported OAuth provider is specified
	ErrInvalidProvider = errors.New("invalid OAuth provider")
	// ErrAccountLocked is returned when an account is temporarily locked
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrForbidden is returned when the caller lacks a capability
	ErrForbidden = errors.New("forbidden")
)

// SecurityConfig defines security-related configuration options
type SecurityConfig struct {
	// Password security
	PasswordMinLength      int
	PasswordRequireUpper   bool
	PasswordRequireLower   bool
	PasswordRequireNumber  bool
	PasswordRequireSpecial bool

	// Login security
	MaxLoginAttempts int           // Maximum failed login attempts before lockout
	LockoutDuration  time.Duration // How long accounts remain locked

	// Sessions
	SessionLifetime              time.Duration // How long sessions remain valid
	SessionUpdateAge             time.Duration // Age after which a used session is extended
	ImpersonationSessionLifetime time.Duration

	// Email flows
	RequireEmailVerification bool // Refuse password sign-in until the email is verified
	VerificationTokenExpiry  time.Duration
	InvitationExpiry         time.Duration

	// Session cookie
	CookieName    string
	SecureCookies bool
}

// DefaultSecurityConfig returns a secure default configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		PasswordMinLength:            8,
		PasswordRequireUpper:         true,
		PasswordRequireLower:         true,
		PasswordRequireNumber:        true,
		PasswordRequireSpecial:       false,
		MaxLoginAttempts:             5,
		LockoutDuration:              15 * time.Minute,
		SessionLifetime:              7 * 24 * time.Hour,
		SessionUpdateAge:             24 * time.Hour,
		ImpersonationSessionLifetime: time.Hour,
		RequireEmailVerification:     false,
		VerificationTokenExpiry:      time.Hour,
		InvitationExpiry:             48 * time.Hour,
		CookieName:                   "wispy_session",
		SecureCookies:                true,
	}
}

// OAuthProviderConfig defines the configuration for an OAuth2 provider.
type OAuthProviderConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`

	// Profile endpoints read after the code exchange.
	UserInfoURL string `json:"user_info_url"`
	EmailsURL   string `json:"emails_url"`
}

// NewGitHubOAuthProvider creates a GitHub OAuth provider configuration with defaults
func NewGitHubOAuthProvider(clientID, clientSecret, redirectURL string) OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      github.Endpoint.AuthURL,
		TokenURL:     github.Endpoint.TokenURL,
		Scopes:       []string{"user:email", "read:user"},
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
	}
}

// Config contains the configuration for the AuthService
type Config struct {
	Storage        Storage                        // Storage implementation (required)
	SecurityConfig SecurityConfig                 // Security configuration
	OAuthProviders map[string]OAuthProviderConfig // OAuth provider configurations
	Mailer         Mailer                         // Outbound email; logs only when nil
	AccessControl  *AccessControl                 // Role table; DefaultAccessControl when nil

	// BaseURL is the public origin used to build links in emails.
	BaseURL string
	// BasePath is where Handler is mounted. Defaults to "/api/auth".
	BasePath string
}

// AuthService is the main service for handling authentication operations.
type AuthService struct {
	storage        Storage
	oauthConfigs   map[string]*oauth2.Config
	oauthProviders map[string]OAuthProviderConfig
	securityConfig SecurityConfig
	validator      *validator.Validate
	mailer         Mailer
	access         *AccessControl
	baseURL        string
	basePath       string
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg Config) (*AuthService, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if err := cfg.Storage.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	securityConfig := cfg.SecurityConfig
	if securityConfig.SessionLifetime == 0 {
		securityConfig = DefaultSecurityConfig()
	}
	defaults := DefaultSecurityConfig()
	if securityConfig.SessionUpdateAge == 0 {
		securityConfig.SessionUpdateAge = defaults.SessionUpdateAge
	}
	if securityConfig.ImpersonationSessionLifetime == 0 {
		securityConfig.ImpersonationSessionLifetime = defaults.ImpersonationSessionLifetime
	}
	if securityConfig.VerificationTokenExpiry == 0 {
		securityConfig.VerificationTokenExpiry = defaults.VerificationTokenExpiry
	}
	if securityConfig.InvitationExpiry == 0 {
		securityConfig.InvitationExpiry = defaults.InvitationExpiry
	}
	if securityConfig.CookieName == "" {
		securityConfig.CookieName = defaults.CookieName
	}

	oauthConfigs := make(map[string]*oauth2.Config)
	for provider, providerCfg := range cfg.OAuthProviders {
		oauthConfigs[provider] = &oauth2.Config{
			ClientID:     providerCfg.ClientID,
			ClientSecret: providerCfg.ClientSecret,
			RedirectURL:  providerCfg.RedirectURL,
			Scopes:       providerCfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  providerCfg.AuthURL,
				TokenURL: providerCfg.TokenURL,
			},
		}
	}

	mailer := cfg.Mailer
	if mailer == nil {
		mailer = logMailer{}
	}

	access := cfg.AccessControl
	if access == nil {
		access = DefaultAccessControl()
	}

	basePath := strings.TrimSuffix(cfg.BasePath, "/")
	if basePath == "" {
		basePath = "/api/auth"
	}

	return &AuthService{
		storage:        cfg.Storage,
		oauthConfigs:   oauthConfigs,
		oauthProviders: cfg.OAuthProviders,
		securityConfig: securityConfig,
		validator:      validator.New(),
		mailer:         mailer,
		access:         access,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		basePath:       basePath,
	}, nil
}

// Storage returns the storage the service was configured with.
func (a *AuthService) Storage() Storage {
	return a.storage
}

// AccessControl returns the role table used for capability checks.
func (a *AuthService) AccessControl() *AccessControl {
	return a.access
}

// BaseURL returns the public origin links are built from.
func (a *AuthService) BaseURL() string {
	return a.baseURL
}

// BasePath returns the path the auth routes are mounted under.
func (a *AuthService) BasePath() string {
	return a.basePath
}

// SecurityConfig returns the effective security configuration.
func (a *AuthService) SecurityConfig() SecurityConfig {
	return a.securityConfig
}

// logSecurityEvent logs a security event to the database
func (a *AuthService) logSecurityEvent(userID *string, eventType, description, ipAddress, userAgent string, success bool) {
	event := &SecurityEvent{
		UserID:      userID,
		EventType:   eventType,
		Description: description,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Severity:    "info",
		Success:     success,
	}

	if !success {
		event.Severity = "warning"
	}

	if err := a.storage.CreateSecurityEvent(event); err != nil {
		slog.Error("Failed to log security event",
			"event_type", eventType,
			"user_id", userID,
			"error", err)
	}
}

// Close closes the auth service and cleans up resources
func (a *AuthService) Close() error {
	return a.storage.Close()
}
