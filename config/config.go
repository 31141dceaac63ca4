// Package config loads the portal's settings from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrInvalidDriver is returned when PORTAL_DATABASE_DRIVER names an unknown store.
	ErrInvalidDriver = errors.New("config: unknown database driver")
	// ErrMissingSetting is returned when a selected provider lacks a required key.
	ErrMissingSetting = errors.New("config: missing required setting")
)

// Config holds every environment-derived setting.
type Config struct {
	Addr    string `env:"PORTAL_ADDR" envDefault:":8080"`
	BaseURL string `env:"PORTAL_BASE_URL" envDefault:"http://localhost:8080"`
	AppName string `env:"PORTAL_APP_NAME" envDefault:"Wispy Portal"`

	Database Database
	GitHub   GitHub
	Stripe   Stripe
	Mail     Mail
	Gateway  Gateway

	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`
	RequireEmailVerification bool   `env:"REQUIRE_EMAIL_VERIFICATION" envDefault:"true"`
	// SecureCookies is turned off automatically for plain http base URLs.
	SecureCookies *bool `env:"PORTAL_SECURE_COOKIES"`
}

// Database selects the store.
type Database struct {
	Driver string `env:"PORTAL_DATABASE_DRIVER" envDefault:"memory"`
	DSN    string `env:"PORTAL_DATABASE_DSN" envDefault:"portal.db"`
}

// GitHub holds the OAuth application credentials. Social sign-in is off
// when ClientID is empty.
type GitHub struct {
	ClientID     string `env:"GITHUB_CLIENT_ID"`
	ClientSecret string `env:"GITHUB_CLIENT_SECRET"`
}

// Enabled reports whether GitHub sign-in is configured.
func (g GitHub) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// Stripe holds the payment settings. Billing is off when SecretKey is empty.
type Stripe struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
	// WebhookSecret is read for deployments that verify webhooks upstream.
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceBasic    string `env:"STRIPE_PRICE_BASIC"`
	PricePro      string `env:"STRIPE_PRICE_PRO"`
}

// Enabled reports whether billing is configured.
func (s Stripe) Enabled() bool {
	return s.SecretKey != ""
}

// Mail selects and configures the outbound mail transport.
type Mail struct {
	Provider string `env:"MAIL_PROVIDER" envDefault:"smtp"`
	From     string `env:"MAIL_FROM" envDefault:"Wispy Portal <noreply@localhost>"`

	SMTPHost string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`

	ResendAPIKey   string `env:"RESEND_API_KEY"`
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	MailgunAPIKey  string `env:"MAILGUN_API_KEY"`
	MailgunDomain  string `env:"MAILGUN_DOMAIN"`
}

// APIKey returns the key of the selected HTTP provider.
func (m Mail) APIKey() string {
	switch m.Provider {
	case "resend":
		return m.ResendAPIKey
	case "sendgrid":
		return m.SendGridAPIKey
	case "mailgun":
		return m.MailgunAPIKey
	}
	return ""
}

// Gateway configures request protection in front of /api/auth.
type Gateway struct {
	// ProtectionURL selects the remote protection service; empty keeps
	// protection in process.
	ProtectionURL string `env:"PROTECTION_URL"`
	ProtectionKey string `env:"PROTECTION_KEY"`
	// RedisURL shares rate-limit counters between instances.
	RedisURL string `env:"REDIS_URL"`
	// AllowedAgents are User-Agent substrings exempt from bot detection.
	AllowedAgents []string `env:"PROTECTION_ALLOWED_AGENTS" envSeparator:","`
	// TrustProxy takes the client address from forwarding headers. Enable it
	// only behind a reverse proxy that overwrites them.
	TrustProxy bool `env:"PORTAL_TRUST_PROXY" envDefault:"false"`
}

// Load reads .env (if any) and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.Mail.Provider = strings.ToLower(cfg.Mail.Provider)
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the keys each selected provider needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: PORTAL_DATABASE_DSN", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Database.Driver)
	}

	switch c.Mail.Provider {
	case "smtp", "log":
	case "resend", "sendgrid":
		if c.Mail.APIKey() == "" {
			return fmt.Errorf("%w: %s_API_KEY", ErrMissingSetting, strings.ToUpper(c.Mail.Provider))
		}
	case "mailgun":
		if c.Mail.MailgunAPIKey == "" || c.Mail.MailgunDomain == "" {
			return fmt.Errorf("%w: MAILGUN_API_KEY and MAILGUN_DOMAIN", ErrMissingSetting)
		}
	}

	if c.Stripe.Enabled() && (c.Stripe.PriceBasic == "" || c.Stripe.PricePro == "") {
		return fmt.Errorf("%w: STRIPE_PRICE_BASIC and STRIPE_PRICE_PRO", ErrMissingSetting)
	}
	if (c.GitHub.ClientID == "") != (c.GitHub.ClientSecret == "") {
		return fmt.Errorf("%w: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET go together", ErrMissingSetting)
	}
	if c.Gateway.ProtectionURL != "" && c.Gateway.ProtectionKey == "" {
		return fmt.Errorf("%w: PROTECTION_KEY", ErrMissingSetting)
	}
	return nil
}

// UseSecureCookies reports whether session cookies carry the Secure flag.
func (c *Config) UseSecureCookies() bool {
	if c.SecureCookies != nil {
		return *c.SecureCookies
	}
	return strings.HasPrefix(c.BaseURL, "https://")
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
