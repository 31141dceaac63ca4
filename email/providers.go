// Package email renders the portal's transactional emails and dispatches
// them through a pluggable provider.
package email

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Message is a rendered email ready to send.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Provider delivers messages.
type Provider interface {
	// Name returns the name of the provider
	Name() string

	// Send delivers a message
	Send(ctx context.Context, message *Message) error
}

// ProviderConfig holds the settings of every provider; each reads its own.
type ProviderConfig struct {
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string

	APIKey string
	// Domain is the Mailgun sending domain.
	Domain string
	// BaseURL overrides the provider API endpoint.
	BaseURL string
	Timeout time.Duration
}

// ProviderFactory creates a provider from configuration.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// Registry of available email providers
var providers = map[string]ProviderFactory{
	"smtp":     NewSMTPProvider,
	"resend":   NewResendProvider,
	"sendgrid": NewSendGridProvider,
	"mailgun":  NewMailgunProvider,
	"log":      NewLogProvider,
}

// RegisterProvider registers a new email provider
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider creates a new instance of the named provider
func GetProvider(name string, cfg ProviderConfig) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return factory(cfg)
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LogProvider logs messages instead of sending them.
type LogProvider struct{}

func NewLogProvider(ProviderConfig) (Provider, error) {
	return LogProvider{}, nil
}

func (LogProvider) Name() string { return "log" }

func (LogProvider) Send(_ context.Context, message *Message) error {
	slog.Info("Email not delivered, log provider", "to", message.To, "subject", message.Subject)
	return nil
}
