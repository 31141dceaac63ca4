package email

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunProvider sends through the Mailgun API.
type MailgunProvider struct {
	mg *mailgun.MailgunImpl
}

// NewMailgunProvider creates a Mailgun provider. BaseURL selects another
// region, e.g. https://api.eu.mailgun.net.
func NewMailgunProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("%w: api key and domain are required for Mailgun provider", ErrProviderConfig)
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.BaseURL != "" {
		mg.SetAPIBase(cfg.BaseURL)
	}
	return &MailgunProvider{mg: mg}, nil
}

func (m *MailgunProvider) Name() string {
	return "mailgun"
}

func (m *MailgunProvider) Send(ctx context.Context, message *Message) error {
	msg := m.mg.NewMessage(message.From, message.Subject, "", message.To)
	msg.SetHtml(message.HTML)

	if _, _, err := m.mg.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}
	return nil
}
