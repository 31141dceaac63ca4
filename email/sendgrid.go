package email

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridProvider sends through the SendGrid v3 API.
type SendGridProvider struct {
	client *sendgrid.Client
}

// NewSendGridProvider creates a SendGrid provider.
func NewSendGridProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required for SendGrid provider", ErrProviderConfig)
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL + "/v3/mail/send"
	}
	return &SendGridProvider{client: client}, nil
}

func (s *SendGridProvider) Name() string {
	return "sendgrid"
}

func (s *SendGridProvider) Send(ctx context.Context, message *Message) error {
	from := sgmail.NewEmail("", message.From)
	if addr, err := mail.ParseAddress(message.From); err == nil {
		from = sgmail.NewEmail(addr.Name, addr.Address)
	}
	to := sgmail.NewEmail("", message.To)
	m := sgmail.NewSingleEmail(from, message.Subject, to, "", message.HTML)

	response, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("%w: SendGrid API error (%d): %s", ErrEmailSendFailed, response.StatusCode, response.Body)
	}
	return nil
}
