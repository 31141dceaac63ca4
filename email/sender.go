package email

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/wispberry-tech/wispy-portal/core"
)

// Subjects of the portal's emails.
const (
	SubjectWelcome                = "Welcome to our platform!"
	SubjectVerification           = "Verify your email address"
	SubjectPasswordReset          = "Reset your password"
	SubjectDeleteAccount          = "Delete your account"
	SubjectOrganizationInvitation = "You have been invited to join an organization"
)

// Sender renders and delivers the portal's emails. It implements core.Mailer.
type Sender struct {
	provider  Provider
	from      string
	templates *TemplateEngine
}

var _ core.Mailer = (*Sender)(nil)

// NewSender creates a Sender sending from the given address.
func NewSender(provider Provider, from, appName string) (*Sender, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrProviderConfig)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrProviderConfig)
	}
	templates, err := NewTemplateEngine(appName)
	if err != nil {
		return nil, err
	}
	return &Sender{provider: provider, from: from, templates: templates}, nil
}

// Send renders the template with data and delivers it to to.
func (s *Sender) Send(ctx context.Context, to, subject string, name TemplateName, data map[string]string) error {
	html, err := s.templates.Render(name, data)
	if err != nil {
		slog.Error("Failed to render email", "template", name, "error", err)
		return err
	}

	message := &Message{From: s.from, To: to, Subject: subject, HTML: html}
	if err := s.provider.Send(ctx, message); err != nil {
		slog.Error("Failed to send email", "template", name, "to", to, "provider", s.provider.Name(), "error", err)
		return err
	}

	slog.Info("Email sent", "template", name, "to", to, "provider", s.provider.Name())
	return nil
}

func (s *Sender) SendWelcome(ctx context.Context, to, name string) error {
	return s.Send(ctx, to, SubjectWelcome, TemplateWelcome, map[string]string{
		"name": cmp.Or(name, "there"),
	})
}

func (s *Sender) SendVerification(ctx context.Context, to, name, link string) error {
	return s.Send(ctx, to, SubjectVerification, TemplateVerification, map[string]string{
		"name":             cmp.Or(name, "User"),
		"verificationLink": link,
	})
}

func (s *Sender) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return s.Send(ctx, to, SubjectPasswordReset, TemplatePasswordReset, map[string]string{
		"name":     cmp.Or(name, "User"),
		"resetUrl": link,
	})
}

func (s *Sender) SendDeleteAccount(ctx context.Context, to, name, link string) error {
	return s.Send(ctx, to, SubjectDeleteAccount, TemplateDeleteAccount, map[string]string{
		"name":       cmp.Or(name, "User"),
		"deleteLink": link,
	})
}

func (s *Sender) SendOrganizationInvitation(ctx context.Context, inv core.InvitationEmail) error {
	return s.Send(ctx, inv.To, SubjectOrganizationInvitation, TemplateOrganizationInvitation, map[string]string{
		"email":        inv.To,
		"organization": inv.OrganizationName,
		"inviter":      cmp.Or(inv.InviterName, "A teammate"),
		"invitation":   inv.InvitationID,
		"inviteLink":   inv.InviteLink,
	})
}
