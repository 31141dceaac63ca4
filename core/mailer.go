package core

import (
	"context"
	"log/slog"
)

// InvitationEmail carries what the invitation message needs.
type InvitationEmail struct {
	To               string
	OrganizationName string
	InviterName      string
	InvitationID     string
	InviteLink       string
}

// Mailer sends the transactional emails raised by the auth flows.
type Mailer interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendVerification(ctx context.Context, to, name, link string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
	SendDeleteAccount(ctx context.Context, to, name, link string) error
	SendOrganizationInvitation(ctx context.Context, inv InvitationEmail) error
}

// logMailer is used when no Mailer is configured.
type logMailer struct{}

func (logMailer) SendWelcome(_ context.Context, to, _ string) error {
	slog.Info("Welcome email not sent, no mailer configured", "to", to)
	return nil
}

func (logMailer) SendVerification(_ context.Context, to, _, link string) error {
	slog.Info("Verification email not sent, no mailer configured", "to", to, "link", link)
	return nil
}

func (logMailer) SendPasswordReset(_ context.Context, to, _, link string) error {
	slog.Info("Password reset email not sent, no mailer configured", "to", to, "link", link)
	return nil
}

func (logMailer) SendDeleteAccount(_ context.Context, to, _, link string) error {
	slog.Info("Delete account email not sent, no mailer configured", "to", to, "link", link)
	return nil
}

func (logMailer) SendOrganizationInvitation(_ context.Context, inv InvitationEmail) error {
	slog.Info("Invitation email not sent, no mailer configured", "to", inv.To, "link", inv.InviteLink)
	return nil
}
