package email

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPProvider sends through an SMTP relay with PLAIN auth.
type SMTPProvider struct {
	addr string
	auth smtp.Auth
	// sendMail is smtp.SendMail, replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPProvider creates an SMTP provider. Auth is skipped when no user is set.
func NewSMTPProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == "" {
		return nil, fmt.Errorf("%w: smtp host and port are required", ErrProviderConfig)
	}
	p := &SMTPProvider{
		addr:     net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort),
		sendMail: smtp.SendMail,
	}
	if cfg.SMTPUser != "" {
		p.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return p, nil
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

func (p *SMTPProvider) Send(ctx context.Context, message *Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}
	from := message.From
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	if err := p.sendMail(p.addr, p.auth, from, []string{message.To}, buildMIME(message)); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}
	return nil
}

// buildMIME renders an HTML message with headers.
func buildMIME(message *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", message.From)
	fmt.Fprintf(&b, "To: %s\r\n", message.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", message.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(message.HTML)
	return []byte(b.String())
}
