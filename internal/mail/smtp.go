package mail

import (
	"bytes"
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig describes the relay used for outgoing mail.
type SMTPConfig struct {
	Server  string
	Port    int
	Timeout time.Duration
}

// SMTPMailer sends messages through an unauthenticated internal relay,
// upgrading to TLS when the relay offers it.
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer validates config and returns a mailer.
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if config.Server == "" {
		return nil, fmt.Errorf("SMTP_SERVER must be set")
	}
	if config.Port <= 0 {
		config.Port = 25
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &SMTPMailer{config: config}, nil
}

// Send builds a MIME message from msg and delivers it in one SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out, err := buildMsg(msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(m.config.Server,
		gomail.WithPort(m.config.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(m.config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("create smtp client for %s: %w", m.config.Server, err)
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.config.Server, m.config.Port, err)
	}
	return nil
}

func buildMsg(msg Message) (*gomail.Msg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	out := gomail.NewMsg()
	if err := out.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)
	for _, a := range msg.Attachments {
		if err := out.AttachReader(a.FileName, bytes.NewReader(a.Data)); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.FileName, err)
		}
	}
	return out, nil
}
