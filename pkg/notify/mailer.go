// Package notify sends run reports to subscribers and failure alerts to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Mailer delivers one plain-text message.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

var ErrNoRecipients = errors.New("no recipients")

// SMTPConfig holds the submission server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether enough settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port > 0 && c.From != ""
}

// SMTPMailer submits mail with net/smtp. STARTTLS is used when the server
// offers it; PLAIN auth is used when a username is set.
type SMTPMailer struct {
	config SMTPConfig
	now    func() time.Time
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: cfg, now: time.Now, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}
	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	msg := buildMessage(m.config.From, recipients, subject, body, m.now())

	if err := m.send(addr, auth, m.config.From, recipients, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", strings.Join(recipients, ", "), err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogMailer logs messages instead of sending them. Used when SMTP is not configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail not sent (dry run)",
		"to", strings.Join(recipients, ", "), "subject", subject, "body_length", len(body))
	logger.DebugContext(ctx, "mail body", "body", body)
	return nil
}
