// Package mail delivers transactional email over SMTP. Delivery can be
// disabled entirely through configuration, in which case Send returns
// ErrSMTPDisabled and callers decide whether that is fatal.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

const defaultSendTimeout = 10 * time.Second

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

// session is the slice of *smtp.Client the mailer drives. Tests substitute
// the connect hook to exercise the protocol sequence without a server.
type session interface {
	Auth(smtp.Auth) error
	Mail(string) error
	Rcpt(string) error
	Data() (interface {
		Write([]byte) (int, error)
		Close() error
	}, error)
	Quit() error
	Close() error
}

type connectFunc func(ctx context.Context, settings SMTPSettings) (session, error)

type smtpMailer struct {
	settings SMTPSettings
	connect  connectFunc
}

// NewSMTPMailer builds a Mailer backed by a plain SMTP client. A disabled
// configuration is valid and yields a mailer whose Send reports
// ErrSMTPDisabled.
func NewSMTPMailer(settings SMTPSettings) (Mailer, error) {
	if settings.Enabled {
		if strings.TrimSpace(settings.Host) == "" {
			return nil, errors.New("smtp: host is required when enabled")
		}
		if settings.Port == 0 {
			return nil, errors.New("smtp: port is required when enabled")
		}
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultSendTimeout
	}
	return &smtpMailer{settings: settings, connect: dialSMTP}, nil
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.settings.Enabled {
		return ErrSMTPDisabled
	}

	sender, recipients, err := m.resolveAddresses(msg)
	if err != nil {
		return err
	}

	client, err := m.connect(ctx, m.settings)
	if err != nil {
		return err
	}
	defer client.Close()

	if strings.TrimSpace(m.settings.Username) != "" {
		auth := smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := client.Mail(sender); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	if _, err := writer.Write([]byte(renderMessage(sender, recipients, msg))); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}

	return client.Quit()
}

// resolveAddresses settles the sender, dedupes recipients and validates every
// address up front so a malformed one cannot abort a half-sent transaction.
func (m *smtpMailer) resolveAddresses(msg Message) (string, []string, error) {
	sender := strings.TrimSpace(msg.From)
	if sender == "" {
		sender = m.settings.From
	}
	if sender == "" {
		return "", nil, errors.New("smtp: sender address is required")
	}
	if _, err := mail.ParseAddress(sender); err != nil {
		return "", nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}

	seen := make(map[string]struct{}, len(msg.To))
	recipients := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return "", nil, fmt.Errorf("smtp: invalid recipient address %q: %w", addr, err)
		}
		seen[addr] = struct{}{}
		recipients = append(recipients, addr)
	}
	if len(recipients) == 0 {
		return "", nil, errors.New("smtp: at least one recipient is required")
	}

	return sender, recipients, nil
}

// dialSMTP opens the TCP (or TLS) connection and upgrades plain connections
// with STARTTLS when the server offers it.
func dialSMTP(ctx context.Context, settings SMTPSettings) (session, error) {
	address := net.JoinHostPort(settings.Host, fmt.Sprintf("%d", settings.Port))
	dialer := &net.Dialer{Timeout: settings.Timeout}

	var (
		conn net.Conn
		err  error
	)
	switch {
	case settings.UseTLS:
		conn, err = tls.DialWithDialer(dialer, "tcp", address, &tls.Config{ServerName: settings.Host})
	case ctx != nil:
		conn, err = dialer.DialContext(ctx, "tcp", address)
	default:
		conn, err = dialer.Dial("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", address, err)
	}

	client, err := smtp.NewClient(conn, settings.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp: new client: %w", err)
	}

	if !settings.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: settings.Host}); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}

	return &smtpSession{client: client}, nil
}

// smtpSession adapts *smtp.Client to the session interface.
type smtpSession struct {
	client *smtp.Client
}

func (s *smtpSession) Auth(a smtp.Auth) error { return s.client.Auth(a) }
func (s *smtpSession) Mail(from string) error { return s.client.Mail(from) }
func (s *smtpSession) Rcpt(to string) error   { return s.client.Rcpt(to) }
func (s *smtpSession) Quit() error            { return s.client.Quit() }
func (s *smtpSession) Close() error           { return s.client.Close() }

func (s *smtpSession) Data() (interface {
	Write([]byte) (int, error)
	Close() error
}, error) {
	return s.client.Data()
}

// renderMessage assembles the RFC 5322 payload. Header values are folded onto
// a single line so injected newlines cannot smuggle extra headers.
func renderMessage(sender string, recipients []string, msg Message) string {
	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(flattenHeader(value))
		b.WriteString("\r\n")
	}

	writeHeader("From", sender)
	writeHeader("To", strings.Join(recipients, ", "))
	writeHeader("Subject", msg.Subject)
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

func flattenHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
