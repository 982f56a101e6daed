package mail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDataWriter struct {
	strings.Builder
	closed bool
}

func (w *fakeDataWriter) Close() error {
	w.closed = true
	return nil
}

type fakeSession struct {
	authed  bool
	from    string
	rcpts   []string
	payload fakeDataWriter
	quit    bool
	closed  bool
}

func (f *fakeSession) Auth(smtp.Auth) error { f.authed = true; return nil }
func (f *fakeSession) Mail(from string) error {
	f.from = from
	return nil
}
func (f *fakeSession) Rcpt(to string) error {
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSession) Data() (interface {
	Write([]byte) (int, error)
	Close() error
}, error) {
	return &f.payload, nil
}
func (f *fakeSession) Quit() error  { f.quit = true; return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func newTestMailer(fs *fakeSession, settings SMTPSettings) *smtpMailer {
	return &smtpMailer{
		settings: settings,
		connect: func(context.Context, SMTPSettings) (session, error) {
			return fs, nil
		},
	}
}

func TestSendDisabledReturnsSentinel(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestNewSMTPMailerValidatesWhenEnabled(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true, Port: 587})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)
}

func TestSendDrivesProtocolSequence(t *testing.T) {
	fs := &fakeSession{}
	mailer := newTestMailer(fs, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@promogate.test",
	})

	err := mailer.Send(context.Background(), Message{
		To:      []string{"one@example.com", "one@example.com", " two@example.com "},
		Subject: "Invitation\r\nX-Injected: nope",
		Body:    "You have been invited.",
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@promogate.test", fs.from)
	require.Equal(t, []string{"one@example.com", "two@example.com"}, fs.rcpts)
	require.True(t, fs.payload.closed)
	require.True(t, fs.quit)
	// No credentials configured means no AUTH exchange.
	require.False(t, fs.authed)

	payload := fs.payload.String()
	require.Contains(t, payload, "Subject: Invitation X-Injected: nope\r\n")
	require.Contains(t, payload, "To: one@example.com, two@example.com\r\n")
	require.Contains(t, payload, "\r\n\r\nYou have been invited.")
	require.NotContains(t, payload, "\nX-Injected:")
}

func TestSendAuthenticatesWhenCredentialsSet(t *testing.T) {
	fs := &fakeSession{}
	mailer := newTestMailer(fs, SMTPSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		From:     "no-reply@promogate.test",
		Username: "mailer",
		Password: "secret",
	})

	require.NoError(t, mailer.Send(context.Background(), Message{
		To:   []string{"one@example.com"},
		Body: "hello",
	}))
	require.True(t, fs.authed)
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	fs := &fakeSession{}
	mailer := newTestMailer(fs, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@promogate.test",
	})

	err := mailer.Send(context.Background(), Message{To: []string{"not-an-address"}})
	require.Error(t, err)
	require.Empty(t, fs.rcpts)

	err = mailer.Send(context.Background(), Message{To: nil})
	require.Error(t, err)
}
