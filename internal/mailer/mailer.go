package mailer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ryosukesatoh/news-digest/internal/config"
	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/digest"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

var (
	ErrRecipientListEmpty = errors.New("mailer: recipient list is empty")
	ErrInvalidRecipient   = errors.New("mailer: invalid recipient")
	// ErrAuthRejected means the provider refused the access token.
	ErrAuthRejected = errors.New("mailer: credential rejected")
	// ErrDeliveryFailed covers every other rejection of the message.
	ErrDeliveryFailed = errors.New("mailer: delivery failed")

	ErrUnsupportedMailerType = errors.New("unsupported mailer type")
)

// CredentialSource hands out a usable credential, refreshing or granting as needed.
type CredentialSource interface {
	Current(ctx context.Context) (*credential.Credential, error)
}

// Transport submits one raw RFC 5322 message and returns the provider's id.
type Transport interface {
	Send(ctx context.Context, cred *credential.Credential, raw []byte) (string, error)
}

type Mailer struct {
	creds     CredentialSource
	transport Transport
	from      string
	retry     retry.Config
}

// NewMailer returns a Mailer. creds may be nil for transports that need no
// credential.
func NewMailer(creds CredentialSource, transport Transport, from string, rc retry.Config) *Mailer {
	return &Mailer{
		creds:     creds,
		transport: transport,
		from:      from,
		retry:     rc,
	}
}

// New creates a mailer based on the configuration
func New(cfg *config.Config, creds CredentialSource) (*Mailer, error) {
	rc := retry.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay}
	switch cfg.Mailer.Type {
	case "gmail":
		return NewMailer(creds, NewGmailTransport(cfg.Mailer.Timeout), cfg.Mailer.From, rc), nil
	case "stdout":
		return NewMailer(nil, NewStdoutTransport(), cfg.Mailer.From, rc), nil
	default:
		return nil, ErrUnsupportedMailerType
	}
}

// Send delivers d to recipients as one message. The credential is fetched
// fresh on every call.
func (m *Mailer) Send(ctx context.Context, d *digest.Digest, recipients []string) (string, error) {
	to, err := NormalizeRecipients(recipients)
	if err != nil {
		return "", err
	}

	raw, err := BuildMessage(m.from, to, d.Subject, d.Body)
	if err != nil {
		return "", err
	}

	var cred *credential.Credential
	if m.creds != nil {
		cred, err = m.creds.Current(ctx)
		if err != nil {
			return "", err
		}
	}

	var id string
	err = retry.WithBackoff(ctx, m.retry, func(ctx context.Context) error {
		var sendErr error
		id, sendErr = m.transport.Send(ctx, cred, raw)
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("mailer: %w", err)
	}

	log.Printf("Digest sent to %d recipient(s), message id %s", len(to), id)
	return id, nil
}
