package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

// GmailTransport sends through users.messages.send for the authorized user.
// A new service is built per call so it always carries the latest token.
type GmailTransport struct {
	endpoint string
	base     *http.Client
	timeout  time.Duration
}

func NewGmailTransport(timeout time.Duration) *GmailTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GmailTransport{timeout: timeout}
}

func (t *GmailTransport) Send(ctx context.Context, cred *credential.Credential, raw []byte) (string, error) {
	if cred == nil {
		return "", fmt.Errorf("%w: gmail: no credential", ErrAuthRejected)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	clientCtx := callCtx
	if t.base != nil {
		clientCtx = context.WithValue(callCtx, oauth2.HTTPClient, t.base)
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(cred.Token()))),
	}
	if t.endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.endpoint))
	}

	svc, err := gmail.NewService(callCtx, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: gmail: creating service: %w", ErrDeliveryFailed, err)
	}

	msg, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(callCtx).Do()
	if err != nil {
		return "", classifySend(ctx, err)
	}
	if msg.Id == "" {
		return "", fmt.Errorf("%w: gmail: response without message id", ErrDeliveryFailed)
	}
	return msg.Id, nil
}

func classifySend(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: gmail: %w", ErrAuthRejected, err)
		case retry.HTTPStatusRetryable(apiErr.Code):
			// Not accepted by the provider, so another attempt cannot duplicate it.
			return retry.Transient(fmt.Errorf("%w: gmail: %w", ErrDeliveryFailed, err))
		default:
			return fmt.Errorf("%w: gmail: %w", ErrDeliveryFailed, err)
		}
	}
	return retry.Transient(fmt.Errorf("%w: gmail: %w", ErrDeliveryFailed, err))
}
