package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"github.com/ryosukesatoh/news-digest/internal/retry"
)

// LoadOAuthConfig reads an installed-app client secrets file and scopes it to
// sending mail.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to read client secrets %s: %w", path, err)
	}
	cfg, err := google.ConfigFromJSON(data, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to parse client secrets %s: %w", path, err)
	}
	return cfg, nil
}

// OAuthRefresher performs the refresh_token grant against the provider's
// token endpoint.
type OAuthRefresher struct {
	config  *oauth2.Config
	retry   retry.Config
	timeout time.Duration
}

// DefaultTokenTimeout bounds a single request to the token endpoint when no
// timeout is configured.
const DefaultTokenTimeout = 30 * time.Second

// NewOAuthRefresher returns a refresher whose token requests each give up
// after timeout.
func NewOAuthRefresher(cfg *oauth2.Config, rc retry.Config, timeout time.Duration) *OAuthRefresher {
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &OAuthRefresher{config: cfg, retry: rc, timeout: timeout}
}

// Refresh makes one refresh exchange, retrying only transient failures.
// A rejected refresh token, or retries running out, yields ErrReauthRequired.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	var tok *oauth2.Token
	err := retry.WithBackoff(ctx, r.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		// An empty access token forces the source to hit the token endpoint.
		src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
		t, err := src.Token()
		if err != nil {
			return classifyRefresh(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: refresh: %w", ErrReauthRequired, err)
	}

	refreshed := fromToken(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}

func classifyRefresh(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && retry.HTTPStatusRetryable(re.Response.StatusCode) {
			return retry.Transient(err)
		}
		return err
	}
	// No answer from the token endpoint, including a timed out attempt.
	return retry.Transient(err)
}
