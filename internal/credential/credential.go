package credential

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/ryosukesatoh/news-digest/internal/config"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

var (
	// ErrNotFound is returned when no credential has been persisted.
	ErrNotFound = errors.New("credential: not found")
	// ErrStoreCorrupt is returned when the persisted record cannot be decoded.
	ErrStoreCorrupt = errors.New("credential: store corrupt")
	// ErrReauthRequired is returned when the refresh token was rejected or
	// could not be exchanged, and a new interactive grant is needed.
	ErrReauthRequired = errors.New("credential: re-authorization required")
	// ErrAuthorizationFailed is returned when the interactive grant fails.
	ErrAuthorizationFailed = errors.New("credential: authorization failed")
)

// expirySkew treats tokens as expired slightly early so they do not lapse
// between the check and the API call.
const expirySkew = 10 * time.Second

// Credential is the persisted OAuth token. A zero Expiry means the access
// token does not expire.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token is unusable at now.
func (c *Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(c.Expiry)
}

// Token converts the credential for use with an oauth2 token source.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

func fromToken(t *oauth2.Token) *Credential {
	return &Credential{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// ErrUnsupportedBackend is returned when an unsupported credential backend is specified
var ErrUnsupportedBackend = errors.New("credential: unsupported backend")

// OpenPersister opens the configured backend, sealed when an encryption key is set.
func OpenPersister(cfg config.CredentialConfig) (Persister, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}

	var p Persister
	switch cfg.Backend {
	case "file":
		p = NewFilePersister(cfg.Path)
	case "sqlite":
		sp, err := OpenSQLitePersister(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("credential: %w", err)
		}
		p = sp
	default:
		return nil, ErrUnsupportedBackend
	}
	if key != nil {
		p = NewSealedPersister(p, key)
	}
	return p, nil
}

// Open builds the Store used by the pipeline: configured persistence, token
// refresh against the client secrets' endpoint, and the browser consent flow.
func Open(cfg *config.Config) (*Store, error) {
	oauthCfg, err := LoadOAuthConfig(cfg.Credential.ClientSecrets)
	if err != nil {
		return nil, err
	}
	p, err := OpenPersister(cfg.Credential)
	if err != nil {
		return nil, err
	}

	rc := retry.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay}
	return NewStore(
		p,
		NewOAuthRefresher(oauthCfg, rc, cfg.Credential.Timeout),
		NewLocalServerAuthorizer(oauthCfg, cfg.Credential.CallbackPort, cfg.Credential.Timeout),
	), nil
}
