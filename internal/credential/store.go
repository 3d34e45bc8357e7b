package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Persister is the durable storage behind a Store. Read returns ErrNotFound
// when nothing is stored. Write must replace the record atomically.
type Persister interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Remove() error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// Authorizer runs the interactive consent flow.
type Authorizer interface {
	Authorize(ctx context.Context) (*Credential, error)
}

// Store owns the persisted credential. All reads and writes go through one
// mutex, so at most one refresh or grant is in flight.
type Store struct {
	mu         sync.Mutex
	persister  Persister
	refresher  Refresher
	authorizer Authorizer
	now        func() time.Time
}

func NewStore(p Persister, r Refresher, a Authorizer) *Store {
	return &Store{
		persister:  p,
		refresher:  r,
		authorizer: a,
		now:        time.Now,
	}
}

// Load returns the persisted credential without validating it.
func (s *Store) Load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// EnsureValid returns cred if it is usable, refreshes it if it has expired,
// or runs the interactive grant when cred is nil.
func (s *Store) EnsureValid(ctx context.Context, cred *Credential) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureValid(ctx, cred)
}

// Current loads and validates the stored credential in one step. A corrupt
// record is treated as absent.
func (s *Store) Current(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.load()
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		cred = nil
	case errors.Is(err, ErrStoreCorrupt):
		log.Printf("WARNING: discarding stored credential: %v", err)
		cred = nil
	default:
		return nil, err
	}
	return s.ensureValid(ctx, cred)
}

// Invalidate deletes the persisted credential. Removing a missing record is not an error.
func (s *Store) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persister.Remove(); err != nil {
		return fmt.Errorf("credential: failed to remove: %w", err)
	}
	log.Printf("Stored credential invalidated")
	return nil
}

// Close releases the persister if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.persister.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) load() (*Credential, error) {
	data, err := s.persister.Read()
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrStoreCorrupt)
	}
	return &cred, nil
}

func (s *Store) ensureValid(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil {
		return s.authorize(ctx)
	}
	if !cred.Expired(s.now()) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		log.Printf("Credential expired and has no refresh token, starting authorization")
		return s.authorize(ctx)
	}
	if s.refresher == nil {
		return nil, fmt.Errorf("%w: no refresher configured", ErrReauthRequired)
	}

	refreshed, err := s.refresher.Refresh(ctx, cred)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := s.persist(refreshed); err != nil {
		return nil, err
	}
	log.Printf("Credential refreshed, valid until %s", refreshed.Expiry.Format(time.RFC3339))
	return refreshed, nil
}

func (s *Store) authorize(ctx context.Context) (*Credential, error) {
	if s.authorizer == nil {
		return nil, fmt.Errorf("%w: no authorizer configured", ErrAuthorizationFailed)
	}
	cred, err := s.authorizer.Authorize(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthorizationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthorizationFailed, err)
	}
	if err := s.persist(cred); err != nil {
		return nil, err
	}
	log.Printf("Credential authorized and stored")
	return cred, nil
}

func (s *Store) persist(cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("credential: failed to encode: %w", err)
	}
	if err := s.persister.Write(data); err != nil {
		return fmt.Errorf("credential: failed to persist: %w", err)
	}
	return nil
}
