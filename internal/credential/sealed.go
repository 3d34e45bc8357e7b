package credential

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// SealedPersister encrypts records with NaCl secretbox before handing them to
// the wrapped persister.
type SealedPersister struct {
	inner Persister
	key   *[32]byte
}

func NewSealedPersister(inner Persister, key *[32]byte) *SealedPersister {
	return &SealedPersister{inner: inner, key: key}
}

func (p *SealedPersister) Read() ([]byte, error) {
	sealed, err := p.inner.Read()
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed record too short", ErrStoreCorrupt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	data, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, p.key)
	if !ok {
		return nil, fmt.Errorf("%w: cannot open sealed record", ErrStoreCorrupt)
	}
	return data, nil
}

func (p *SealedPersister) Write(data []byte) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	return p.inner.Write(secretbox.Seal(nonce[:], data, &nonce, p.key))
}

func (p *SealedPersister) Remove() error {
	return p.inner.Remove()
}

func (p *SealedPersister) Close() error {
	if c, ok := p.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
