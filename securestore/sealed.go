package securestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Sealed encrypts every value with NaCl secretbox before handing it to the underlying
// store. Stored values are base64(nonce || box). Keys are stored in the clear.
type Sealed struct {
	inner Store
	key   [32]byte
}

func NewSealed(inner Store, key [32]byte) *Sealed {
	return &Sealed{inner: inner, key: key}
}

// KeyFromPassphrase derives a sealing key with Argon2id. The salt must be stable for the
// lifetime of the stored data.
func KeyFromPassphrase(passphrase, salt string) [32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, 32))
	return key
}

func (s *Sealed) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", false, errors.Wrapf(ErrSealedValue, "%s", key)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	msg, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", false, errors.Wrapf(ErrSealedValue, "%s", key)
	}
	return string(msg), true, nil
}

func (s *Sealed) Set(ctx context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return errors.Wrap(err, "[Sealed.Set] generate nonce")
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(box))
}

func (s *Sealed) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}
