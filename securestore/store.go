package securestore

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
)

var (
	ErrInvalidKey  = errors.New("securestore: key must be non-empty and use only letters, digits, '.', '_' or '-'")
	ErrSealedValue = errors.New("securestore: sealed value cannot be opened")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// Store is a string key/value store for credentials. A key that is not present is reported
// with ok=false and no error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ValidateKey rejects keys the platform keychains cannot hold.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}
