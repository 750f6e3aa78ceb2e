package securestore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	for _, ok := range []string{"session.ownerPublicKey", "app.theme", "a_b-c.1"} {
		require.NoError(t, securestore.ValidateKey(ok), ok)
	}
	for _, bad := range []string{"", "with space", "slash/key", "colon:key"} {
		require.True(t, errors.Is(securestore.ValidateKey(bad), securestore.ErrInvalidKey), bad)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := securestore.NewMemory()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v"))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.NoError(t, m.Remove(ctx, "k"))
	require.NoError(t, m.Remove(ctx, "k"))
	require.Equal(t, 0, m.Len())

	require.Error(t, m.Set(ctx, "bad key", "v"))
}

func TestSealed(t *testing.T) {
	ctx := context.Background()
	inner := securestore.NewMemory()
	key := securestore.KeyFromPassphrase("correct horse", "salt-1")
	s := securestore.NewSealed(inner, key)

	t.Run("round trip hides plaintext", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "session.accessSignature", "sig-value"))

		stored, ok, err := inner.Get(ctx, "session.accessSignature")
		require.NoError(t, err)
		require.True(t, ok)
		require.NotContains(t, stored, "sig-value")

		v, ok, err := s.Get(ctx, "session.accessSignature")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "sig-value", v)
	})

	t.Run("fresh nonce per write", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "a", "same"))
		first, _, _ := inner.Get(ctx, "a")
		require.NoError(t, s.Set(ctx, "a", "same"))
		second, _, _ := inner.Get(ctx, "a")
		require.NotEqual(t, first, second)
	})

	t.Run("wrong key", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "b", "secret"))
		other := securestore.NewSealed(inner, securestore.KeyFromPassphrase("wrong", "salt-1"))
		_, _, err := other.Get(ctx, "b")
		require.True(t, errors.Is(err, securestore.ErrSealedValue))
	})

	t.Run("tampered value", func(t *testing.T) {
		require.NoError(t, inner.Set(ctx, "c", "bm90LXNlYWxlZA=="))
		_, _, err := s.Get(ctx, "c")
		require.True(t, errors.Is(err, securestore.ErrSealedValue))
	})

	t.Run("absent and remove", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.Remove(ctx, "a"))
		_, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		require.False(t, ok)
	})
}
