package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KeyOwnerPublicKey   = "session.ownerPublicKey"
	KeyDerivedPublicKey = "session.derivedPublicKey"
	KeyAccessSignature  = "session.accessSignature"
	KeySpendingLimitHex = "session.spendingLimitHex"
	KeyPrimaryToken     = "session.primaryToken"
	KeyDerivedToken     = "session.derivedToken"
	KeyExpirationBlock  = "session.expirationBlock"

	KeyUsers         = "session.users"
	KeyLastPublicKey = "session.lastPublicKey"
	KeySignedUp      = "session.signedUp"
)

// AllKeys lists every key the store owns; Clear removes all of them.
var AllKeys = []string{
	KeyOwnerPublicKey,
	KeyDerivedPublicKey,
	KeyAccessSignature,
	KeySpendingLimitHex,
	KeyPrimaryToken,
	KeyDerivedToken,
	KeyExpirationBlock,
	KeyUsers,
	KeyLastPublicKey,
	KeySignedUp,
}

const defaultWriteAttempts = 3

// Store mirrors the in-memory session into a secure store. The in-memory copy is the source of
// truth; it is only updated after every field of a write has been persisted.
type Store struct {
	mu       sync.RWMutex
	backend  securestore.Store
	current  Session
	attempts int
	logger   zerolog.Logger
}

type Option func(*Store)

// WithWriteAttempts bounds how many times a single field write is tried.
func WithWriteAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend securestore.Store, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		attempts: defaultWriteAttempts,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads every field independently. Fields missing from the backend are absent in the
// result, so partial sessions load as they were left.
func (s *Store) Load(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded Session
	owner, _, err := s.backend.Get(ctx, KeyOwnerPublicKey)
	if err != nil {
		return Session{}, errors.Wrap(err, "[Store.Load] owner public key")
	}
	loaded.OwnerPublicKey = owner

	for _, f := range []struct {
		key string
		dst **string
	}{
		{KeyDerivedPublicKey, &loaded.DerivedPublicKey},
		{KeyAccessSignature, &loaded.AccessSignature},
		{KeySpendingLimitHex, &loaded.SpendingLimitHex},
		{KeyPrimaryToken, &loaded.PrimaryToken},
		{KeyDerivedToken, &loaded.DerivedToken},
	} {
		v, ok, err := s.backend.Get(ctx, f.key)
		if err != nil {
			return Session{}, errors.Wrapf(err, "[Store.Load] %s", f.key)
		}
		if ok {
			*f.dst = &v
		}
	}

	raw, ok, err := s.backend.Get(ctx, KeyExpirationBlock)
	if err != nil {
		return Session{}, errors.Wrapf(err, "[Store.Load] %s", KeyExpirationBlock)
	}
	if ok {
		if block, err := strconv.ParseInt(raw, 10, 64); err == nil {
			loaded.ExpirationBlock = &block
		} else {
			s.logger.Warn().Str("key", KeyExpirationBlock).Msg("ignoring unparsable stored value")
		}
	}

	s.current = loaded
	return loaded.Clone(), nil
}

// Save persists the non-absent fields of update and merges them into the current session.
// If any field cannot be written the fields already written are restored to their previous
// values and the current session is left unchanged.
func (s *Store) Save(ctx context.Context, update Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(ctx, sessionFields(update)); err != nil {
		return errors.Wrap(err, "[Store.Save]")
	}
	s.current = merge(s.current, update)
	return nil
}

// Clear removes every known key and resets the current session. The in-memory session is
// cleared even when a removal fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Session{}
	var firstErr error
	for _, key := range AllKeys {
		if err := s.backend.Remove(ctx, key); err != nil {
			s.logger.Err(err).Str("key", key).Msg("removing session key")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "[Store.Clear] %s", key)
			}
		}
	}
	return firstErr
}

// Current returns a copy of the in-memory session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *Store) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Identity()
}

// LoginPayload is what the provider reports about the accounts known on the device.
type LoginPayload struct {
	// Users is the provider's account map as raw JSON.
	Users         string
	LastPublicKey string
	SignedUp      *bool
}

func (s *Store) SaveLoginPayload(ctx context.Context, p LoginPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fields []field
	if p.Users != "" {
		fields = append(fields, field{KeyUsers, p.Users})
	}
	if p.LastPublicKey != "" {
		fields = append(fields, field{KeyLastPublicKey, p.LastPublicKey})
	}
	if p.SignedUp != nil {
		fields = append(fields, field{KeySignedUp, strconv.FormatBool(*p.SignedUp)})
	}
	return errors.Wrap(s.write(ctx, fields), "[Store.SaveLoginPayload]")
}

func (s *Store) LoginPayload(ctx context.Context) (LoginPayload, error) {
	var p LoginPayload
	users, _, err := s.backend.Get(ctx, KeyUsers)
	if err != nil {
		return p, errors.Wrap(err, "[Store.LoginPayload] users")
	}
	last, _, err := s.backend.Get(ctx, KeyLastPublicKey)
	if err != nil {
		return p, errors.Wrap(err, "[Store.LoginPayload] last public key")
	}
	signedUp, ok, err := s.backend.Get(ctx, KeySignedUp)
	if err != nil {
		return p, errors.Wrap(err, "[Store.LoginPayload] signed up")
	}
	p.Users, p.LastPublicKey = users, last
	if ok {
		if b, err := strconv.ParseBool(signedUp); err == nil {
			p.SignedUp = &b
		}
	}
	return p, nil
}

type field struct {
	key   string
	value string
}

type previous struct {
	value string
	ok    bool
}

// write persists fields in order, retrying each a bounded number of times, and rolls back on
// failure. Callers hold s.mu.
func (s *Store) write(ctx context.Context, fields []field) error {
	prev := make(map[string]previous, len(fields))
	for _, f := range fields {
		v, ok, err := s.backend.Get(ctx, f.key)
		if err != nil {
			return errors.Wrapf(err, "read %s", f.key)
		}
		prev[f.key] = previous{value: v, ok: ok}
	}

	for i, f := range fields {
		if err := s.setWithRetry(ctx, f.key, f.value); err != nil {
			s.rollback(ctx, fields[:i], prev)
			return err
		}
	}
	return nil
}

func (s *Store) setWithRetry(ctx context.Context, key, value string) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.backend.Set(ctx, key, value); err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Str("key", key).Int("attempt", attempt).Msg("secure store write failed")
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Wrapf(err, "write %s", key)
}

func (s *Store) rollback(ctx context.Context, written []field, prev map[string]previous) {
	for _, f := range written {
		p := prev[f.key]
		var err error
		if p.ok {
			err = s.backend.Set(ctx, f.key, p.value)
		} else {
			err = s.backend.Remove(ctx, f.key)
		}
		if err != nil {
			s.logger.Err(err).Str("key", f.key).Msg("rolling back session field")
		}
	}
}

func sessionFields(sess Session) []field {
	var fields []field
	if sess.OwnerPublicKey != "" {
		fields = append(fields, field{KeyOwnerPublicKey, sess.OwnerPublicKey})
	}
	add := func(key string, v *string) {
		if v != nil {
			fields = append(fields, field{key, *v})
		}
	}
	add(KeyDerivedPublicKey, sess.DerivedPublicKey)
	add(KeyAccessSignature, sess.AccessSignature)
	add(KeySpendingLimitHex, sess.SpendingLimitHex)
	add(KeyPrimaryToken, sess.PrimaryToken)
	add(KeyDerivedToken, sess.DerivedToken)
	if sess.ExpirationBlock != nil {
		fields = append(fields, field{KeyExpirationBlock, strconv.FormatInt(*sess.ExpirationBlock, 10)})
	}
	return fields
}

func merge(base, update Session) Session {
	out := base.Clone()
	if update.OwnerPublicKey != "" {
		out.OwnerPublicKey = update.OwnerPublicKey
	}
	if update.DerivedPublicKey != nil {
		out.DerivedPublicKey = clonePtr(update.DerivedPublicKey)
	}
	if update.AccessSignature != nil {
		out.AccessSignature = clonePtr(update.AccessSignature)
	}
	if update.SpendingLimitHex != nil {
		out.SpendingLimitHex = clonePtr(update.SpendingLimitHex)
	}
	if update.PrimaryToken != nil {
		out.PrimaryToken = clonePtr(update.PrimaryToken)
	}
	if update.DerivedToken != nil {
		out.DerivedToken = clonePtr(update.DerivedToken)
	}
	if update.ExpirationBlock != nil {
		out.ExpirationBlock = clonePtr(update.ExpirationBlock)
	}
	return out
}
