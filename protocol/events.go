package protocol

import (
	"encoding/json"

	"github.com/jrsteele09/go-identity-bridge/payload"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/pkg/errors"
)

// LoginEvent is the raw login callback handed to OnLogin. The machine does not interpret the
// account list; the app may keep it for display.
type LoginEvent struct {
	PublicKey string
	Users     string
	SignedUp  *bool
	Fields    payload.Fields
}

// Accounts parses the provider's account map, keyed by public key.
func (e LoginEvent) Accounts() (map[string]json.RawMessage, error) {
	accounts := map[string]json.RawMessage{}
	if e.Users == "" {
		return accounts, nil
	}
	if err := json.Unmarshal([]byte(e.Users), &accounts); err != nil {
		return nil, errors.Wrap(err, "[LoginEvent.Accounts] parse users")
	}
	return accounts, nil
}

// DeriveEvent is handed to OnDerive once the derived key has been committed.
type DeriveEvent struct {
	Session session.Session
	Fields  payload.Fields
}

type LoginResult struct {
	Session session.Session
	Login   LoginEvent
}

type LoginOption func(*loginOptions)

type loginOptions struct {
	derive bool
}

// WithoutDerive stops after the login callback; the session is left owner-only.
func WithoutDerive() LoginOption {
	return func(o *loginOptions) {
		o.derive = false
	}
}
