package session

import "github.com/jrsteele09/go-identity-bridge/internal/utils"

// Session is the authenticated identity. Empty OwnerPublicKey and nil pointers mean absent.
// DerivedPublicKey and AccessSignature are written together by the protocol; a session with a
// derived key but no signature identifies the user but cannot sign.
type Session struct {
	OwnerPublicKey   string
	DerivedPublicKey *string
	AccessSignature  *string
	SpendingLimitHex *string
	PrimaryToken     *string
	DerivedToken     *string
	ExpirationBlock  *int64
}

func (s Session) IsLoggedIn() bool {
	return s.OwnerPublicKey != ""
}

func (s Session) HasDerivedKey() bool {
	return s.DerivedPublicKey != nil && *s.DerivedPublicKey != ""
}

// IsDerived reports whether the session may sign: it needs both the derived key and the
// provider's access signature.
func (s Session) IsDerived() bool {
	return s.IsLoggedIn() && s.HasDerivedKey() && s.AccessSignature != nil && *s.AccessSignature != ""
}

func (s Session) IsEmpty() bool {
	return s.OwnerPublicKey == "" && s.DerivedPublicKey == nil && s.AccessSignature == nil &&
		s.SpendingLimitHex == nil && s.PrimaryToken == nil && s.DerivedToken == nil && s.ExpirationBlock == nil
}

// Clone returns a deep copy so callers cannot mutate the store's copy through shared pointers.
func (s Session) Clone() Session {
	return Session{
		OwnerPublicKey:   s.OwnerPublicKey,
		DerivedPublicKey: clonePtr(s.DerivedPublicKey),
		AccessSignature:  clonePtr(s.AccessSignature),
		SpendingLimitHex: clonePtr(s.SpendingLimitHex),
		PrimaryToken:     clonePtr(s.PrimaryToken),
		DerivedToken:     clonePtr(s.DerivedToken),
		ExpirationBlock:  clonePtr(s.ExpirationBlock),
	}
}

// Identity is the summary other parts of the app read: who the user is and whether the
// session can sign.
type Identity struct {
	OwnerPublicKey   string
	DerivedPublicKey string
	Authenticated    bool
}

func (s Session) Identity() Identity {
	return Identity{
		OwnerPublicKey:   s.OwnerPublicKey,
		DerivedPublicKey: utils.Value(s.DerivedPublicKey),
		Authenticated:    s.IsDerived(),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
