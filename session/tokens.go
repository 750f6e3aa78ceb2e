package session

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

var (
	ErrNoToken      = errors.New("session has no bearer token of that kind")
	ErrTokenExpired = errors.New("bearer token has expired")
)

// TokenKind selects one of the bearer tokens handed out by the provider.
type TokenKind int

const (
	TokenPrimary TokenKind = iota
	TokenDerived
)

func (s Session) Token(kind TokenKind) (string, bool) {
	var p *string
	switch kind {
	case TokenPrimary:
		p = s.PrimaryToken
	case TokenDerived:
		p = s.DerivedToken
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// TokenClaims reads the registered claims of a bearer token without verifying its signature.
// The provider's keys are not available on the device; claims are used only for expiry
// bookkeeping.
func (s Session) TokenClaims(kind TokenKind) (*jwt.RegisteredClaims, error) {
	tok, ok := s.Token(kind)
	if !ok {
		return nil, ErrNoToken
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, errors.Wrap(err, "[Session.TokenClaims] parse token")
	}
	return claims, nil
}

// TokenSource exposes a bearer token for auxiliary endpoints such as media upload. Tokens that
// are not JWTs never expire from the client's point of view.
func (s Session) TokenSource(kind TokenKind) (oauth2.TokenSource, error) {
	tok, ok := s.Token(kind)
	if !ok {
		return nil, ErrNoToken
	}
	t := &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}
	if claims, err := s.TokenClaims(kind); err == nil && claims.ExpiresAt != nil {
		t.Expiry = claims.ExpiresAt.Time
	}
	return &bearerSource{token: t, now: time.Now}, nil
}

// HTTPClient returns a client that sends the selected bearer token on every request.
func (s Session) HTTPClient(ctx context.Context, kind TokenKind) (*http.Client, error) {
	src, err := s.TokenSource(kind)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, src), nil
}

type bearerSource struct {
	token *oauth2.Token
	now   func() time.Time
}

func (b *bearerSource) Token() (*oauth2.Token, error) {
	if !b.token.Expiry.IsZero() && !b.now().Before(b.token.Expiry) {
		return nil, ErrTokenExpired
	}
	t := *b.token
	return &t, nil
}
