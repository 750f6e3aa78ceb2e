package transport

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind names a transport adapter variant.
type Kind string

const (
	KindSystemBrowser       Kind = "system-browser"
	KindNavigationIntercept Kind = "navigation-intercept"
	KindMessageRelay        Kind = "message-relay"
)

// DefaultTimeout bounds a wait when the request does not set its own.
const DefaultTimeout = 60 * time.Second

var (
	ErrInvalidRequest = errors.New("transport: target url and callback prefix are required")
	ErrUnknownKind    = errors.New("transport: unknown adapter kind")
)

// ParseKind maps a configured adapter name to its Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(normalizeKind(s)); k {
	case KindSystemBrowser, KindNavigationIntercept, KindMessageRelay:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Outcome is how a single wait ended.
type Outcome int

const (
	OutcomeCallback Outcome = iota + 1
	OutcomeCancelled
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCallback:
		return "callback"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Request describes one provider round trip.
type Request struct {
	AttemptID string
	// Flow is the protocol flow ("login", "derive", "sign"); the relay transport matches it
	// against the event name of host messages.
	Flow           string
	TargetURL      string
	CallbackPrefix string
	// ResultKeys are the payload keys that mark a message or navigation as carrying the
	// flow's result.
	ResultKeys []string
	Timeout    time.Duration
}

func (r Request) validate() error {
	if strings.TrimSpace(r.TargetURL) == "" || strings.TrimSpace(r.CallbackPrefix) == "" {
		return ErrInvalidRequest
	}
	return nil
}

func (r Request) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Result is the resolution of a wait. Raw is set only for OutcomeCallback and holds the
// callback URL or message text exactly as received.
type Result struct {
	Outcome Outcome
	Raw     string
	Source  string
}

// Adapter opens the provider URL on some surface and suspends until exactly one of callback,
// cancellation or timeout occurs. The error return is reserved for failures to open the
// surface itself.
type Adapter interface {
	Kind() Kind
	Open(ctx context.Context, req Request) (Result, error)
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
