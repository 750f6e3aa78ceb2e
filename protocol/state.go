package protocol

import (
	"time"

	"github.com/jrsteele09/go-identity-bridge/identity"
	"github.com/jrsteele09/go-identity-bridge/transport"
)

type State int

const (
	StateIdle State = iota
	StateLoggingIn
	StateAwaitingLoginCallback
	StateDerivingKey
	StateAwaitingDeriveCallback
	StateAuthenticated
	StateAwaitingSignCallback
)

var stateNames = map[State]string{
	StateIdle:                   "Idle",
	StateLoggingIn:              "LoggingIn",
	StateAwaitingLoginCallback:  "AwaitingLoginCallback",
	StateDerivingKey:            "DerivingKey",
	StateAwaitingDeriveCallback: "AwaitingDeriveCallback",
	StateAuthenticated:          "Authenticated",
	StateAwaitingSignCallback:   "AwaitingSignCallback",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsResting reports whether no flow is outstanding.
func (s State) IsResting() bool {
	return s == StateIdle || s == StateAuthenticated
}

// Attempt is one outstanding provider round trip. It is never persisted.
type Attempt struct {
	ID             string
	Flow           identity.Flow
	Transport      transport.Kind
	Deadline       time.Time
	CallbackPrefix string
}
