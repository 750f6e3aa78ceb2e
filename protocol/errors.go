package protocol

import "github.com/pkg/errors"

var (
	ErrUserCancelled        = errors.New("user cancelled the identity provider")
	ErrTimeout              = errors.New("identity provider did not call back in time")
	ErrAuthFailure          = errors.New("identity provider callback is missing required fields")
	ErrIncompleteDerivation = errors.New("derived key was returned without an access signature")
	ErrSigningFailure       = errors.New("identity provider did not return a signed transaction")
	ErrNotAuthorized        = errors.New("no authorized derived key for this operation")
	ErrAlreadyInProgress    = errors.New("another identity flow is already in progress")
	ErrInvalidTransaction   = errors.New("transaction to sign is empty")
)
