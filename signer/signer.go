package signer

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/pkg/errors"
)

var ErrInvalidHex = errors.New("transaction is not valid hex")

// TransactionSigner is the part of protocol.Machine the signer needs.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, unsignedHex string) (string, error)
}

// Signer is the signing oracle the rest of the app uses: unsigned transaction bytes in,
// provider-signed bytes out. Errors are the protocol's.
type Signer struct {
	machine TransactionSigner
}

func New(machine TransactionSigner) *Signer {
	return &Signer{machine: machine}
}

func (s *Signer) Sign(ctx context.Context, unsigned []byte) ([]byte, error) {
	if len(unsigned) == 0 {
		return nil, errors.Wrap(protocol.ErrInvalidTransaction, "[Signer.Sign]")
	}
	signedHex, err := s.SignHex(ctx, hex.EncodeToString(unsigned))
	if err != nil {
		return nil, err
	}
	signed, err := hex.DecodeString(signedHex)
	if err != nil {
		return nil, errors.Wrap(protocol.ErrSigningFailure, "[Signer.Sign] provider returned non-hex transaction")
	}
	return signed, nil
}

// SignHex signs a hex-encoded transaction and returns the signed transaction as hex.
func (s *Signer) SignHex(ctx context.Context, unsignedHex string) (string, error) {
	unsignedHex = strings.TrimSpace(unsignedHex)
	if _, err := hex.DecodeString(unsignedHex); err != nil {
		return "", errors.Wrap(ErrInvalidHex, "[Signer.SignHex]")
	}
	signed, err := s.machine.SignTransaction(ctx, unsignedHex)
	if err != nil {
		return "", errors.Wrap(err, "[Signer.SignHex]")
	}
	return strings.TrimSpace(signed), nil
}
