package spending

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

var (
	ErrInvalidExpiration = errors.New("derived key expiration must be at least one day")
	ErrNegativeSpendCap  = errors.New("global spend cap must not be negative")
	ErrNegativeCount     = errors.New("transaction count limit must not be negative")
)

// NanosPerUnit is the number of base units in one whole coin.
const NanosPerUnit = 1e9

// Transaction type names understood by the identity provider.
const (
	TxSubmitPost    = "SUBMIT_POST"
	TxCreateLike    = "CREATE_LIKE"
	TxSendDiamonds  = "SEND_DIAMONDS"
	TxBasicTransfer = "BASIC_TRANSFER"
	TxFollow        = "FOLLOW"
	TxNFTCreate     = "NFT_CREATE"
	TxNFTUpdate     = "NFT_UPDATE"
	TxNFTBid        = "NFT_BID"
	TxNFTTransfer   = "NFT_TRANSFER"
)

// Scope is what the application asks the user to authorize for a derived key.
type Scope struct {
	AppName        string
	ExpirationDays int
	// GlobalSpendCap is expressed in whole coin units.
	GlobalSpendCap float64
	// TransactionCounts maps transaction type to maximum count. A type that is not present is
	// not authorized at all.
	TransactionCounts map[string]int
}

// Limit is the spending-limit document in the shape the provider expects.
type Limit struct {
	AppName                  string         `json:"AppName"`
	DerivedKeyExpirationDays int            `json:"DerivedKeyExpirationDays"`
	GlobalDESOLimit          uint64         `json:"GlobalDESOLimit"`
	TransactionCountLimitMap map[string]int `json:"TransactionCountLimitMap"`
}

func DefaultScope() Scope {
	return Scope{
		AppName:        "DesoMobile",
		ExpirationDays: 30,
		GlobalSpendCap: 0.1,
		TransactionCounts: map[string]int{
			TxSubmitPost:    50,
			TxBasicTransfer: 50,
			TxCreateLike:    200,
			TxSendDiamonds:  50,
		},
	}
}

// Build converts a scope into the provider's spending-limit document. It is pure: the same
// scope always produces the same limit, and the scope's map is copied rather than shared.
func Build(scope Scope) (Limit, error) {
	if scope.ExpirationDays <= 0 {
		return Limit{}, ErrInvalidExpiration
	}
	if scope.GlobalSpendCap < 0 || math.IsNaN(scope.GlobalSpendCap) {
		return Limit{}, ErrNegativeSpendCap
	}

	counts := make(map[string]int, len(scope.TransactionCounts))
	for txType, n := range scope.TransactionCounts {
		if n < 0 {
			return Limit{}, errors.Wrapf(ErrNegativeCount, "%s", txType)
		}
		counts[txType] = n
	}

	return Limit{
		AppName:                  scope.AppName,
		DerivedKeyExpirationDays: scope.ExpirationDays,
		GlobalDESOLimit:          NanosFromUnits(scope.GlobalSpendCap),
		TransactionCountLimitMap: counts,
	}, nil
}

// NanosFromUnits converts whole coin units to nanos, rounding to the nearest integer.
func NanosFromUnits(units float64) uint64 {
	if units <= 0 {
		return 0
	}
	return uint64(math.Round(units * NanosPerUnit))
}

// JSON serializes the limit for the derive request's transactionSpendingLimitResponse
// parameter.
func (l Limit) JSON() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", errors.Wrap(err, "[Limit.JSON] marshal spending limit")
	}
	return string(b), nil
}
