package spending_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jrsteele09/go-identity-bridge/spending"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Run("units converted to nanos", func(t *testing.T) {
		limit, err := spending.Build(spending.Scope{
			AppName:           "X",
			ExpirationDays:    30,
			GlobalSpendCap:    0.1,
			TransactionCounts: map[string]int{spending.TxSubmitPost: 50},
		})
		require.NoError(t, err)
		require.Equal(t, uint64(100000000), limit.GlobalDESOLimit)
		require.Equal(t, "X", limit.AppName)
		require.Equal(t, 30, limit.DerivedKeyExpirationDays)
		require.Equal(t, map[string]int{"SUBMIT_POST": 50}, limit.TransactionCountLimitMap)
	})

	t.Run("rounds to nearest nano", func(t *testing.T) {
		require.Equal(t, uint64(1), spending.NanosFromUnits(0.0000000006))
		require.Equal(t, uint64(0), spending.NanosFromUnits(0.0000000004))
		require.Equal(t, uint64(300000000), spending.NanosFromUnits(0.3))
	})

	t.Run("zero expiration rejected", func(t *testing.T) {
		_, err := spending.Build(spending.Scope{ExpirationDays: 0})
		require.True(t, errors.Is(err, spending.ErrInvalidExpiration))
	})

	t.Run("negative cap rejected", func(t *testing.T) {
		_, err := spending.Build(spending.Scope{ExpirationDays: 1, GlobalSpendCap: -1})
		require.True(t, errors.Is(err, spending.ErrNegativeSpendCap))
	})

	t.Run("negative count rejected", func(t *testing.T) {
		_, err := spending.Build(spending.Scope{ExpirationDays: 1, TransactionCounts: map[string]int{"NFT_BID": -1}})
		require.True(t, errors.Is(err, spending.ErrNegativeCount))
		require.Contains(t, err.Error(), "NFT_BID")
	})

	t.Run("scope map is not shared", func(t *testing.T) {
		scope := spending.DefaultScope()
		limit, err := spending.Build(scope)
		require.NoError(t, err)
		scope.TransactionCounts[spending.TxCreateLike] = 1
		require.Equal(t, 200, limit.TransactionCountLimitMap[spending.TxCreateLike])
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := spending.Build(spending.DefaultScope())
		require.NoError(t, err)
		b, err := spending.Build(spending.DefaultScope())
		require.NoError(t, err)
		require.Equal(t, a, b)
	})
}

func TestLimit_JSON(t *testing.T) {
	limit, err := spending.Build(spending.DefaultScope())
	require.NoError(t, err)

	s, err := limit.JSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	require.Equal(t, "DesoMobile", doc["AppName"])
	require.EqualValues(t, 30, doc["DerivedKeyExpirationDays"])
	require.EqualValues(t, 100000000, doc["GlobalDESOLimit"])
	require.Contains(t, doc["TransactionCountLimitMap"], "SEND_DIAMONDS")
}
