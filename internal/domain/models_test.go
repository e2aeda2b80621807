package domain

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyConfig_Validate_Default(t *testing.T) {
	assert.NoError(t, DefaultStrategyConfig().Validate())
}

func TestStrategyConfig_Validate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *StrategyConfig)
		valid  bool
	}{
		{"minimum amount", func(c *StrategyConfig) { c.Amount = decimal.NewFromInt(10) }, true},
		{"below minimum amount", func(c *StrategyConfig) { c.Amount = decimal.NewFromFloat(9.99) }, false},
		{"above maximum amount", func(c *StrategyConfig) { c.Amount = decimal.NewFromInt(100001) }, false},
		{"stop loss zero", func(c *StrategyConfig) { c.StopLossPercent = 0 }, false},
		{"stop loss at max", func(c *StrategyConfig) { c.StopLossPercent = 50 }, true},
		{"stop loss above max", func(c *StrategyConfig) { c.StopLossPercent = 50.5 }, false},
		{"take profit at max", func(c *StrategyConfig) { c.TakeProfitPercent = 100 }, true},
		{"take profit negative", func(c *StrategyConfig) { c.TakeProfitPercent = -1 }, false},
		{"slippage at min", func(c *StrategyConfig) { c.MaxSlippagePercent = 0.1 }, true},
		{"slippage below min", func(c *StrategyConfig) { c.MaxSlippagePercent = 0.05 }, false},
		{"slippage above max", func(c *StrategyConfig) { c.MaxSlippagePercent = 5.1 }, false},
		{"unknown risk", func(c *StrategyConfig) { c.RiskLevel = "extreme" }, false},
		{"unknown strategy", func(c *StrategyConfig) { c.StrategyType = "scalping" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStrategyConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Equal(t, ReasonInvalidConfig, ReasonOf(err))
		})
	}
}

func TestToWei(t *testing.T) {
	wei := ToWei(decimal.RequireFromString("1.5"))
	expected, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(wei))

	assert.True(t, FromWei(wei).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, FromWei(nil).IsZero())
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("250.25")
	require.NoError(t, err)
	assert.Equal(t, "250.25", d.String())

	_, err = ParseAmount("lots")
	assert.True(t, IsKind(err, KindValidation))
}

func TestError_Predicates(t *testing.T) {
	base := NewError(KindStorage, ReasonNotFound, "root %s", "0xabc")
	wrapped := fmt.Errorf("download: %w", base)

	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, base.Error(), "StorageError (NotFound)")
	assert.Equal(t, ErrorKind(""), KindOf(fmt.Errorf("plain")))
}

func TestFromContext(t *testing.T) {
	err := FromContext(context.DeadlineExceeded, KindProvider, ReasonInferenceProvider, "inference")
	assert.True(t, IsTimeout(err))
	assert.Equal(t, ReasonInferenceProvider, ReasonOf(err))

	err = FromContext(context.Canceled, KindProvider, ReasonInferenceProvider, "inference")
	assert.True(t, IsKind(err, KindCancelled))

	typed := NewError(KindContract, ReasonContractRejected, "reverted")
	assert.Same(t, typed, FromContext(typed, KindProvider, ReasonNone, "ignored"))

	err = FromContext(fmt.Errorf("boom"), KindProvider, ReasonInferenceProvider, "inference")
	assert.True(t, IsKind(err, KindProvider))

	assert.NoError(t, FromContext(nil, KindProvider, ReasonNone, ""))
}

func TestTransaction_HashIncludesSignature(t *testing.T) {
	tx := &Transaction{From: "0x01", ChainID: 16602, Nonce: 1, Method: MethodDeposit, Value: big.NewInt(10)}

	payload, err := tx.SigningPayload()
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "signature")

	h1, err := tx.Hash()
	require.NoError(t, err)
	tx.Signature = "0xdead"
	h2, err := tx.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 66)
}
