package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point precision of on-chain amounts
const TokenDecimals = 18

// ToWei converts a currency amount into its 18-decimal integer representation.
// Precision below one wei is truncated.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).Truncate(0).BigInt()
}

// FromWei converts an 18-decimal integer into a currency amount
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -TokenDecimals)
}

// ParseAmount parses a decimal currency amount such as "12.5"
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewError(KindValidation, ReasonInvalidConfig, "invalid amount %q", s)
	}
	return d, nil
}
