// Package money represents INR amounts with paise precision.
//
// All balances, escrow amounts, and payouts flow through this package so
// that rounding happens in exactly one place. Stored columns are
// NUMERIC(14,2); in Go an Amount is a shopspring decimal rounded to two
// places.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of minor-unit digits (paise).
const Precision = 2

// Parse converts a decimal string like "1500" or "42.50" into an amount
// rounded to paise. Negative amounts are rejected; signed ledger entries
// carry direction in their type, not their amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return d.Round(Precision), nil
}

// FromRupees builds an amount from a whole-rupee integer.
func FromRupees(r int64) decimal.Decimal {
	return decimal.NewFromInt(r)
}

// Round normalizes an amount to paise precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Precision)
}

// Paise returns the amount in minor units, for provider APIs that take
// integer smallest-unit values.
func Paise(d decimal.Decimal) int64 {
	return d.Round(Precision).Shift(Precision).IntPart()
}
