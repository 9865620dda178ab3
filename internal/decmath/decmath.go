// Package decmath holds the fixed-scale arithmetic used for every amount in
// the fund: 18 decimal places, the accounting unit of the share ledger.
package decmath

import "github.com/shopspring/decimal"

// Scale is the number of decimal places kept for amounts, prices and rates.
const Scale int32 = 18

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Mul returns a*b rounded half away from zero at Scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(Scale)
}

// Div returns a/b rounded half away from zero at Scale. b must be non-zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Scale)
}

// MulDivFloor returns a*b/c truncated toward zero at Scale. Used for
// pro-rata payouts that must never exceed the pool they are drawn from.
func MulDivFloor(a, b, c decimal.Decimal) decimal.Decimal {
	return a.Mul(b).DivRound(c, Scale+4).Truncate(Scale)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// InUnitRange reports 0 <= v < 1.
func InUnitRange(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThan(One)
}
