// internal/math/fixedpoint.go
package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// All engine quantities are integers held in decimal.Decimal with exponent >= 0
// after every operation. USD values and factors are scaled by FloatPrecision,
// token amounts are raw units in the token's own decimals.

var (
	// FloatPrecision scales USD values, prices and factors (1.0 == 1e30).
	FloatPrecision = decimal.New(1, 30)
	// WeiPrecision scales market token amounts (18 decimals).
	WeiPrecision = decimal.New(1, 18)
	// FundingPrecision scales per-size funding accumulators so that small
	// amounts spread over large open interest do not truncate to zero.
	FundingPrecision = decimal.New(1, 60)

	floatToWei = decimal.New(1, 12)

	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// RoundingMode selects how a non-exact quotient is resolved. Every division in
// the engine names its mode explicitly; the caller picks the direction that
// favours the pool.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // toward zero
	RoundUp                       // away from zero
)

func (m RoundingMode) String() string {
	if m == RoundUp {
		return "up"
	}
	return "down"
}

// FatalError marks an arithmetic condition that must abort the whole call.
// It is raised with panic and recovered at the engine boundary.
type FatalError struct {
	Op     string
	Detail string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FATAL: %s: %s", e.Op, e.Detail)
}

// Div returns a / b as an integer rounded per mode. b must be non-zero.
func Div(a, b decimal.Decimal, mode RoundingMode) decimal.Decimal {
	if b.IsZero() {
		panic(&FatalError{Op: "div", Detail: fmt.Sprintf("division by zero (numerator %s)", a.String())})
	}
	q, r := a.QuoRem(b, 0)
	if mode == RoundUp && !r.IsZero() {
		// away from zero: sign of the true quotient
		if a.Sign()*b.Sign() > 0 {
			q = q.Add(One)
		} else {
			q = q.Sub(One)
		}
	}
	return q
}

// MulDiv returns a * b / c rounded per mode. The product is exact.
func MulDiv(a, b, c decimal.Decimal, mode RoundingMode) decimal.Decimal {
	return Div(a.Mul(b), c, mode)
}

// ApplyFactor returns value * factor / FloatPrecision.
func ApplyFactor(value, factor decimal.Decimal, mode RoundingMode) decimal.Decimal {
	return MulDiv(value, factor, FloatPrecision, mode)
}

// ToFactor returns value / divisor as a FloatPrecision factor. A zero divisor
// yields zero.
func ToFactor(value, divisor decimal.Decimal, mode RoundingMode) decimal.Decimal {
	if divisor.IsZero() {
		return Zero
	}
	return MulDiv(value, FloatPrecision, divisor, mode)
}

// Float turns a human readable number ("0.0005", "5000") into a FloatPrecision
// scaled integer.
func Float(s string) decimal.Decimal {
	return decimal.RequireFromString(s).Shift(30).Truncate(0)
}

// Expand returns n * 10^decimals.
func Expand(n int64, decimals int32) decimal.Decimal {
	return decimal.New(n, decimals)
}

// ExpandString returns s * 10^decimals truncated to an integer.
func ExpandString(s string, decimals int32) decimal.Decimal {
	return decimal.RequireFromString(s).Shift(decimals).Truncate(0)
}

// Abs returns |v|.
func Abs(v decimal.Decimal) decimal.Decimal { return v.Abs() }

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Diff returns |a - b|.
func Diff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

// BoundedSub returns a - b floored at zero.
func BoundedSub(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return Zero
	}
	return a.Sub(b)
}

// MustNonNegative panics with a FatalError when v < 0.
func MustNonNegative(op string, v decimal.Decimal) decimal.Decimal {
	if v.Sign() < 0 {
		panic(&FatalError{Op: op, Detail: fmt.Sprintf("negative value %s", v.String())})
	}
	return v
}

// UsdToMarketTokenAmount converts a USD value into market token units given the
// current pool value and supply. An empty pool mints at $1 per token.
func UsdToMarketTokenAmount(usdValue, poolValue, supply decimal.Decimal) decimal.Decimal {
	if supply.IsZero() && poolValue.IsZero() {
		return Div(usdValue, floatToWei, RoundDown)
	}
	if supply.IsZero() && poolValue.Sign() > 0 {
		// value left behind by a fully withdrawn pool accrues to the next depositor
		return Div(usdValue.Add(poolValue), floatToWei, RoundDown)
	}
	if poolValue.IsZero() {
		panic(&FatalError{Op: "usdToMarketTokenAmount", Detail: "zero pool value with outstanding supply"})
	}
	return MulDiv(supply, usdValue, poolValue, RoundDown)
}

// MarketTokenAmountToUsd converts market token units to USD.
func MarketTokenAmountToUsd(amount, poolValue, supply decimal.Decimal) decimal.Decimal {
	if supply.IsZero() {
		return Zero
	}
	return MulDiv(poolValue, amount, supply, RoundDown)
}
