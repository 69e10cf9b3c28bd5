// internal/math/funding.go
package math

import (
	"github.com/shopspring/decimal"
)

// ApplyExponentFactor raises a FloatPrecision value to a FloatPrecision
// exponent. Values below 1.0 map to zero, matching the convention that impact
// and funding curves are only defined from one unit upward.
func ApplyExponentFactor(value, exponent decimal.Decimal) decimal.Decimal {
	if value.Cmp(FloatPrecision) < 0 {
		return Zero
	}
	if exponent.Equal(FloatPrecision) {
		return value
	}

	base := value.Shift(-30)
	exp := exponent.Shift(-30)

	var result decimal.Decimal
	if exp.Equal(exp.Truncate(0)) && exp.Sign() >= 0 {
		result = One
		for i := int64(0); i < exp.IntPart(); i++ {
			result = result.Mul(base)
		}
	} else {
		result = base.Pow(exp)
	}
	return result.Shift(30).Truncate(0)
}

// ApplyImpactFactor computes factor * diff^exponent, the shape used by both
// position and swap price impact.
func ApplyImpactFactor(diffUsd, factor, exponent decimal.Decimal) decimal.Decimal {
	return ApplyFactor(ApplyExponentFactor(diffUsd, exponent), factor, RoundDown)
}

// FundingFactorPerSecond returns fundingFactor * diff^exponent / total, the
// share of the larger side's size that moves to the smaller side each second.
func FundingFactorPerSecond(longOpenInterest, shortOpenInterest, fundingFactor, exponent decimal.Decimal) decimal.Decimal {
	total := longOpenInterest.Add(shortOpenInterest)
	if total.IsZero() || fundingFactor.IsZero() {
		return Zero
	}
	diff := Diff(longOpenInterest, shortOpenInterest)
	diffAfterExponent := ApplyExponentFactor(diff, exponent)
	return ApplyFactor(ToFactor(diffAfterExponent, total, RoundDown), fundingFactor, RoundDown)
}

// BorrowingFactorPerSecond returns borrowingFactor * reserved^exponent / poolUsd.
func BorrowingFactorPerSecond(reservedUsd, poolUsd, borrowingFactor, exponent decimal.Decimal) decimal.Decimal {
	if poolUsd.IsZero() || borrowingFactor.IsZero() {
		return Zero
	}
	reservedAfterExponent := ApplyExponentFactor(reservedUsd, exponent)
	return ApplyFactor(ToFactor(reservedAfterExponent, poolUsd, RoundDown), borrowingFactor, RoundDown)
}

// Seconds lifts an elapsed duration into a decimal multiplier.
func Seconds(from, to uint64) decimal.Decimal {
	if to <= from {
		return Zero
	}
	return decimal.NewFromInt(int64(to - from))
}
