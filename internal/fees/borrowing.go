package fees

import (
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

// NextCumulativeBorrowingFactor returns the side's cumulative borrowing factor
// as of now and the increment since the last update.
func NextCumulativeBorrowingFactor(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	isLong bool,
	now uint64,
) (next, delta decimal.Decimal, err error) {
	current := r.Decimal(store.CumulativeBorrowingFactorKey(m.MarketToken, isLong))
	updatedAt := r.Uint64(store.CumulativeBorrowingFactorUpdatedAtKey(m.MarketToken, isLong))
	if updatedAt == 0 {
		return current, decimal.Zero, nil
	}
	duration := fpmath.Seconds(updatedAt, now)
	if duration.IsZero() {
		return current, decimal.Zero, nil
	}

	reserved, err := market.ReservedUsd(r, m, prices, isLong)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	poolUsd, err := market.PoolUsdForSide(r, m, prices, isLong, false)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	perSecond := fpmath.BorrowingFactorPerSecond(reserved, poolUsd, cfg.BorrowingFactor.For(isLong), cfg.BorrowingExponent.For(isLong))
	delta = perSecond.Mul(duration)
	return current.Add(delta), delta, nil
}

// UpdateCumulativeBorrowingFactor writes the side's accrual and stamps the
// update time.
func UpdateCumulativeBorrowingFactor(
	tx store.Tx,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	isLong bool,
	now uint64,
) (decimal.Decimal, error) {
	next, _, err := NextCumulativeBorrowingFactor(tx, m, cfg, prices, isLong, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.SetDecimal(store.CumulativeBorrowingFactorKey(m.MarketToken, isLong), next); err != nil {
		return decimal.Zero, err
	}
	k := store.CumulativeBorrowingFactorUpdatedAtKey(m.MarketToken, isLong)
	if now > tx.Uint64(k) {
		if err := tx.SetUint64(k, now); err != nil {
			return decimal.Zero, err
		}
	}
	return next, nil
}

// UpdateFundingAndBorrowing brings every accumulator of a market to now. It
// runs before any change to open interest, pool amounts or positions.
func UpdateFundingAndBorrowing(tx store.Tx, m market.Market, cfg *market.Config, prices *oracle.PriceSet, now uint64) (*FundingDelta, error) {
	delta, err := UpdateFunding(tx, m, cfg, prices, now)
	if err != nil {
		return nil, err
	}
	for _, isLong := range []bool{true, false} {
		if _, err := UpdateCumulativeBorrowingFactor(tx, m, cfg, prices, isLong, now); err != nil {
			return nil, err
		}
	}
	return delta, nil
}

// ApplyDeltaToTotalBorrowing replaces a position's contribution to the side's
// sum(size * borrowingFactor).
func ApplyDeltaToTotalBorrowing(
	tx store.Tx,
	m market.Market,
	isLong bool,
	prevSize, prevFactor, nextSize, nextFactor decimal.Decimal,
) error {
	k := store.TotalBorrowingKey(m.MarketToken, isLong)
	v := tx.Decimal(k).Sub(prevSize.Mul(prevFactor)).Add(nextSize.Mul(nextFactor))
	return tx.SetDecimal(k, fpmath.MustNonNegative("total borrowing", v))
}

// TotalPendingBorrowingFees returns the USD a side owes the pool at the given
// cumulative factor.
func TotalPendingBorrowingFees(r store.Reader, m market.Market, isLong bool, cumulativeFactor decimal.Decimal) decimal.Decimal {
	oi := market.OpenInterestForSide(r, m, isLong)
	total := r.Decimal(store.TotalBorrowingKey(m.MarketToken, isLong))
	return fpmath.Div(fpmath.BoundedSub(oi.Mul(cumulativeFactor), total), fpmath.FloatPrecision, fpmath.RoundDown)
}
