// Package pricing computes price impact for position changes and swaps.
//
// Impact follows one curve: impact = f(diffBefore) - f(diffAfter) with
// f(x) = factor * x^exponent. Moving toward balance is positive (trader
// benefit, paid from an impact pool); moving away is negative (trader cost,
// accrued to an impact pool). Open interest and pool balances must be read
// before the order's own delta is applied.
package pricing

import (
	"PoolLedger/internal/errs"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

// Balance is the two-sided quantity impact is measured on: long/short open
// interest for positions, per-token pool USD for swaps.
type Balance struct {
	A, B         decimal.Decimal
	NextA, NextB decimal.Decimal
}

// ImpactUsd returns the signed USD impact of moving from (A, B) to
// (NextA, NextB).
func ImpactUsd(b Balance, factor market.ImpactFactor, exponent decimal.Decimal) decimal.Decimal {
	initialDiff := fpmath.Diff(b.A, b.B)
	nextDiff := fpmath.Diff(b.NextA, b.NextB)

	sameSide := (b.A.Cmp(b.B) <= 0) == (b.NextA.Cmp(b.NextB) <= 0)
	if sameSide {
		helpful := nextDiff.LessThan(initialDiff)
		f := factor.Negative
		if helpful {
			f = factor.Positive
		}
		delta := fpmath.Diff(
			fpmath.ApplyImpactFactor(initialDiff, f, exponent),
			fpmath.ApplyImpactFactor(nextDiff, f, exponent),
		)
		if helpful {
			return delta
		}
		return delta.Neg()
	}

	// the imbalance crosses over: the part that closes the old gap is
	// rewarded, the part that opens the new gap is charged
	positive := fpmath.ApplyImpactFactor(initialDiff, factor.Positive, exponent)
	negative := fpmath.ApplyImpactFactor(nextDiff, factor.Negative, exponent)
	return positive.Sub(negative)
}

// PositionImpactUsd returns the impact of changing a side's open interest by
// sizeDeltaUsd (negative for decreases), measured against current state.
func PositionImpactUsd(r store.Reader, m market.Market, cfg *market.Config, sizeDeltaUsd decimal.Decimal, isLong bool) decimal.Decimal {
	long := market.OpenInterestForSide(r, m, true)
	short := market.OpenInterestForSide(r, m, false)
	b := Balance{A: long, B: short, NextA: long, NextB: short}
	if isLong {
		b.NextA = long.Add(sizeDeltaUsd)
	} else {
		b.NextB = short.Add(sizeDeltaUsd)
	}
	return ImpactUsd(b, cfg.PositionImpactFactor, cfg.PositionImpactExp)
}

// CapPositiveImpactByFactor limits a positive impact to sizeDeltaUsd * factor.
func CapPositiveImpactByFactor(impactUsd, sizeDeltaUsd decimal.Decimal, cfg *market.Config) decimal.Decimal {
	if impactUsd.Sign() <= 0 {
		return impactUsd
	}
	maxImpact := fpmath.ApplyFactor(sizeDeltaUsd.Abs(), cfg.MaxPositionImpact.Positive, fpmath.RoundDown)
	return fpmath.Min(impactUsd, maxImpact)
}

// CapPositiveImpactByPool limits a positive impact to what the position impact
// pool can pay, valued at the long token's min price.
func CapPositiveImpactByPool(r store.Reader, m market.Market, prices *oracle.PriceSet, impactUsd decimal.Decimal) (decimal.Decimal, error) {
	if impactUsd.Sign() <= 0 {
		return impactUsd, nil
	}
	p, err := prices.Get(m.LongToken)
	if err != nil {
		return decimal.Zero, err
	}
	available := market.PositionImpactPoolAmount(r, m).Mul(p.Min)
	return fpmath.Min(impactUsd, available), nil
}

// CapNegativeImpact limits a negative impact to sizeDeltaUsd * maxFactor and
// returns the capped impact plus the withheld excess (a positive USD value).
func CapNegativeImpact(impactUsd, sizeDeltaUsd, maxFactor decimal.Decimal) (capped, excess decimal.Decimal) {
	if impactUsd.Sign() >= 0 {
		return impactUsd, decimal.Zero
	}
	maxImpact := fpmath.ApplyFactor(sizeDeltaUsd.Abs(), maxFactor, fpmath.RoundDown)
	if impactUsd.Abs().LessThanOrEqual(maxImpact) {
		return impactUsd, decimal.Zero
	}
	return maxImpact.Neg(), impactUsd.Abs().Sub(maxImpact)
}

// ApplyPositionImpact moves the long-token value of a trader's impact between
// the pool and the position impact pool. A negative trader impact is accrued
// to the impact pool and fails with ErrInsufficientPoolAmount when the pool
// holds too little of the long token to back it; a positive one is released
// from it. It returns the token amount moved into the impact pool (negative
// when released).
func ApplyPositionImpact(tx store.Tx, m market.Market, prices *oracle.PriceSet, traderImpactUsd decimal.Decimal) (decimal.Decimal, error) {
	if traderImpactUsd.IsZero() {
		return decimal.Zero, nil
	}
	p, err := prices.Get(m.LongToken)
	if err != nil {
		return decimal.Zero, err
	}
	poolKey := store.PoolAmountKey(m.MarketToken, m.LongToken)
	impactKey := store.PositionImpactPoolAmountKey(m.MarketToken)

	if traderImpactUsd.Sign() < 0 {
		amount := fpmath.Div(traderImpactUsd.Abs(), p.Min, fpmath.RoundDown)
		if have := tx.Decimal(poolKey); have.LessThan(amount) {
			return decimal.Zero, errs.Wrap(market.ErrInsufficientPoolAmount,
				"market %s cannot reserve %s %s of position impact, pool holds %s", m.MarketToken, amount, m.LongToken, have)
		}
		return amount, market.MoveBucket(tx, poolKey, impactKey, amount)
	}
	amount := fpmath.Div(traderImpactUsd, p.Max, fpmath.RoundDown)
	amount = fpmath.Min(amount, tx.Decimal(impactKey))
	return amount.Neg(), market.MoveBucket(tx, impactKey, poolKey, amount)
}

// SwapImpactUsd returns the impact of moving usdIn of tokenIn into the pool
// and usdOut of tokenOut out of it.
func SwapImpactUsd(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	tokenIn, tokenOut string,
	usdIn, usdOut decimal.Decimal,
) (decimal.Decimal, error) {
	if m.IsSingleToken() {
		return decimal.Zero, nil
	}
	pIn, err := prices.Get(tokenIn)
	if err != nil {
		return decimal.Zero, err
	}
	pOut, err := prices.Get(tokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	a := market.PoolAmount(r, m, tokenIn).Mul(pIn.Mid())
	b := market.PoolAmount(r, m, tokenOut).Mul(pOut.Mid())
	return ImpactUsd(Balance{
		A: a, B: b,
		NextA: a.Add(usdIn),
		NextB: fpmath.BoundedSub(b, usdOut),
	}, cfg.SwapImpactFactor, cfg.SwapImpactExp), nil
}

// DepositImpactUsd returns the impact of adding longUsd and shortUsd to the
// pool at once.
func DepositImpactUsd(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	longUsd, shortUsd decimal.Decimal,
) (decimal.Decimal, error) {
	if m.IsSingleToken() {
		return decimal.Zero, nil
	}
	pl, err := prices.Get(m.LongToken)
	if err != nil {
		return decimal.Zero, err
	}
	ps, err := prices.Get(m.ShortToken)
	if err != nil {
		return decimal.Zero, err
	}
	a := market.PoolAmount(r, m, m.LongToken).Mul(pl.Mid())
	b := market.PoolAmount(r, m, m.ShortToken).Mul(ps.Mid())
	return ImpactUsd(Balance{
		A: a, B: b,
		NextA: a.Add(longUsd),
		NextB: b.Add(shortUsd),
	}, cfg.SwapImpactFactor, cfg.SwapImpactExp), nil
}

// ApplySwapImpactWithCap settles a swap impact against the swap impact pool of
// token. A positive impact pays out at most the pool's balance and returns the
// amount paid (positive); a negative impact returns the amount owed to the
// pool as a negative number. The caller moves the counter-leg.
func ApplySwapImpactWithCap(tx store.Tx, m market.Market, token string, price oracle.Price, impactUsd decimal.Decimal) (decimal.Decimal, error) {
	if impactUsd.IsZero() {
		return decimal.Zero, nil
	}
	if impactUsd.Sign() > 0 {
		amount := fpmath.Div(impactUsd, price.Max, fpmath.RoundDown)
		amount = fpmath.Min(amount, market.SwapImpactPoolAmount(tx, m, token))
		return amount, market.ApplyDeltaToSwapImpactPool(tx, m, token, amount.Neg())
	}
	amount := fpmath.Div(impactUsd.Abs(), price.Min, fpmath.RoundUp)
	return amount.Neg(), market.ApplyDeltaToSwapImpactPool(tx, m, token, amount)
}
