// Package fees accrues funding and borrowing and prices the fees a position
// pays when it changes.
package fees

import (
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

// FundingDelta is one accrual step of a market's funding accumulators.
// Per-size values are scaled by FundingPrecision.
type FundingDelta struct {
	Duration     decimal.Decimal
	PayingIsLong bool
	FundingUsd   decimal.Decimal
	// paid per size of the paying side, by the payer's collateral token
	FeeAmountPerSize map[string]decimal.Decimal
	// credited per size of the receiving side, by the token credited
	ClaimablePerSize map[string]decimal.Decimal
}

func (d *FundingDelta) IsZero() bool {
	return d == nil || d.FundingUsd.IsZero()
}

// NextFunding computes the accrual since the market's last funding update
// without writing it. Funding only flows while both sides hold open interest.
func NextFunding(r store.Reader, m market.Market, cfg *market.Config, prices *oracle.PriceSet, now uint64) (*FundingDelta, error) {
	delta := &FundingDelta{
		FeeAmountPerSize: map[string]decimal.Decimal{},
		ClaimablePerSize: map[string]decimal.Decimal{},
	}
	updatedAt := r.Uint64(store.FundingUpdatedAtKey(m.MarketToken))
	if updatedAt == 0 {
		return delta, nil
	}
	delta.Duration = fpmath.Seconds(updatedAt, now)
	if delta.Duration.IsZero() {
		return delta, nil
	}

	longOi := market.OpenInterestForSide(r, m, true)
	shortOi := market.OpenInterestForSide(r, m, false)
	if longOi.IsZero() || shortOi.IsZero() || longOi.Equal(shortOi) {
		return delta, nil
	}

	perSecond := fpmath.FundingFactorPerSecond(longOi, shortOi, cfg.FundingFactor, cfg.FundingExponent)
	delta.PayingIsLong = longOi.GreaterThan(shortOi)
	payingOi, receivingOi := longOi, shortOi
	if !delta.PayingIsLong {
		payingOi, receivingOi = shortOi, longOi
	}
	delta.FundingUsd = fpmath.ApplyFactor(payingOi, perSecond.Mul(delta.Duration), fpmath.RoundDown)
	if delta.FundingUsd.IsZero() {
		return delta, nil
	}

	for _, token := range m.CollateralTokens() {
		oiForToken := market.OpenInterest(r, m, token, delta.PayingIsLong)
		if oiForToken.IsZero() {
			continue
		}
		p, err := prices.Get(token)
		if err != nil {
			return nil, err
		}
		usdForToken := fpmath.MulDiv(delta.FundingUsd, oiForToken, payingOi, fpmath.RoundDown)
		amount := fpmath.Div(usdForToken, p.Max, fpmath.RoundDown)
		if amount.IsZero() {
			continue
		}
		delta.FeeAmountPerSize[token] = fpmath.MulDiv(amount, fpmath.FundingPrecision, oiForToken, fpmath.RoundUp)
		delta.ClaimablePerSize[token] = fpmath.MulDiv(amount, fpmath.FundingPrecision, receivingOi, fpmath.RoundDown)
	}
	return delta, nil
}

// UpdateFunding writes the next funding accrual and stamps the update time.
func UpdateFunding(tx store.Tx, m market.Market, cfg *market.Config, prices *oracle.PriceSet, now uint64) (*FundingDelta, error) {
	delta, err := NextFunding(tx, m, cfg, prices, now)
	if err != nil {
		return nil, err
	}
	for token, v := range delta.FeeAmountPerSize {
		k := store.FundingFeeAmountPerSizeKey(m.MarketToken, token, delta.PayingIsLong)
		if err := tx.SetDecimal(k, tx.Decimal(k).Add(v)); err != nil {
			return nil, err
		}
	}
	for token, v := range delta.ClaimablePerSize {
		k := store.ClaimableFundingAmountPerSizeKey(m.MarketToken, token, !delta.PayingIsLong)
		if err := tx.SetDecimal(k, tx.Decimal(k).Add(v)); err != nil {
			return nil, err
		}
	}
	if now > tx.Uint64(store.FundingUpdatedAtKey(m.MarketToken)) {
		if err := tx.SetUint64(store.FundingUpdatedAtKey(m.MarketToken), now); err != nil {
			return nil, err
		}
	}
	return delta, nil
}

// FundingFeeAmountPerSize returns the paid accumulator, including a pending
// delta when one is supplied.
func FundingFeeAmountPerSize(r store.Reader, m market.Market, collateralToken string, isLong bool, pending *FundingDelta) decimal.Decimal {
	v := r.Decimal(store.FundingFeeAmountPerSizeKey(m.MarketToken, collateralToken, isLong))
	if pending != nil && pending.PayingIsLong == isLong {
		v = v.Add(pending.FeeAmountPerSize[collateralToken])
	}
	return v
}

// ClaimableFundingAmountPerSize returns the credited accumulator, including a
// pending delta when one is supplied.
func ClaimableFundingAmountPerSize(r store.Reader, m market.Market, token string, isLong bool, pending *FundingDelta) decimal.Decimal {
	v := r.Decimal(store.ClaimableFundingAmountPerSizeKey(m.MarketToken, token, isLong))
	if pending != nil && !pending.IsZero() && pending.PayingIsLong != isLong {
		v = v.Add(pending.ClaimablePerSize[token])
	}
	return v
}
