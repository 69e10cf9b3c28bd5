package position

import (
	"PoolLedger/internal/fees"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

// rawPnlUsd values the whole position at the pnl-minimizing index price.
func rawPnlUsd(pos *Position, index oracle.Price) decimal.Decimal {
	value := pos.SizeInTokens.Mul(index.PickForPnl(pos.IsLong, false))
	if pos.IsLong {
		return value.Sub(pos.SizeInUsd)
	}
	return pos.SizeInUsd.Sub(value)
}

// PnlUsd returns the position's total PnL, the part realized by closing
// sizeDeltaUsd of it and the index tokens that close removes. Profit is
// scaled down when the side's aggregate PnL exceeds the traders' max PnL
// factor of the pool.
func PnlUsd(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	pos *Position,
	sizeDeltaUsd decimal.Decimal,
) (total, realized, sizeDeltaInTokens decimal.Decimal, err error) {
	index, err := prices.Get(m.IndexToken)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	total = rawPnlUsd(pos, index)

	if total.Sign() > 0 {
		poolPnl := market.Pnl(r, m, index.PickForPnl(pos.IsLong, false), pos.IsLong)
		poolUsd, err := market.PoolUsdForSide(r, m, prices, pos.IsLong, false)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, err
		}
		maxPnl := fpmath.ApplyFactor(poolUsd, cfg.MaxPnlFactorTraders.For(pos.IsLong), fpmath.RoundDown)
		if poolPnl.GreaterThan(maxPnl) {
			total = fpmath.MulDiv(total, maxPnl, poolPnl, fpmath.RoundDown)
		}
	}

	if pos.SizeInUsd.IsZero() || sizeDeltaUsd.IsZero() {
		return total, decimal.Zero, decimal.Zero, nil
	}
	if sizeDeltaUsd.Equal(pos.SizeInUsd) {
		sizeDeltaInTokens = pos.SizeInTokens
	} else if pos.IsLong {
		sizeDeltaInTokens = fpmath.MulDiv(pos.SizeInTokens, sizeDeltaUsd, pos.SizeInUsd, fpmath.RoundUp)
	} else {
		sizeDeltaInTokens = fpmath.MulDiv(pos.SizeInTokens, sizeDeltaUsd, pos.SizeInUsd, fpmath.RoundDown)
	}

	mode := fpmath.RoundDown
	if total.Sign() < 0 {
		mode = fpmath.RoundUp
	}
	if !pos.SizeInTokens.IsZero() {
		realized = fpmath.MulDiv(total, sizeDeltaInTokens, pos.SizeInTokens, mode)
	}
	return total, realized, sizeDeltaInTokens, nil
}

// ============================================================================
// Health
// ============================================================================

// Health is the margin breakdown of a position.
type Health struct {
	CollateralUsd  decimal.Decimal
	PnlUsd         decimal.Decimal
	ImpactUsd      decimal.Decimal
	PendingFeesUsd decimal.Decimal
	RemainingUsd   decimal.Decimal
	RequiredUsd    decimal.Decimal
}

func (h Health) OK() bool { return h.RemainingUsd.GreaterThanOrEqual(h.RequiredUsd) }

func requiredCollateralUsd(cfg *market.Config, sizeInUsd, factor decimal.Decimal) decimal.Decimal {
	return fpmath.Max(cfg.MinCollateralUsd, fpmath.ApplyFactor(sizeInUsd, factor, fpmath.RoundUp))
}

// LiquidationHealth measures a position against the liquidation threshold:
// collateral plus PnL plus the capped impact of closing, less every pending
// fee, against max(minCollateralUsd, size * minCollateralFactorForLiquidation).
func LiquidationHealth(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	pos *Position,
	now uint64,
) (Health, error) {
	cp, err := prices.Get(pos.CollateralToken)
	if err != nil {
		return Health{}, err
	}
	h := Health{CollateralUsd: pos.CollateralAmount.Mul(cp.Min)}
	if h.PnlUsd, _, _, err = PnlUsd(r, m, cfg, prices, pos, decimal.Zero); err != nil {
		return Health{}, err
	}
	if h.PendingFeesUsd, err = fees.PendingFeesUsd(r, m, cfg, prices, pos.FeeState(), now); err != nil {
		return Health{}, err
	}
	impact := pricing.PositionImpactUsd(r, m, cfg, pos.SizeInUsd.Neg(), pos.IsLong)
	impact, _ = pricing.CapNegativeImpact(impact, pos.SizeInUsd, cfg.MaxPositionImpactLiq)
	h.ImpactUsd = fpmath.Min(impact, decimal.Zero)
	h.RemainingUsd = h.CollateralUsd.Add(h.PnlUsd).Add(h.ImpactUsd).Sub(h.PendingFeesUsd)
	h.RequiredUsd = requiredCollateralUsd(cfg, pos.SizeInUsd, cfg.MinCollateralFactorLiq)
	return h, nil
}

// settledHealth measures a position whose fees were just settled. Profit is
// never counted: collateral may not be withdrawn against unrealized gains.
func settledHealth(m market.Market, cfg *market.Config, prices *oracle.PriceSet, pos *Position) (Health, error) {
	cp, err := prices.Get(pos.CollateralToken)
	if err != nil {
		return Health{}, err
	}
	index, err := prices.Get(m.IndexToken)
	if err != nil {
		return Health{}, err
	}
	h := Health{
		CollateralUsd:  pos.CollateralAmount.Mul(cp.Min),
		PnlUsd:         fpmath.Min(rawPnlUsd(pos, index), decimal.Zero),
		PendingFeesUsd: fpmath.ApplyFactor(pos.SizeInUsd, cfg.PositionFeeFactor, fpmath.RoundUp),
	}
	h.RemainingUsd = h.CollateralUsd.Add(h.PnlUsd).Sub(h.PendingFeesUsd)
	h.RequiredUsd = requiredCollateralUsd(cfg, pos.SizeInUsd, cfg.MinCollateralFactor)
	return h, nil
}
