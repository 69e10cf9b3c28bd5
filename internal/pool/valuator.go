// Package pool values a market's liquidity and moves it: deposits and
// withdrawals mint and burn market tokens, swaps trade one pool token for the
// other.
package pool

import (
	"PoolLedger/internal/errs"
	"PoolLedger/internal/fees"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePoolValue = errs.New(errs.ErrSolvency, "pool value is negative")
	ErrPnlFactorExceeded = errs.New(errs.ErrSolvency, "pnl to pool factor exceeded")
)

// PnlFactorType selects which max PnL factor caps trader profit when the
// pool is valued.
type PnlFactorType int

const (
	PnlFactorTraders PnlFactorType = iota
	PnlFactorDeposit
	PnlFactorWithdraw
	PnlFactorAdl
)

func (t PnlFactorType) String() string {
	switch t {
	case PnlFactorDeposit:
		return "deposit"
	case PnlFactorWithdraw:
		return "withdraw"
	case PnlFactorAdl:
		return "adl"
	default:
		return "traders"
	}
}

func (t PnlFactorType) factor(cfg *market.Config, isLong bool) decimal.Decimal {
	switch t {
	case PnlFactorDeposit:
		return cfg.MaxPnlFactorDeposit.For(isLong)
	case PnlFactorWithdraw:
		return cfg.MaxPnlFactorWithdraw.For(isLong)
	case PnlFactorAdl:
		return cfg.MaxPnlFactorAdl.For(isLong)
	default:
		return cfg.MaxPnlFactorTraders.For(isLong)
	}
}

// PoolValueInfo is the breakdown of a pool valuation.
type PoolValueInfo struct {
	PoolValue decimal.Decimal `json:"pool_value"`

	LongTokenAmount  decimal.Decimal `json:"long_token_amount"`
	ShortTokenAmount decimal.Decimal `json:"short_token_amount"`
	LongTokenUsd     decimal.Decimal `json:"long_token_usd"`
	ShortTokenUsd    decimal.Decimal `json:"short_token_usd"`

	PositionImpactPoolAmount decimal.Decimal `json:"position_impact_pool_amount"`
	ImpactPoolUsd            decimal.Decimal `json:"impact_pool_usd"`

	TotalBorrowingFees     decimal.Decimal `json:"total_borrowing_fees"`
	BorrowingFeePoolFactor decimal.Decimal `json:"borrowing_fee_pool_factor"`

	LongPnl  decimal.Decimal `json:"long_pnl"`
	ShortPnl decimal.Decimal `json:"short_pnl"`
	NetPnl   decimal.Decimal `json:"net_pnl"`
}

// PoolValue values a market's pool:
//
//	pool token value + impact pool value + pool share of pending borrowing
//	fees - capped net trader PnL
//
// A token backing both sides is counted once. The fee receiver's share of
// pending borrowing fees is left out; it never belongs to the pool.
func PoolValue(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	pnlFactorType PnlFactorType,
	maximize bool,
	now uint64,
) (*PoolValueInfo, error) {
	if err := prices.Require(m.IndexToken, m.LongToken, m.ShortToken); err != nil {
		return nil, err
	}
	longPrice, _ := prices.Get(m.LongToken)
	shortPrice, _ := prices.Get(m.ShortToken)
	index, _ := prices.Get(m.IndexToken)

	info := &PoolValueInfo{
		LongTokenAmount: market.PoolAmount(r, m, m.LongToken),
	}
	info.LongTokenUsd = info.LongTokenAmount.Mul(longPrice.Pick(maximize))
	if m.IsSingleToken() {
		info.ShortTokenAmount = decimal.Zero
		info.ShortTokenUsd = decimal.Zero
	} else {
		info.ShortTokenAmount = market.PoolAmount(r, m, m.ShortToken)
		info.ShortTokenUsd = info.ShortTokenAmount.Mul(shortPrice.Pick(maximize))
	}
	info.PoolValue = info.LongTokenUsd.Add(info.ShortTokenUsd)

	// reserves held in impact pools
	info.PositionImpactPoolAmount = market.PositionImpactPoolAmount(r, m)
	info.ImpactPoolUsd = info.PositionImpactPoolAmount.Mul(longPrice.Pick(maximize))
	for _, t := range m.CollateralTokens() {
		p, _ := prices.Get(t)
		info.ImpactPoolUsd = info.ImpactPoolUsd.Add(market.SwapImpactPoolAmount(r, m, t).Mul(p.Pick(maximize)))
	}
	info.PoolValue = info.PoolValue.Add(info.ImpactPoolUsd)

	info.TotalBorrowingFees = decimal.Zero
	for _, isLong := range []bool{true, false} {
		cum, _, err := fees.NextCumulativeBorrowingFactor(r, m, cfg, prices, isLong, now)
		if err != nil {
			return nil, err
		}
		info.TotalBorrowingFees = info.TotalBorrowingFees.Add(fees.TotalPendingBorrowingFees(r, m, isLong, cum))
	}
	info.BorrowingFeePoolFactor = fpmath.FloatPrecision.Sub(cfg.BorrowingFeeReceiver)
	info.PoolValue = info.PoolValue.Add(fpmath.ApplyFactor(info.TotalBorrowingFees, info.BorrowingFeePoolFactor, fpmath.RoundDown))

	// a maximized pool value takes the trader-minimizing side of the pnl
	var err error
	if info.LongPnl, err = CappedPnl(r, m, cfg, prices, index, true, pnlFactorType, !maximize); err != nil {
		return nil, err
	}
	if info.ShortPnl, err = CappedPnl(r, m, cfg, prices, index, false, pnlFactorType, !maximize); err != nil {
		return nil, err
	}
	info.NetPnl = info.LongPnl.Add(info.ShortPnl)
	info.PoolValue = info.PoolValue.Sub(info.NetPnl)
	return info, nil
}

// CappedPnl returns a side's aggregate PnL with profit capped at
// poolUsd * maxPnlFactor for the given factor type.
func CappedPnl(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	index oracle.Price,
	isLong bool,
	pnlFactorType PnlFactorType,
	maximize bool,
) (decimal.Decimal, error) {
	pnl := market.Pnl(r, m, index.PickForPnl(isLong, maximize), isLong)
	if pnl.Sign() <= 0 {
		return pnl, nil
	}
	poolUsd, err := market.PoolUsdForSide(r, m, prices, isLong, !maximize)
	if err != nil {
		return decimal.Zero, err
	}
	maxPnl := fpmath.ApplyFactor(poolUsd, pnlFactorType.factor(cfg, isLong), fpmath.RoundDown)
	return fpmath.Min(pnl, maxPnl), nil
}

// MarketTokenPrice returns the USD value of one raw market token unit. An
// empty pool prices the token at $1 per whole token.
func MarketTokenPrice(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	pnlFactorType PnlFactorType,
	maximize bool,
	now uint64,
) (decimal.Decimal, *PoolValueInfo, error) {
	info, err := PoolValue(r, m, cfg, prices, pnlFactorType, maximize, now)
	if err != nil {
		return decimal.Zero, nil, err
	}
	supply := r.Decimal(store.MarketTokenSupplyKey(m.MarketToken))
	if supply.IsZero() {
		return fpmath.Div(fpmath.FloatPrecision, fpmath.WeiPrecision, fpmath.RoundDown), info, nil
	}
	if info.PoolValue.Sign() <= 0 {
		return decimal.Zero, info, nil
	}
	return fpmath.Div(info.PoolValue, supply, fpmath.RoundDown), info, nil
}

// PnlToPoolFactor returns a side's uncapped PnL as a signed factor of the
// pool USD backing it.
func PnlToPoolFactor(
	r store.Reader,
	m market.Market,
	prices *oracle.PriceSet,
	isLong, maximize bool,
) (decimal.Decimal, error) {
	index, err := prices.Get(m.IndexToken)
	if err != nil {
		return decimal.Zero, err
	}
	poolUsd, err := market.PoolUsdForSide(r, m, prices, isLong, !maximize)
	if err != nil {
		return decimal.Zero, err
	}
	if poolUsd.IsZero() {
		return decimal.Zero, nil
	}
	pnl := market.Pnl(r, m, index.PickForPnl(isLong, maximize), isLong)
	return fpmath.ToFactor(pnl, poolUsd, fpmath.RoundDown), nil
}

// ValidateMaxPnl rejects a state where either side's PnL exceeds the max PnL
// factor of the given type.
func ValidateMaxPnl(r store.Reader, m market.Market, cfg *market.Config, prices *oracle.PriceSet, pnlFactorType PnlFactorType) error {
	for _, isLong := range []bool{true, false} {
		factor, err := PnlToPoolFactor(r, m, prices, isLong, true)
		if err != nil {
			return err
		}
		if limit := pnlFactorType.factor(cfg, isLong); factor.GreaterThan(limit) {
			return errs.Wrap(ErrPnlFactorExceeded, "market %s %s: %s > %s (%s)",
				m.MarketToken, sideName(isLong), factor, limit, pnlFactorType)
		}
	}
	return nil
}

// ValidateSolvency requires the minimized pool value to stay non-negative.
func ValidateSolvency(r store.Reader, m market.Market, cfg *market.Config, prices *oracle.PriceSet, now uint64) error {
	info, err := PoolValue(r, m, cfg, prices, PnlFactorTraders, false, now)
	if err != nil {
		return err
	}
	if info.PoolValue.Sign() < 0 {
		return errs.Wrap(ErrNegativePoolValue, "market %s: %s", m.MarketToken, info.PoolValue)
	}
	return nil
}

func sideName(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}
