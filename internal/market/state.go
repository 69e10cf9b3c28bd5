package market

import (
	"PoolLedger/internal/errs"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientPoolAmount  = errs.New(errs.ErrInsufficientLiquidity, "insufficient pool amount")
	ErrInsufficientReserve     = errs.New(errs.ErrInsufficientLiquidity, "insufficient reserve")
	ErrMaxPoolAmountExceeded   = errs.New(errs.ErrInsufficientLiquidity, "max pool amount exceeded")
	ErrMaxOpenInterestExceeded = errs.New(errs.ErrInsufficientLiquidity, "max open interest exceeded")
	ErrNegativeBucket          = errs.New(errs.ErrInvariant, "bucket would become negative")
)

var two = decimal.NewFromInt(2)

// ============================================================================
// Pool amounts
// ============================================================================

func PoolAmount(r store.Reader, m Market, token string) decimal.Decimal {
	return r.Decimal(store.PoolAmountKey(m.MarketToken, token))
}

// PoolAmountForSide returns the pool tokens backing one side. A single-token
// market splits its pool evenly between the sides.
func PoolAmountForSide(r store.Reader, m Market, isLong bool) decimal.Decimal {
	amount := PoolAmount(r, m, m.PnlToken(isLong))
	if m.IsSingleToken() {
		return fpmath.Div(amount, two, fpmath.RoundDown)
	}
	return amount
}

// PoolUsdForSide values the pool tokens backing one side.
func PoolUsdForSide(r store.Reader, m Market, prices *oracle.PriceSet, isLong, maximize bool) (decimal.Decimal, error) {
	p, err := prices.Get(m.PnlToken(isLong))
	if err != nil {
		return decimal.Zero, err
	}
	return PoolAmountForSide(r, m, isLong).Mul(p.Pick(maximize)), nil
}

// ApplyDeltaToPoolAmount changes the pool bucket of token. Draining below zero
// is a liquidity failure.
func ApplyDeltaToPoolAmount(tx store.Tx, m Market, token string, delta decimal.Decimal) (decimal.Decimal, error) {
	k := store.PoolAmountKey(m.MarketToken, token)
	next := tx.Decimal(k).Add(delta)
	if next.Sign() < 0 {
		return decimal.Zero, errs.Wrap(ErrInsufficientPoolAmount, "market %s token %s has %s, needs %s",
			m.MarketToken, token, tx.Decimal(k), delta.Neg())
	}
	return next, tx.SetDecimal(k, next)
}

// ValidateMaxPoolAmount enforces the configured cap on a token's pool bucket.
func ValidateMaxPoolAmount(r store.Reader, m Market, cfg *Config, token string) error {
	limit := cfg.MaxPoolAmount.For(token == m.LongToken)
	if limit.IsZero() {
		return nil
	}
	if amount := PoolAmount(r, m, token); amount.GreaterThan(limit) {
		return errs.Wrap(ErrMaxPoolAmountExceeded, "market %s token %s: %s > %s", m.MarketToken, token, amount, limit)
	}
	return nil
}

// ============================================================================
// Impact pools and collateral sums
// ============================================================================

func PositionImpactPoolAmount(r store.Reader, m Market) decimal.Decimal {
	return r.Decimal(store.PositionImpactPoolAmountKey(m.MarketToken))
}

func SwapImpactPoolAmount(r store.Reader, m Market, token string) decimal.Decimal {
	return r.Decimal(store.SwapImpactPoolAmountKey(m.MarketToken, token))
}

func ApplyDeltaToPositionImpactPool(tx store.Tx, m Market, delta decimal.Decimal) error {
	return addBucket(tx, store.PositionImpactPoolAmountKey(m.MarketToken), delta)
}

func ApplyDeltaToSwapImpactPool(tx store.Tx, m Market, token string, delta decimal.Decimal) error {
	return addBucket(tx, store.SwapImpactPoolAmountKey(m.MarketToken, token), delta)
}

func CollateralSum(r store.Reader, m Market, collateralToken string, isLong bool) decimal.Decimal {
	return r.Decimal(store.CollateralSumKey(m.MarketToken, collateralToken, isLong))
}

func ApplyDeltaToCollateralSum(tx store.Tx, m Market, collateralToken string, isLong bool, delta decimal.Decimal) error {
	return addBucket(tx, store.CollateralSumKey(m.MarketToken, collateralToken, isLong), delta)
}

// MoveBucket is a value-neutral reassignment of custodied tokens between two
// buckets of the same market.
func MoveBucket(tx store.Tx, fromKey, toKey string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if err := addBucket(tx, fromKey, amount.Neg()); err != nil {
		return err
	}
	return addBucket(tx, toKey, amount)
}

func addBucket(tx store.Tx, k string, delta decimal.Decimal) error {
	next := tx.Decimal(k).Add(delta)
	if next.Sign() < 0 {
		return errs.Wrap(ErrNegativeBucket, "%s: %s + %s", k, tx.Decimal(k), delta)
	}
	return tx.SetDecimal(k, next)
}

// ============================================================================
// Open interest
// ============================================================================

func OpenInterest(r store.Reader, m Market, collateralToken string, isLong bool) decimal.Decimal {
	return r.Decimal(store.OpenInterestKey(m.MarketToken, collateralToken, isLong))
}

// OpenInterestForSide sums a side's open interest across collateral tokens.
func OpenInterestForSide(r store.Reader, m Market, isLong bool) decimal.Decimal {
	total := decimal.Zero
	for _, t := range m.CollateralTokens() {
		total = total.Add(OpenInterest(r, m, t, isLong))
	}
	return total
}

func OpenInterestInTokensForSide(r store.Reader, m Market, isLong bool) decimal.Decimal {
	total := decimal.Zero
	for _, t := range m.CollateralTokens() {
		total = total.Add(r.Decimal(store.OpenInterestInTokensKey(m.MarketToken, t, isLong)))
	}
	return total
}

// ApplyDeltaToOpenInterest moves open interest in USD and index tokens. An
// increase is checked against the configured cap.
func ApplyDeltaToOpenInterest(
	tx store.Tx,
	m Market,
	cfg *Config,
	collateralToken string,
	isLong bool,
	deltaUsd, deltaTokens decimal.Decimal,
) error {
	if err := addBucket(tx, store.OpenInterestKey(m.MarketToken, collateralToken, isLong), deltaUsd); err != nil {
		return err
	}
	if err := addBucket(tx, store.OpenInterestInTokensKey(m.MarketToken, collateralToken, isLong), deltaTokens); err != nil {
		return err
	}
	if deltaUsd.Sign() > 0 {
		limit := cfg.MaxOpenInterest.For(isLong)
		if oi := OpenInterestForSide(tx, m, isLong); !limit.IsZero() && oi.GreaterThan(limit) {
			return errs.Wrap(ErrMaxOpenInterestExceeded, "market %s: %s > %s", m.MarketToken, oi, limit)
		}
	}
	return nil
}

// ============================================================================
// Reserve and PnL
// ============================================================================

// ReservedUsd is the USD the pool must hold back for a side: the current value
// of long exposure, or the entry notional of short exposure.
func ReservedUsd(r store.Reader, m Market, prices *oracle.PriceSet, isLong bool) (decimal.Decimal, error) {
	if !isLong {
		return OpenInterestForSide(r, m, false), nil
	}
	index, err := prices.Get(m.IndexToken)
	if err != nil {
		return decimal.Zero, err
	}
	return OpenInterestInTokensForSide(r, m, true).Mul(index.Max), nil
}

// ValidateReserve checks reserved USD against poolUsd * reserveFactor.
func ValidateReserve(r store.Reader, m Market, cfg *Config, prices *oracle.PriceSet, isLong bool) error {
	poolUsd, err := PoolUsdForSide(r, m, prices, isLong, false)
	if err != nil {
		return err
	}
	reserved, err := ReservedUsd(r, m, prices, isLong)
	if err != nil {
		return err
	}
	maxReserved := fpmath.ApplyFactor(poolUsd, cfg.ReserveFactor.For(isLong), fpmath.RoundDown)
	if reserved.GreaterThan(maxReserved) {
		return errs.Wrap(ErrInsufficientReserve, "market %s %s: reserved %s > %s",
			m.MarketToken, sideName(isLong), reserved, maxReserved)
	}
	return nil
}

// Pnl returns the aggregate trader PnL of a side at indexPrice.
func Pnl(r store.Reader, m Market, indexPrice decimal.Decimal, isLong bool) decimal.Decimal {
	oi := OpenInterestForSide(r, m, isLong)
	value := OpenInterestInTokensForSide(r, m, isLong).Mul(indexPrice)
	if isLong {
		return value.Sub(oi)
	}
	return oi.Sub(value)
}

func sideName(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}
