package market

import (
	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errs.New(errs.ErrValidation, "invalid market config")

const configKind = "market_config"

// SideFactor is a factor configured separately for longs and shorts.
type SideFactor struct {
	Long  decimal.Decimal `json:"long"`
	Short decimal.Decimal `json:"short"`
}

func (s SideFactor) For(isLong bool) decimal.Decimal {
	if isLong {
		return s.Long
	}
	return s.Short
}

// ImpactFactor is a factor configured separately for helpful and harmful moves.
type ImpactFactor struct {
	Positive decimal.Decimal `json:"positive"`
	Negative decimal.Decimal `json:"negative"`
}

// Config holds every tunable of a market. Factors and USD values are scaled by
// FloatPrecision; token caps are raw token units. A zero cap disables the cap.
type Config struct {
	MaxPoolAmount          SideFactor      `json:"max_pool_amount"`
	MaxOpenInterest        SideFactor      `json:"max_open_interest"`
	ReserveFactor          SideFactor      `json:"reserve_factor"`
	MaxPnlFactorTraders    SideFactor      `json:"max_pnl_factor_traders"`
	MaxPnlFactorAdl        SideFactor      `json:"max_pnl_factor_adl"`
	MinPnlFactorAfterAdl   SideFactor      `json:"min_pnl_factor_after_adl"`
	MaxPnlFactorDeposit    SideFactor      `json:"max_pnl_factor_deposit"`
	MaxPnlFactorWithdraw   SideFactor      `json:"max_pnl_factor_withdraw"`
	BorrowingFactor        SideFactor      `json:"borrowing_factor"`
	BorrowingExponent      SideFactor      `json:"borrowing_exponent"`
	PositionImpactFactor   ImpactFactor    `json:"position_impact_factor"`
	PositionImpactExp      decimal.Decimal `json:"position_impact_exponent"`
	MaxPositionImpact      ImpactFactor    `json:"max_position_impact"`
	MaxPositionImpactLiq   decimal.Decimal `json:"max_position_impact_for_liquidations"`
	SwapImpactFactor       ImpactFactor    `json:"swap_impact_factor"`
	SwapImpactExp          decimal.Decimal `json:"swap_impact_exponent"`
	PositionFeeFactor      decimal.Decimal `json:"position_fee_factor"`
	SwapFeeFactor          decimal.Decimal `json:"swap_fee_factor"`
	PositionFeeReceiver    decimal.Decimal `json:"position_fee_receiver_factor"`
	SwapFeeReceiver        decimal.Decimal `json:"swap_fee_receiver_factor"`
	BorrowingFeeReceiver   decimal.Decimal `json:"borrowing_fee_receiver_factor"`
	FundingFactor          decimal.Decimal `json:"funding_factor"`
	FundingExponent        decimal.Decimal `json:"funding_exponent"`
	MinCollateralFactor    decimal.Decimal `json:"min_collateral_factor"`
	MinCollateralFactorLiq decimal.Decimal `json:"min_collateral_factor_for_liquidation"`
	MinCollateralUsd       decimal.Decimal `json:"min_collateral_usd"`
	MinPositionSizeUsd     decimal.Decimal `json:"min_position_size_usd"`
	// ClaimableCollateralTimeDivisor buckets withheld collateral by
	// timestamp / divisor.
	ClaimableCollateralTimeDivisor uint64 `json:"claimable_collateral_time_divisor"`
}

func (c *Config) Kind() string { return configKind }

func (c *Config) Clone() store.Record {
	cp := *c
	return &cp
}

func init() {
	store.RegisterKind(configKind, func() store.Record { return &Config{} })
}

// DefaultConfig returns a permissive configuration with no fees or impact.
func DefaultConfig() Config {
	one := fpmath.FloatPrecision
	return Config{
		ReserveFactor:                  SideFactor{Long: one, Short: one},
		MaxPnlFactorTraders:            SideFactor{Long: one, Short: one},
		MaxPnlFactorAdl:                SideFactor{Long: one, Short: one},
		MinPnlFactorAfterAdl:           SideFactor{Long: one, Short: one},
		MaxPnlFactorDeposit:            SideFactor{Long: one, Short: one},
		MaxPnlFactorWithdraw:           SideFactor{Long: one, Short: one},
		BorrowingExponent:              SideFactor{Long: one, Short: one},
		PositionImpactExp:              one,
		MaxPositionImpact:              ImpactFactor{Positive: one, Negative: one},
		MaxPositionImpactLiq:           one,
		SwapImpactExp:                  one,
		FundingExponent:                one,
		MinCollateralFactor:            fpmath.Float("0.01"),
		MinCollateralFactorLiq:         fpmath.Float("0.005"),
		ClaimableCollateralTimeDivisor: 3600,
	}
}

// Validate checks ranges. Fractions must lie in [0, 1].
func (c Config) Validate() error {
	one := fpmath.FloatPrecision
	fractions := map[string]decimal.Decimal{
		"reserve_factor.long":              c.ReserveFactor.Long,
		"reserve_factor.short":             c.ReserveFactor.Short,
		"position_fee_receiver_factor":     c.PositionFeeReceiver,
		"swap_fee_receiver_factor":         c.SwapFeeReceiver,
		"borrowing_fee_receiver_factor":    c.BorrowingFeeReceiver,
		"position_fee_factor":              c.PositionFeeFactor,
		"swap_fee_factor":                  c.SwapFeeFactor,
		"max_position_impact.positive":     c.MaxPositionImpact.Positive,
		"max_position_impact.negative":     c.MaxPositionImpact.Negative,
		"max_position_impact_liquidations": c.MaxPositionImpactLiq,
		"min_collateral_factor":            c.MinCollateralFactor,
		"min_collateral_factor_liq":        c.MinCollateralFactorLiq,
	}
	for name, v := range fractions {
		if v.Sign() < 0 || v.GreaterThan(one) {
			return errs.Wrap(ErrInvalidConfig, "%s=%s outside [0, 1]", name, v)
		}
	}
	nonNegative := map[string]decimal.Decimal{
		"funding_factor":           c.FundingFactor,
		"borrowing_factor.long":    c.BorrowingFactor.Long,
		"borrowing_factor.short":   c.BorrowingFactor.Short,
		"position_impact.positive": c.PositionImpactFactor.Positive,
		"position_impact.negative": c.PositionImpactFactor.Negative,
		"swap_impact.positive":     c.SwapImpactFactor.Positive,
		"swap_impact.negative":     c.SwapImpactFactor.Negative,
		"min_collateral_usd":       c.MinCollateralUsd,
		"min_position_size_usd":    c.MinPositionSizeUsd,
		"max_pool_amount.long":     c.MaxPoolAmount.Long,
		"max_pool_amount.short":    c.MaxPoolAmount.Short,
		"max_open_interest.long":   c.MaxOpenInterest.Long,
		"max_open_interest.short":  c.MaxOpenInterest.Short,
	}
	for name, v := range nonNegative {
		if v.Sign() < 0 {
			return errs.Wrap(ErrInvalidConfig, "%s=%s is negative", name, v)
		}
	}
	exponents := map[string]decimal.Decimal{
		"position_impact_exponent": c.PositionImpactExp,
		"swap_impact_exponent":     c.SwapImpactExp,
		"funding_exponent":         c.FundingExponent,
		"borrowing_exponent.long":  c.BorrowingExponent.Long,
		"borrowing_exponent.short": c.BorrowingExponent.Short,
	}
	for name, v := range exponents {
		if v.LessThan(one) {
			return errs.Wrap(ErrInvalidConfig, "%s=%s below 1", name, v)
		}
	}
	if c.MinPnlFactorAfterAdl.Long.GreaterThan(c.MaxPnlFactorAdl.Long) ||
		c.MinPnlFactorAfterAdl.Short.GreaterThan(c.MaxPnlFactorAdl.Short) {
		return errs.Wrap(ErrInvalidConfig, "min pnl factor after adl exceeds max pnl factor for adl")
	}
	if c.ClaimableCollateralTimeDivisor == 0 {
		return errs.Wrap(ErrInvalidConfig, "claimable_collateral_time_divisor must be positive")
	}
	return nil
}

// ConfigStore reads and writes market configuration.
type ConfigStore struct{}

func NewConfigStore() *ConfigStore { return &ConfigStore{} }

// Apply replaces a market's configuration. Requires RoleConfigKeeper.
func (s *ConfigStore) Apply(tx store.Tx, marketToken string, cfg Config) error {
	if err := tx.Capability().Require(auth.RoleConfigKeeper); err != nil {
		return err
	}
	if _, ok := tx.Record(store.MarketKey(marketToken)); !ok {
		return errs.Wrap(ErrMarketNotFound, "%s", marketToken)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return tx.SetRecord(store.MarketConfigKey(marketToken), &cfg)
}

// Load returns a market's configuration, or DefaultConfig when none is set.
func (s *ConfigStore) Load(r store.Reader, marketToken string) *Config {
	rec, ok := r.Record(store.MarketConfigKey(marketToken))
	if !ok {
		cfg := DefaultConfig()
		return &cfg
	}
	return rec.(*Config)
}
