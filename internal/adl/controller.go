// Package adl decides when a market side must be auto-deleveraged and forces
// partial closes of profitable positions while it is.
package adl

import (
	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrAdlNotEnabled         = errs.New(errs.ErrValidation, "adl not enabled")
	ErrStaleAdlPrices        = errs.New(errs.ErrStalePrice, "oracle prices older than latest adl update")
	ErrPositionNotProfitable = errs.New(errs.ErrValidation, "position is not profitable")
	ErrPnlFactorNotReduced   = errs.New(errs.ErrValidation, "adl did not reduce pnl factor")
	ErrInvalidAdlSizeDelta   = errs.New(errs.ErrValidation, "invalid adl size delta")
)

// State is the ADL flag of one market side and the block it was last
// evaluated at.
type State struct {
	Enabled     bool   `json:"enabled"`
	LatestBlock uint64 `json:"latest_block"`
}

// GetState reads the ADL state of a market side.
func GetState(r store.Reader, marketToken string, isLong bool) State {
	return State{
		Enabled:     r.Bool(store.AdlEnabledKey(marketToken, isLong)),
		LatestBlock: r.Uint64(store.LatestAdlBlockKey(marketToken, isLong)),
	}
}

func setState(tx store.Tx, marketToken string, isLong bool, s State) error {
	if err := tx.SetBool(store.AdlEnabledKey(marketToken, isLong), s.Enabled); err != nil {
		return err
	}
	return tx.SetUint64(store.LatestAdlBlockKey(marketToken, isLong), s.LatestBlock)
}

type Controller struct {
	registry  *market.Registry
	configs   *market.ConfigStore
	positions *position.Ledger
	logger    zerolog.Logger
}

func NewController(registry *market.Registry, configs *market.ConfigStore, positions *position.Ledger, logger zerolog.Logger) *Controller {
	return &Controller{registry: registry, configs: configs, positions: positions, logger: logger}
}

// State returns the ADL state of a market side.
func (c *Controller) State(r store.Reader, marketToken string, isLong bool) State {
	return GetState(r, marketToken, isLong)
}

// UpdateState re-evaluates a side. ADL switches on once the side's PnL to pool
// factor exceeds the max ADL factor and off once it drops to the min factor
// after ADL; in between the flag keeps its value. Prices must be no older
// than the previous update. Requires RoleAdlKeeper.
func (c *Controller) UpdateState(tx store.Tx, marketToken string, isLong bool, prices *oracle.PriceSet, block uint64) (State, error) {
	if err := tx.Capability().Require(auth.RoleAdlKeeper); err != nil {
		return State{}, err
	}
	m, err := c.registry.Get(tx, marketToken)
	if err != nil {
		return State{}, err
	}
	prev := GetState(tx, marketToken, isLong)
	if err := validatePrices(prices, block, prev); err != nil {
		return State{}, err
	}
	cfg := c.configs.Load(tx, marketToken)
	factor, err := pool.PnlToPoolFactor(tx, m, prices, isLong, true)
	if err != nil {
		return State{}, err
	}

	next := State{Enabled: prev.Enabled, LatestBlock: block}
	switch {
	case factor.GreaterThan(cfg.MaxPnlFactorAdl.For(isLong)):
		next.Enabled = true
	case factor.LessThanOrEqual(cfg.MinPnlFactorAfterAdl.For(isLong)):
		next.Enabled = false
	}
	if err := setState(tx, marketToken, isLong, next); err != nil {
		return State{}, err
	}
	if next.Enabled != prev.Enabled {
		c.logger.Info().
			Str("market", marketToken).
			Bool("is_long", isLong).
			Bool("enabled", next.Enabled).
			Str("pnl_factor", factor.String()).
			Uint64("block", block).
			Msg("adl state changed")
	}
	return next, nil
}

type ExecuteParams struct {
	Market          string
	Account         string
	CollateralToken string
	IsLong          bool
	SizeDeltaUsd    decimal.Decimal
	Prices          *oracle.PriceSet
	Block           uint64
	Now             uint64
}

// Execute force-closes part of a profitable position on an ADL-enabled side.
// The close must lower the side's PnL factor; once it falls to the min factor
// after ADL the side is switched off. Requires RoleAdlKeeper.
func (c *Controller) Execute(tx store.Tx, batch *ledger.Batch, p ExecuteParams) (*position.DecreaseResult, error) {
	if err := tx.Capability().Require(auth.RoleAdlKeeper); err != nil {
		return nil, err
	}
	m, err := c.registry.Get(tx, p.Market)
	if err != nil {
		return nil, err
	}
	state := GetState(tx, p.Market, p.IsLong)
	if !state.Enabled {
		return nil, errs.Wrap(ErrAdlNotEnabled, "market %s is_long=%t", p.Market, p.IsLong)
	}
	if err := validatePrices(p.Prices, p.Block, state); err != nil {
		return nil, err
	}
	if p.SizeDeltaUsd.Sign() <= 0 {
		return nil, errs.Wrap(ErrInvalidAdlSizeDelta, "%s", p.SizeDeltaUsd)
	}

	key := position.Key(p.Account, p.Market, p.CollateralToken, p.IsLong)
	pos, ok := position.Get(tx, key)
	if !ok {
		return nil, errs.Wrap(position.ErrPositionNotFound, "%s", key)
	}
	cfg := c.configs.Load(tx, p.Market)
	pnl, _, _, err := position.PnlUsd(tx, m, cfg, p.Prices, pos, decimal.Zero)
	if err != nil {
		return nil, err
	}
	if pnl.Sign() <= 0 {
		return nil, errs.Wrap(ErrPositionNotProfitable, "%s pnl %s", key, pnl)
	}

	before, err := pool.PnlToPoolFactor(tx, m, p.Prices, p.IsLong, true)
	if err != nil {
		return nil, err
	}
	size := p.SizeDeltaUsd
	if size.GreaterThan(pos.SizeInUsd) {
		size = pos.SizeInUsd
	}
	res, err := c.positions.Decrease(tx, batch, position.DecreaseParams{
		Account:         p.Account,
		Market:          m,
		CollateralToken: p.CollateralToken,
		IsLong:          p.IsLong,
		SizeDeltaUsd:    size,
		Receiver:        ledger.UserAccount(p.Account),
		Prices:          p.Prices,
		Block:           p.Block,
		Now:             p.Now,
		Adl:             true,
	})
	if err != nil {
		return nil, err
	}

	after, err := pool.PnlToPoolFactor(tx, m, p.Prices, p.IsLong, true)
	if err != nil {
		return nil, err
	}
	if !after.LessThan(before) {
		return nil, errs.Wrap(ErrPnlFactorNotReduced, "market %s: %s -> %s", p.Market, before, after)
	}
	if after.LessThanOrEqual(cfg.MinPnlFactorAfterAdl.For(p.IsLong)) {
		state.Enabled = false
		if err := setState(tx, p.Market, p.IsLong, state); err != nil {
			return nil, err
		}
		c.logger.Info().Str("market", p.Market).Bool("is_long", p.IsLong).Str("pnl_factor", after.String()).Msg("adl disabled after execution")
	}
	return res, nil
}

// validatePrices requires a settled price set from no earlier than the block
// the side's ADL state was last written at.
func validatePrices(prices *oracle.PriceSet, block uint64, s State) error {
	if err := prices.Validate(block); err != nil {
		return err
	}
	if prices.MinBlock < s.LatestBlock {
		return errs.Wrap(ErrStaleAdlPrices, "min block %d < latest adl block %d", prices.MinBlock, s.LatestBlock)
	}
	return nil
}
