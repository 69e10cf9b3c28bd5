package adl_test

import (
	"errors"
	"testing"

	"PoolLedger/internal/adl"
	"PoolLedger/internal/auth"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var ethUsd = market.Market{MarketToken: "GM-ETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"}

type fixture struct {
	t          *testing.T
	tx         store.Tx
	bank       *ledger.Bank
	batch      *ledger.Batch
	positions  *position.Ledger
	controller *adl.Controller
}

// newFixture seeds 100 WETH and 1M USDC and opens alice's $100k long of
// 20 ETH at $5000.
func newFixture(t *testing.T, roles ...auth.Role) *fixture {
	t.Helper()
	roles = append([]auth.Role{auth.RoleController, auth.RoleMarketKeeper, auth.RoleConfigKeeper}, roles...)
	tx, err := store.NewMemoryStore().Begin(auth.NewCapability("keeper", roles...))
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)

	registry := market.NewRegistry()
	require.NoError(t, registry.Create(tx, ethUsd))
	configs := market.NewConfigStore()
	cfg := market.DefaultConfig()
	cfg.MaxPnlFactorAdl.Long = fpmath.Float("0.05")
	cfg.MinPnlFactorAfterAdl.Long = fpmath.Float("0.02")
	require.NoError(t, configs.Apply(tx, ethUsd.MarketToken, cfg))

	bank := ledger.NewBank()
	positions := position.NewLedger(bank, configs, nil)
	f := &fixture{
		t:          t,
		tx:         tx,
		bank:       bank,
		batch:      ledger.NewBatch("test", 1, 1, 1),
		positions:  positions,
		controller: adl.NewController(registry, configs, positions, zerolog.Nop()),
	}
	f.seed("WETH", fpmath.Expand(100, 18))
	f.seed("USDC", fpmath.Expand(1_000_000, 6))

	collateral := fpmath.Expand(10_000, 6)
	require.NoError(t, bank.Transfer(tx, f.batch, ledger.ExternalAccount("gw"), ledger.MarketAccount(ethUsd.MarketToken), "USDC", collateral, ledger.JournalTypeOrderCollateral))
	_, err = positions.Increase(tx, position.IncreaseParams{
		Account:               "alice",
		Market:                ethUsd,
		CollateralToken:       "USDC",
		IsLong:                true,
		SizeDeltaUsd:          fpmath.Float("100000"),
		CollateralDeltaAmount: collateral,
		Prices:                pricesAt(5000, 1),
		Block:                 1,
		Now:                   100,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(token string, amount decimal.Decimal) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("lp"), ledger.MarketAccount(ethUsd.MarketToken), token, amount, ledger.JournalTypeLiquidityDeposit))
	_, err := market.ApplyDeltaToPoolAmount(f.tx, ethUsd, token, amount)
	require.NoError(f.t, err)
}

func (f *fixture) update(eth int64, priceBlock, block uint64) (adl.State, error) {
	return f.controller.UpdateState(f.tx, ethUsd.MarketToken, true, pricesAt(eth, priceBlock), block)
}

func (f *fixture) execute(sizeUsd string, eth int64, priceBlock, block uint64) (*position.DecreaseResult, error) {
	return f.controller.Execute(f.tx, f.batch, adl.ExecuteParams{
		Market:          ethUsd.MarketToken,
		Account:         "alice",
		CollateralToken: "USDC",
		IsLong:          true,
		SizeDeltaUsd:    fpmath.Float(sizeUsd),
		Prices:          pricesAt(eth, priceBlock),
		Block:           block,
		Now:             200,
	})
}

func (f *fixture) requireCustody() {
	f.t.Helper()
	require.NoError(f.t, ledger.NewCustodyValidator(f.bank).Validate(f.tx, ethUsd.MarketToken, ethUsd.LongToken, ethUsd.CollateralTokens()))
}

func pricesAt(eth int64, block uint64) *oracle.PriceSet {
	return &oracle.PriceSet{
		Prices: map[string]oracle.Price{
			"ETH":  oracle.NewPrice(fpmath.Expand(eth, 12)),
			"WETH": oracle.NewPrice(fpmath.Expand(eth, 12)),
			"USDC": oracle.NewPrice(fpmath.Expand(1, 24)),
		},
		MinBlock: block,
		MaxBlock: block,
	}
}

// ============================================================================
// Test: state
// ============================================================================

func TestUpdateState_Hysteresis(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)

	// $20k profit on a $600k pool: between the two thresholds
	s, err := f.update(6000, 10, 10)
	require.NoError(t, err)
	require.False(t, s.Enabled)
	require.Equal(t, uint64(10), s.LatestBlock)

	// $100k profit on a $1M pool
	s, err = f.update(10000, 20, 20)
	require.NoError(t, err)
	require.True(t, s.Enabled)

	s, err = f.update(6000, 21, 21)
	require.NoError(t, err)
	require.True(t, s.Enabled, "stays on until the min factor after adl")

	s, err = f.update(5000, 22, 22)
	require.NoError(t, err)
	require.False(t, s.Enabled)
	require.Equal(t, adl.State{Enabled: false, LatestBlock: 22}, f.controller.State(f.tx, ethUsd.MarketToken, true))
}

func TestUpdateState_RejectsPricesOlderThanLastUpdate(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)
	_, err := f.update(10000, 20, 20)
	require.NoError(t, err)

	_, err = f.update(10000, 19, 25)
	require.ErrorIs(t, err, adl.ErrStaleAdlPrices)

	_, err = f.update(10000, 26, 25)
	require.ErrorIs(t, err, oracle.ErrFuturePrice)
}

func TestUpdateState_RequiresRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.update(10000, 20, 20)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

// ============================================================================
// Test: execution
// ============================================================================

func TestExecute_ReducesPnlFactorUntilDisabled(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)
	_, err := f.update(10000, 20, 20)
	require.NoError(t, err)

	// prices from before ADL was enabled are refused
	_, err = f.execute("50000", 10000, 19, 21)
	require.ErrorIs(t, err, adl.ErrStaleAdlPrices)

	res, err := f.execute("50000", 10000, 20, 21)
	require.NoError(t, err)
	require.True(t, res.RealizedPnlUsd.Equal(fpmath.Float("50000")), "got %s", res.RealizedPnlUsd)
	require.True(t, res.SecondaryOutputAmount.Equal(fpmath.Expand(5, 18)), "got %s", res.SecondaryOutputAmount)
	require.True(t, f.bank.Balance(f.tx, ledger.UserAccount("alice"), "WETH").Equal(fpmath.Expand(5, 18)))

	// $50k of profit left against a $950k pool keeps ADL on
	require.True(t, f.controller.State(f.tx, ethUsd.MarketToken, true).Enabled)
	f.requireCustody()

	res, err = f.execute("50000", 10000, 20, 22)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.False(t, f.controller.State(f.tx, ethUsd.MarketToken, true).Enabled)
	f.requireCustody()

	_, err = f.execute("1", 10000, 20, 23)
	require.ErrorIs(t, err, adl.ErrAdlNotEnabled)
}

func TestExecute_SizeClampedToPosition(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)
	_, err := f.update(10000, 20, 20)
	require.NoError(t, err)

	res, err := f.execute("250000", 10000, 20, 21)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.True(t, res.SizeDeltaUsd.Equal(fpmath.Float("100000")))
}

func TestExecute_RequiresEnabledSide(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)
	_, err := f.execute("50000", 10000, 20, 21)
	require.True(t, errors.Is(err, adl.ErrAdlNotEnabled))
}

func TestExecute_RejectsUnprofitablePosition(t *testing.T) {
	f := newFixture(t, auth.RoleAdlKeeper)
	_, err := f.update(10000, 20, 20)
	require.NoError(t, err)

	// the same side can still hold losing positions
	_, err = f.execute("50000", 4000, 21, 21)
	require.ErrorIs(t, err, adl.ErrPositionNotProfitable)

	_, err = f.controller.Execute(f.tx, f.batch, adl.ExecuteParams{
		Market:          ethUsd.MarketToken,
		Account:         "bob",
		CollateralToken: "USDC",
		IsLong:          true,
		SizeDeltaUsd:    fpmath.Float("1"),
		Prices:          pricesAt(10000, 20),
		Block:           21,
	})
	require.ErrorIs(t, err, position.ErrPositionNotFound)
}
