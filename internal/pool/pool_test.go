package pool_test

import (
	"errors"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	ethUsd  = market.Market{MarketToken: "GM-ETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"}
	ethUsd2 = market.Market{MarketToken: "GM-ETH-2", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"}
	ethEth  = market.Market{MarketToken: "GM-WETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "WETH"}
)

type fixture struct {
	t       *testing.T
	tx      store.Tx
	bank    *ledger.Bank
	batch   *ledger.Batch
	configs *market.ConfigStore
	pools   *pool.Manager
}

func newFixture(t *testing.T, markets ...market.Market) *fixture {
	t.Helper()
	tx, err := store.NewMemoryStore().Begin(auth.NewCapability("keeper", auth.RoleController, auth.RoleMarketKeeper, auth.RoleConfigKeeper))
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)

	registry := market.NewRegistry()
	for _, m := range markets {
		require.NoError(t, registry.Create(tx, m))
	}
	bank := ledger.NewBank()
	configs := market.NewConfigStore()
	return &fixture{
		t:       t,
		tx:      tx,
		bank:    bank,
		batch:   ledger.NewBatch("test", 1, 1, 1),
		configs: configs,
		pools:   pool.NewManager(bank, registry, configs),
	}
}

func (f *fixture) fund(account, token string, amount decimal.Decimal) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("gw"), ledger.UserAccount(account), token, amount, ledger.JournalTypeExternalDeposit))
}

// seed adds liquidity straight into the pool bucket with matching custody.
func (f *fixture) seed(m market.Market, token string, amount decimal.Decimal) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("lp"), ledger.MarketAccount(m.MarketToken), token, amount, ledger.JournalTypeLiquidityDeposit))
	_, err := market.ApplyDeltaToPoolAmount(f.tx, m, token, amount)
	require.NoError(f.t, err)
}

func (f *fixture) deposit(m market.Market, account string, weth, usdcAmount decimal.Decimal) (*pool.DepositResult, error) {
	f.t.Helper()
	f.fund(account, m.LongToken, weth)
	if !m.IsSingleToken() {
		f.fund(account, m.ShortToken, usdcAmount)
	}
	return f.pools.Deposit(f.tx, f.batch, pool.DepositParams{
		Account:          account,
		Receiver:         account,
		Market:           m.MarketToken,
		LongTokenAmount:  weth,
		ShortTokenAmount: usdcAmount,
		Prices:           pricesAt(5000),
		Now:              100,
	})
}

func (f *fixture) applyConfig(m market.Market, cfg market.Config) {
	f.t.Helper()
	require.NoError(f.t, f.configs.Apply(f.tx, m.MarketToken, cfg))
}

func (f *fixture) requireCustody(m market.Market) {
	f.t.Helper()
	require.NoError(f.t, ledger.NewCustodyValidator(f.bank).Validate(f.tx, m.MarketToken, m.LongToken, m.CollateralTokens()))
}

func pricesAt(eth int64) *oracle.PriceSet {
	return &oracle.PriceSet{Prices: map[string]oracle.Price{
		"ETH":  oracle.NewPrice(fpmath.Expand(eth, 12)),
		"WETH": oracle.NewPrice(fpmath.Expand(eth, 12)),
		"USDC": oracle.NewPrice(fpmath.Expand(1, 24)),
	}}
}

func weth(n int64) decimal.Decimal { return fpmath.Expand(n, 18) }
func usdc(n int64) decimal.Decimal { return fpmath.Expand(n, 6) }

func requireEqual(t *testing.T, want, got decimal.Decimal, label string) {
	t.Helper()
	require.True(t, want.Equal(got), "%s: want %s, got %s", label, want, got)
}

// ============================================================================
// Test: valuation
// ============================================================================

func TestDeposit_FirstDepositMintsAtOneDollar(t *testing.T) {
	f := newFixture(t, ethUsd)
	res, err := f.deposit(ethUsd, "alice", weth(1000), usdc(5_000_000))
	require.NoError(t, err)

	// $10M deposited at $1 per whole market token
	requireEqual(t, fpmath.Expand(1, 25), res.MarketTokensMinted, "minted")
	requireEqual(t, fpmath.Expand(1, 25), pool.MarketTokenBalance(f.tx, ethUsd.MarketToken, "alice"), "balance")
	requireEqual(t, fpmath.Expand(1, 25), pool.MarketTokenSupply(f.tx, ethUsd.MarketToken), "supply")

	price, info, err := pool.MarketTokenPrice(f.tx, ethUsd, f.configs.Load(f.tx, ethUsd.MarketToken), pricesAt(5000), pool.PnlFactorTraders, true, 100)
	require.NoError(t, err)
	requireEqual(t, fpmath.Expand(1, 12), price, "market token price")
	requireEqual(t, fpmath.Float("10000000"), info.PoolValue, "pool value")
	f.requireCustody(ethUsd)
}

func TestMarketTokenPrice_EmptyPool(t *testing.T) {
	f := newFixture(t, ethUsd)
	price, _, err := pool.MarketTokenPrice(f.tx, ethUsd, f.configs.Load(f.tx, ethUsd.MarketToken), pricesAt(5000), pool.PnlFactorTraders, false, 100)
	require.NoError(t, err)
	requireEqual(t, fpmath.Expand(1, 12), price, "price")
}

func TestPoolValue_SameTokenMarketCountsPoolOnce(t *testing.T) {
	f := newFixture(t, ethEth)
	res, err := f.deposit(ethEth, "alice", weth(10), decimal.Zero)
	require.NoError(t, err)
	requireEqual(t, fpmath.Expand(5, 22), res.MarketTokensMinted, "minted")

	info, err := pool.PoolValue(f.tx, ethEth, f.configs.Load(f.tx, ethEth.MarketToken), pricesAt(5000), pool.PnlFactorTraders, true, 100)
	require.NoError(t, err)
	requireEqual(t, fpmath.Float("50000"), info.PoolValue, "pool value")
	requireEqual(t, decimal.Zero, info.ShortTokenUsd, "short usd")
	f.requireCustody(ethEth)
}

func TestPoolValue_ExcludesBorrowingFeeReceiverShare(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.seed(ethUsd, "WETH", weth(100))
	f.seed(ethUsd, "USDC", usdc(1_000_000))
	cfg := market.DefaultConfig()
	cfg.BorrowingFeeReceiver = fpmath.Float("0.4")
	f.applyConfig(ethUsd, cfg)

	// $100k long open at 5000 with 1% accrued and nothing settled
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestKey(ethUsd.MarketToken, "USDC", true), fpmath.Float("100000")))
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestInTokensKey(ethUsd.MarketToken, "USDC", true), weth(20)))
	require.NoError(t, f.tx.SetDecimal(store.CumulativeBorrowingFactorKey(ethUsd.MarketToken, true), fpmath.Float("0.01")))

	info, err := pool.PoolValue(f.tx, ethUsd, f.configs.Load(f.tx, ethUsd.MarketToken), pricesAt(5000), pool.PnlFactorTraders, true, 100)
	require.NoError(t, err)
	requireEqual(t, fpmath.Float("1000"), info.TotalBorrowingFees, "pending borrowing")
	requireEqual(t, fpmath.Float("1500600"), info.PoolValue, "pool value")
}

func TestPnlToPoolFactor_AndMaxPnl(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.seed(ethUsd, "WETH", weth(100))
	f.seed(ethUsd, "USDC", usdc(1_000_000))
	cfg := market.DefaultConfig()
	cfg.MaxPnlFactorAdl = market.SideFactor{Long: fpmath.Float("0.1"), Short: fpmath.Float("0.1")}
	cfg.MinPnlFactorAfterAdl = market.SideFactor{Long: fpmath.Float("0.05"), Short: fpmath.Float("0.05")}
	f.applyConfig(ethUsd, cfg)

	// longs entered $100k of notional now worth $200k
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestKey(ethUsd.MarketToken, "USDC", true), fpmath.Float("100000")))
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestInTokensKey(ethUsd.MarketToken, "USDC", true), weth(40)))

	factor, err := pool.PnlToPoolFactor(f.tx, ethUsd, pricesAt(5000), true, true)
	require.NoError(t, err)
	requireEqual(t, fpmath.Float("0.2"), factor, "long pnl factor")

	loaded := f.configs.Load(f.tx, ethUsd.MarketToken)
	err = pool.ValidateMaxPnl(f.tx, ethUsd, loaded, pricesAt(5000), pool.PnlFactorAdl)
	require.True(t, errors.Is(err, errs.ErrSolvency), "got %v", err)
	require.NoError(t, pool.ValidateMaxPnl(f.tx, ethUsd, loaded, pricesAt(5000), pool.PnlFactorTraders))
}

// ============================================================================
// Test: deposit
// ============================================================================

func TestDeposit_FeeReceiverShareIsClaimable(t *testing.T) {
	f := newFixture(t, ethUsd)
	cfg := market.DefaultConfig()
	cfg.SwapFeeFactor = fpmath.Float("0.001")
	cfg.SwapFeeReceiver = fpmath.Float("0.5")
	f.applyConfig(ethUsd, cfg)

	res, err := f.deposit(ethUsd, "alice", weth(1000), decimal.Zero)
	require.NoError(t, err)

	requireEqual(t, weth(1), res.LongTokenFee, "fee")
	// 999 WETH after fees at $5000
	requireEqual(t, fpmath.ExpandString("4.995", 24), res.MarketTokensMinted, "minted")
	requireEqual(t, fpmath.ExpandString("999.5", 18), market.PoolAmount(f.tx, ethUsd, "WETH"), "pool")
	requireEqual(t, fpmath.ExpandString("0.5", 18), f.tx.Decimal(store.ClaimableFeeAmountKey(ethUsd.MarketToken, "WETH")), "claimable fee")
	f.requireCustody(ethUsd)
}

func TestDeposit_MinMarketTokens(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.fund("alice", "USDC", usdc(1000))
	_, err := f.pools.Deposit(f.tx, f.batch, pool.DepositParams{
		Account:          "alice",
		Receiver:         "alice",
		Market:           ethUsd.MarketToken,
		ShortTokenAmount: usdc(1000),
		MinMarketTokens:  weth(1001),
		Prices:           pricesAt(5000),
		Now:              100,
	})
	require.True(t, errors.Is(err, errs.ErrInsufficientOutput), "got %v", err)
}

func TestDeposit_Empty(t *testing.T) {
	f := newFixture(t, ethUsd)
	_, err := f.deposit(ethUsd, "alice", decimal.Zero, decimal.Zero)
	require.True(t, errors.Is(err, errs.ErrValidation), "got %v", err)
}

// ============================================================================
// Test: withdraw
// ============================================================================

func TestWithdraw_ProRataOutput(t *testing.T) {
	f := newFixture(t, ethUsd)
	_, err := f.deposit(ethUsd, "alice", weth(1000), usdc(5_000_000))
	require.NoError(t, err)

	res, err := f.pools.Withdraw(f.tx, f.batch, pool.WithdrawParams{
		Account:           "alice",
		Receiver:          "alice",
		Market:            ethUsd.MarketToken,
		MarketTokenAmount: fpmath.Expand(5, 24),
		Prices:            pricesAt(5000),
		Now:               100,
	})
	require.NoError(t, err)
	requireEqual(t, weth(500), res.LongTokenAmount, "weth out")
	requireEqual(t, usdc(2_500_000), res.ShortTokenAmount, "usdc out")
	requireEqual(t, fpmath.Expand(5, 24), pool.MarketTokenBalance(f.tx, ethUsd.MarketToken, "alice"), "balance")
	requireEqual(t, weth(500), f.bank.Balance(f.tx, ledger.UserAccount("alice"), "WETH"), "alice weth")
	requireEqual(t, weth(500), market.PoolAmount(f.tx, ethUsd, "WETH"), "pool weth")
	f.requireCustody(ethUsd)
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	f := newFixture(t, ethUsd)
	_, err := f.deposit(ethUsd, "alice", weth(1), decimal.Zero)
	require.NoError(t, err)

	_, err = f.pools.Withdraw(f.tx, f.batch, pool.WithdrawParams{
		Account:           "bob",
		Receiver:          "bob",
		Market:            ethUsd.MarketToken,
		MarketTokenAmount: weth(1),
		Prices:            pricesAt(5000),
		Now:               100,
	})
	require.True(t, errors.Is(err, pool.ErrInsufficientMarketTokens), "got %v", err)
}

func TestWithdraw_MinOutput(t *testing.T) {
	f := newFixture(t, ethUsd)
	_, err := f.deposit(ethUsd, "alice", weth(1000), usdc(5_000_000))
	require.NoError(t, err)

	_, err = f.pools.Withdraw(f.tx, f.batch, pool.WithdrawParams{
		Account:            "alice",
		Receiver:           "alice",
		Market:             ethUsd.MarketToken,
		MarketTokenAmount:  fpmath.Expand(5, 24),
		MinLongTokenAmount: weth(501),
		Prices:             pricesAt(5000),
		Now:                100,
	})
	require.True(t, errors.Is(err, errs.ErrInsufficientOutput), "got %v", err)
}

func TestWithdraw_RejectedWhenPoolValueNegative(t *testing.T) {
	f := newFixture(t, ethUsd)
	cfg := market.DefaultConfig()
	cfg.MaxPnlFactorWithdraw = market.SideFactor{Long: fpmath.Float("10"), Short: fpmath.Float("10")}
	f.applyConfig(ethUsd, cfg)
	_, err := f.deposit(ethUsd, "alice", weth(1000), usdc(5_000_000))
	require.NoError(t, err)

	// trader profit of $14.9M against a $10M pool
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestKey(ethUsd.MarketToken, "USDC", true), fpmath.Float("100000")))
	require.NoError(t, f.tx.SetDecimal(store.OpenInterestInTokensKey(ethUsd.MarketToken, "USDC", true), weth(3000)))

	_, err = f.pools.Withdraw(f.tx, f.batch, pool.WithdrawParams{
		Account:           "alice",
		Receiver:          "alice",
		Market:            ethUsd.MarketToken,
		MarketTokenAmount: fpmath.Expand(1, 24),
		Prices:            pricesAt(5000),
		Now:               100,
	})
	require.True(t, errors.Is(err, errs.ErrSolvency), "got %v", err)

	// the traders' factor caps profit at the long pool value
	require.NoError(t, pool.ValidateSolvency(f.tx, ethUsd, f.configs.Load(f.tx, ethUsd.MarketToken), pricesAt(5000), 100))
}

// ============================================================================
// Test: swap
// ============================================================================

func TestSwap_ReturnsOppositeToken(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.seed(ethUsd, "WETH", weth(100))
	f.seed(ethUsd, "USDC", usdc(1_000_000))
	f.fund("bob", "USDC", usdc(5000))

	res, err := f.pools.Swap(f.tx, f.batch, pool.SwapParams{
		Market:   ethUsd.MarketToken,
		TokenIn:  "USDC",
		AmountIn: usdc(5000),
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("bob"),
		Prices:   pricesAt(5000),
	})
	require.NoError(t, err)
	require.Equal(t, "WETH", res.TokenOut)
	requireEqual(t, weth(1), res.AmountOut, "out")
	requireEqual(t, weth(99), market.PoolAmount(f.tx, ethUsd, "WETH"), "pool weth")
	requireEqual(t, usdc(1_005_000), market.PoolAmount(f.tx, ethUsd, "USDC"), "pool usdc")
	requireEqual(t, weth(1), f.bank.Balance(f.tx, ledger.UserAccount("bob"), "WETH"), "bob weth")
	f.requireCustody(ethUsd)
}

func TestSwap_NegativeImpactRetainedInImpactPool(t *testing.T) {
	f := newFixture(t, ethUsd)
	cfg := market.DefaultConfig()
	cfg.SwapImpactFactor = market.ImpactFactor{Positive: fpmath.Float("0.000000001"), Negative: fpmath.Float("0.000000001")}
	cfg.SwapImpactExp = fpmath.Float("2")
	f.applyConfig(ethUsd, cfg)
	f.seed(ethUsd, "WETH", weth(100))
	f.seed(ethUsd, "USDC", usdc(1_000_000))
	f.fund("bob", "USDC", usdc(10_000))

	res, err := f.pools.Swap(f.tx, f.batch, pool.SwapParams{
		Market:   ethUsd.MarketToken,
		TokenIn:  "USDC",
		AmountIn: usdc(10_000),
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("bob"),
		Prices:   pricesAt(5000),
	})
	require.NoError(t, err)

	// the USDC-heavy pool moves from a $500k to a $520k imbalance
	requireEqual(t, fpmath.Float("-20.4"), res.PriceImpactUsd, "impact")
	requireEqual(t, fpmath.Expand(204, 5), market.SwapImpactPoolAmount(f.tx, ethUsd, "USDC"), "impact pool")
	requireEqual(t, fpmath.ExpandString("1.99592", 18), res.AmountOut, "out")
	f.requireCustody(ethUsd)
}

func TestSwap_SingleTokenMarketRejected(t *testing.T) {
	f := newFixture(t, ethEth)
	f.seed(ethEth, "WETH", weth(10))
	f.fund("bob", "WETH", weth(1))
	_, err := f.pools.Swap(f.tx, f.batch, pool.SwapParams{
		Market:   ethEth.MarketToken,
		TokenIn:  "WETH",
		AmountIn: weth(1),
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("bob"),
		Prices:   pricesAt(5000),
	})
	require.True(t, errors.Is(err, errs.ErrValidation), "got %v", err)
}

func TestSwap_DrainingPoolFails(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.seed(ethUsd, "WETH", weth(1))
	f.fund("bob", "USDC", usdc(10_000))
	_, err := f.pools.Swap(f.tx, f.batch, pool.SwapParams{
		Market:   ethUsd.MarketToken,
		TokenIn:  "USDC",
		AmountIn: usdc(10_000),
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("bob"),
		Prices:   pricesAt(5000),
	})
	require.True(t, errors.Is(err, errs.ErrInsufficientLiquidity), "got %v", err)
}

// ============================================================================
// Test: swap path
// ============================================================================

func TestSwapPath_TwoHops(t *testing.T) {
	f := newFixture(t, ethUsd, ethUsd2)
	for _, m := range []market.Market{ethUsd, ethUsd2} {
		f.seed(m, "WETH", weth(100))
		f.seed(m, "USDC", usdc(1_000_000))
	}
	f.fund("bob", "USDC", usdc(5000))

	res, err := f.pools.SwapPath(f.tx, f.batch, pool.SwapPathParams{
		TokenIn:   "USDC",
		AmountIn:  usdc(5000),
		Path:      []string{ethUsd.MarketToken, ethUsd2.MarketToken},
		MinOutput: usdc(5000),
		From:      ledger.UserAccount("bob"),
		Receiver:  ledger.UserAccount("bob"),
		Prices:    pricesAt(5000),
	})
	require.NoError(t, err)
	require.Len(t, res.Hops, 2)
	require.Equal(t, "USDC", res.TokenOut)
	requireEqual(t, usdc(5000), res.AmountOut, "out")
	requireEqual(t, usdc(5000), f.bank.Balance(f.tx, ledger.UserAccount("bob"), "USDC"), "bob usdc")
	requireEqual(t, weth(101), market.PoolAmount(f.tx, ethUsd2, "WETH"), "second pool weth")
	f.requireCustody(ethUsd)
	f.requireCustody(ethUsd2)
}

func TestSwapPath_MinOutput(t *testing.T) {
	f := newFixture(t, ethUsd, ethUsd2)
	for _, m := range []market.Market{ethUsd, ethUsd2} {
		f.seed(m, "WETH", weth(100))
		f.seed(m, "USDC", usdc(1_000_000))
	}
	f.fund("bob", "USDC", usdc(5000))

	_, err := f.pools.SwapPath(f.tx, f.batch, pool.SwapPathParams{
		TokenIn:   "USDC",
		AmountIn:  usdc(5000),
		Path:      []string{ethUsd.MarketToken, ethUsd2.MarketToken},
		MinOutput: usdc(5001),
		From:      ledger.UserAccount("bob"),
		Receiver:  ledger.UserAccount("bob"),
		Prices:    pricesAt(5000),
	})
	require.True(t, errors.Is(err, errs.ErrInsufficientOutput), "got %v", err)
}

func TestSwapPath_DuplicateMarket(t *testing.T) {
	f := newFixture(t, ethUsd)
	_, err := f.pools.SwapPath(f.tx, f.batch, pool.SwapPathParams{
		TokenIn:  "USDC",
		AmountIn: usdc(1),
		Path:     []string{ethUsd.MarketToken, ethUsd.MarketToken},
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("bob"),
		Prices:   pricesAt(5000),
	})
	require.True(t, errors.Is(err, pool.ErrDuplicateSwapPathMarket), "got %v", err)
}

func TestSwapPath_EmptyPathForwards(t *testing.T) {
	f := newFixture(t, ethUsd)
	f.fund("bob", "USDC", usdc(10))
	res, err := f.pools.SwapPath(f.tx, f.batch, pool.SwapPathParams{
		TokenIn:  "USDC",
		AmountIn: usdc(10),
		From:     ledger.UserAccount("bob"),
		Receiver: ledger.UserAccount("carol"),
		Prices:   pricesAt(5000),
	})
	require.NoError(t, err)
	requireEqual(t, usdc(10), res.AmountOut, "out")
	requireEqual(t, usdc(10), f.bank.Balance(f.tx, ledger.UserAccount("carol"), "USDC"), "carol")
}
