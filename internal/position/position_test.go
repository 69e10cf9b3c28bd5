package position_test

import (
	"errors"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/fees"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	ethUsd  = market.Market{MarketToken: "GM-ETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"}
	ethWeth = market.Market{MarketToken: "GM-WETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "WETH"}
)

type fixture struct {
	t       *testing.T
	tx      store.Tx
	bank    *ledger.Bank
	batch   *ledger.Batch
	configs *market.ConfigStore
	ledger  *position.Ledger
}

func newFixture(t *testing.T, extra ...auth.Role) *fixture {
	t.Helper()
	roles := append([]auth.Role{auth.RoleController, auth.RoleMarketKeeper, auth.RoleConfigKeeper}, extra...)
	tx, err := store.NewMemoryStore().Begin(auth.NewCapability("keeper", roles...))
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)
	require.NoError(t, market.NewRegistry().Create(tx, ethUsd))

	bank := ledger.NewBank()
	configs := market.NewConfigStore()
	f := &fixture{
		t:       t,
		tx:      tx,
		bank:    bank,
		batch:   ledger.NewBatch("test", 1, 1, 1),
		configs: configs,
		ledger:  position.NewLedger(bank, configs, nil),
	}
	f.seed("WETH", fpmath.Expand(100, 18))
	f.seed("USDC", fpmath.Expand(1_000_000, 6))
	return f
}

// seed adds liquidity straight into the pool bucket with matching custody.
func (f *fixture) seed(token string, amount decimal.Decimal) {
	f.t.Helper()
	f.seedMarket(ethUsd, token, amount)
}

func (f *fixture) seedMarket(m market.Market, token string, amount decimal.Decimal) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("lp"), ledger.MarketAccount(m.MarketToken), token, amount, ledger.JournalTypeLiquidityDeposit))
	_, err := market.ApplyDeltaToPoolAmount(f.tx, m, token, amount)
	require.NoError(f.t, err)
}

func (f *fixture) applyConfig(cfg market.Config) {
	f.t.Helper()
	require.NoError(f.t, f.configs.Apply(f.tx, ethUsd.MarketToken, cfg))
}

func (f *fixture) increase(account string, isLong bool, sizeUsd string, collateralUsdc int64, prices *oracle.PriceSet, now uint64) (*position.IncreaseResult, error) {
	f.t.Helper()
	amount := fpmath.Expand(collateralUsdc, 6)
	if amount.Sign() > 0 {
		require.NoError(f.t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("gw"), ledger.MarketAccount(ethUsd.MarketToken), "USDC", amount, ledger.JournalTypeOrderCollateral))
	}
	return f.ledger.Increase(f.tx, position.IncreaseParams{
		Account:               account,
		Market:                ethUsd,
		CollateralToken:       "USDC",
		IsLong:                isLong,
		SizeDeltaUsd:          fpmath.Float(sizeUsd),
		CollateralDeltaAmount: amount,
		Prices:                prices,
		Block:                 10,
		Now:                   now,
	})
}

func (f *fixture) decrease(account string, isLong bool, sizeUsd string, withdraw decimal.Decimal, prices *oracle.PriceSet, now uint64) (*position.DecreaseResult, error) {
	f.t.Helper()
	return f.ledger.Decrease(f.tx, f.batch, position.DecreaseParams{
		Account:               account,
		Market:                ethUsd,
		CollateralToken:       "USDC",
		IsLong:                isLong,
		SizeDeltaUsd:          fpmath.Float(sizeUsd),
		CollateralDeltaAmount: withdraw,
		Receiver:              ledger.UserAccount(account),
		Prices:                prices,
		Block:                 11,
		Now:                   now,
	})
}

func (f *fixture) requireCustody() {
	f.t.Helper()
	require.NoError(f.t, ledger.NewCustodyValidator(f.bank).Validate(f.tx, ethUsd.MarketToken, ethUsd.LongToken, ethUsd.CollateralTokens()))
}

func pricesAt(eth int64) *oracle.PriceSet {
	return &oracle.PriceSet{Prices: map[string]oracle.Price{
		"ETH":  oracle.NewPrice(fpmath.Expand(eth, 12)),
		"WETH": oracle.NewPrice(fpmath.Expand(eth, 12)),
		"USDC": oracle.NewPrice(fpmath.Expand(1, 24)),
	}}
}

func usdc(n int64) decimal.Decimal { return fpmath.Expand(n, 6) }

// ============================================================================
// Test: increase
// ============================================================================

func TestIncrease_OpensPosition(t *testing.T) {
	f := newFixture(t)
	res, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	pos := res.Position
	require.True(t, pos.SizeInUsd.Equal(fpmath.Float("10000")))
	require.True(t, pos.SizeInTokens.Equal(fpmath.Expand(2, 18)), "got %s", pos.SizeInTokens)
	require.True(t, pos.CollateralAmount.Equal(usdc(1000)))
	require.True(t, res.ExecutionPrice.Equal(fpmath.Expand(5000, 12)))
	require.Equal(t, uint64(10), pos.IncreasedAtBlock)

	require.True(t, market.OpenInterestForSide(f.tx, ethUsd, true).Equal(fpmath.Float("10000")))
	require.True(t, market.CollateralSum(f.tx, ethUsd, "USDC", true).Equal(usdc(1000)))
	stored, ok := position.Get(f.tx, res.PositionKey)
	require.True(t, ok)
	require.Equal(t, "alice", stored.Account)
	require.Len(t, position.ListByAccount(f.tx, "alice"), 1)
	f.requireCustody()
}

func TestIncrease_InsufficientCollateralForFees(t *testing.T) {
	f := newFixture(t)
	cfg := market.DefaultConfig()
	cfg.PositionFeeFactor = fpmath.Float("0.01")
	f.applyConfig(cfg)

	// $100 fee on $10k, only $50 posted
	_, err := f.increase("alice", true, "10000", 50, pricesAt(5000), 100)
	require.True(t, errors.Is(err, position.ErrInsufficientCollateral))
	require.True(t, errors.Is(err, errs.ErrHealthCheck))
}

func TestIncrease_ReserveExceeded(t *testing.T) {
	f := newFixture(t)
	// 100 WETH at $5000 backs at most $500k of longs
	_, err := f.increase("alice", true, "600000", 100_000, pricesAt(5000), 100)
	require.True(t, errors.Is(err, market.ErrInsufficientReserve))
}

func TestIncrease_NegativeImpactAccruesToImpactPool(t *testing.T) {
	f := newFixture(t)
	cfg := market.DefaultConfig()
	cfg.PositionImpactFactor = market.ImpactFactor{Positive: fpmath.Float("0.000001"), Negative: fpmath.Float("0.000001")}
	cfg.PositionImpactExp = fpmath.Float("2")
	f.applyConfig(cfg)

	res, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	// 1e-6 * 10000^2 = $100 charged
	require.True(t, res.PriceImpactUsd.Equal(fpmath.Float("-100")), "got %s", res.PriceImpactUsd)
	require.True(t, res.Position.SizeInTokens.LessThan(fpmath.Expand(2, 18)))
	require.True(t, res.ExecutionPrice.GreaterThan(fpmath.Expand(5000, 12)))

	// what the trader lost in tokens sits in the impact pool
	impactPool := market.PositionImpactPoolAmount(f.tx, ethUsd)
	require.True(t, impactPool.Equal(res.PriceImpactAmount))
	require.True(t, impactPool.Mul(fpmath.Expand(5000, 12)).Equal(fpmath.Float("100")))
	lostTokens := fpmath.Expand(2, 18).Sub(res.Position.SizeInTokens)
	require.True(t, lostTokens.Equal(impactPool))
	f.requireCustody()
}

func TestIncrease_AcceptablePrice(t *testing.T) {
	f := newFixture(t)
	cfg := market.DefaultConfig()
	cfg.PositionImpactFactor = market.ImpactFactor{Positive: fpmath.Float("0.000001"), Negative: fpmath.Float("0.000001")}
	cfg.PositionImpactExp = fpmath.Float("2")
	f.applyConfig(cfg)

	require.NoError(t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("gw"), ledger.MarketAccount(ethUsd.MarketToken), "USDC", usdc(1000), ledger.JournalTypeOrderCollateral))
	_, err := f.ledger.Increase(f.tx, position.IncreaseParams{
		Account:               "alice",
		Market:                ethUsd,
		CollateralToken:       "USDC",
		IsLong:                true,
		SizeDeltaUsd:          fpmath.Float("10000"),
		CollateralDeltaAmount: usdc(1000),
		AcceptablePrice:       fpmath.Expand(5000, 12),
		Prices:                pricesAt(5000),
		Now:                   100,
	})
	require.True(t, errors.Is(err, errs.ErrUnacceptablePrice))
}

// ============================================================================
// Test: decrease
// ============================================================================

func TestDecrease_ProfitPaidFromPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	res, err := f.decrease("alice", true, "10000", decimal.Zero, pricesAt(5500), 200)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.True(t, res.RealizedPnlUsd.Equal(fpmath.Float("1000")))

	// $1000 paid in WETH at $5500, rounded down
	profit := decimal.RequireFromString("181818181818181818")
	require.True(t, res.SecondaryOutputAmount.Equal(profit), "got %s", res.SecondaryOutputAmount)
	require.True(t, res.OutputAmount.Equal(usdc(1000)))
	require.True(t, f.bank.Balance(f.tx, ledger.UserAccount("alice"), "WETH").Equal(profit))
	require.True(t, f.bank.Balance(f.tx, ledger.UserAccount("alice"), "USDC").Equal(usdc(1000)))
	require.True(t, market.PoolAmount(f.tx, ethUsd, "WETH").Equal(fpmath.Expand(100, 18).Sub(profit)))

	_, ok := position.Get(f.tx, res.PositionKey)
	require.False(t, ok)
	require.True(t, market.OpenInterestForSide(f.tx, ethUsd, true).IsZero())
	f.requireCustody()
}

func TestDecrease_LossPaidIntoPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("bob", false, "10000", 2000, pricesAt(5000), 100)
	require.NoError(t, err)

	res, err := f.decrease("bob", false, "10000", decimal.Zero, pricesAt(5500), 200)
	require.NoError(t, err)
	require.True(t, res.RealizedPnlUsd.Equal(fpmath.Float("-1000")))
	require.True(t, res.OutputAmount.Equal(usdc(1000)))
	require.True(t, market.PoolAmount(f.tx, ethUsd, "USDC").Equal(usdc(1_001_000)))
	f.requireCustody()
}

func TestDecrease_SecondCloseFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)
	_, err = f.decrease("alice", true, "10000", decimal.Zero, pricesAt(5000), 200)
	require.NoError(t, err)

	_, err = f.decrease("alice", true, "10000", decimal.Zero, pricesAt(5000), 200)
	require.True(t, errors.Is(err, position.ErrPositionNotFound))
}

// Collateral may not be pulled against paper profit: the withdrawal is
// measured without positive PnL.
func TestWithdrawCollateral_IgnoresUnrealizedProfit(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	// +$2000 of paper profit does not back a withdrawal down to $50
	_, err = f.decrease("alice", true, "0", usdc(950), pricesAt(6000), 200)
	require.True(t, errors.Is(err, position.ErrUnhealthyPosition))
	require.True(t, errors.Is(err, errs.ErrHealthCheck))

	res, err := f.decrease("alice", true, "0", usdc(800), pricesAt(6000), 200)
	require.NoError(t, err)
	require.True(t, res.OutputAmount.Equal(usdc(800)))
	require.True(t, res.Position.CollateralAmount.Equal(usdc(200)))
	require.True(t, res.Position.SizeInUsd.Equal(fpmath.Float("10000")))
	f.requireCustody()
}

func TestDecrease_UnsafeWithdrawalDroppedOnPartialClose(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	res, err := f.decrease("alice", true, "5000", usdc(990), pricesAt(6000), 200)
	require.NoError(t, err)
	require.True(t, res.WithdrawalDropped)
	require.True(t, res.OutputAmount.IsZero())
	require.True(t, res.SecondaryOutputAmount.Sign() > 0, "half the profit is realized")
	require.True(t, res.Position.CollateralAmount.Equal(usdc(1000)))
	require.True(t, res.Position.SizeInUsd.Equal(fpmath.Float("5000")))
	require.True(t, res.Position.SizeInTokens.Equal(fpmath.Expand(1, 18)))
	f.requireCustody()
}

func TestDecrease_WithdrawalBeyondCollateralAfterCosts(t *testing.T) {
	f := newFixture(t)
	cfg := market.DefaultConfig()
	cfg.BorrowingFactor = market.SideFactor{Long: fpmath.Float("0.0000001"), Short: fpmath.Float("0.0000001")}
	f.applyConfig(cfg)
	_, err := f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	// closing half at 4900 realizes -$100, so $950 no longer fits in $900
	res, err := f.decrease("alice", true, "5000", usdc(950), pricesAt(4900), 100)
	require.NoError(t, err)
	require.True(t, res.WithdrawalDropped)
	require.True(t, res.OutputAmount.IsZero())
	require.True(t, res.Position.CollateralAmount.Equal(usdc(900)), "got %s", res.Position.CollateralAmount)
	require.True(t, market.PoolAmount(f.tx, ethUsd, "USDC").Equal(usdc(1_000_100)))
	f.requireCustody()

	// a day of borrowing leaves less than the $900 still posted
	const day = uint64(24 * 60 * 60)
	_, err = f.decrease("alice", true, "0", usdc(900), pricesAt(5000), 100+day)
	require.True(t, errors.Is(err, position.ErrInsufficientCollateral))
	require.True(t, errors.Is(err, errs.ErrHealthCheck))
}

func TestDecrease_ExcessNegativeImpactWithheld(t *testing.T) {
	f := newFixture(t)
	_, err := f.increase("bob", false, "30000", 3000, pricesAt(5000), 100)
	require.NoError(t, err)
	_, err = f.increase("alice", true, "10000", 1000, pricesAt(5000), 100)
	require.NoError(t, err)

	cfg := market.DefaultConfig()
	cfg.PositionImpactFactor = market.ImpactFactor{Positive: fpmath.Float("0.000001"), Negative: fpmath.Float("0.000001")}
	cfg.PositionImpactExp = fpmath.Float("2")
	cfg.MaxPositionImpact.Negative = fpmath.Float("0.001")
	f.applyConfig(cfg)

	// closing the long widens the gap 20k -> 30k: -(900 - 400) = -$500,
	// of which $10 is charged now and $490 withheld
	res, err := f.decrease("alice", true, "10000", decimal.Zero, pricesAt(5000), 7200)
	require.NoError(t, err)
	require.True(t, res.PriceImpactUsd.Equal(fpmath.Float("-10")), "got %s", res.PriceImpactUsd)
	require.True(t, res.PriceImpactDiffUsd.Equal(fpmath.Float("490")))
	require.True(t, res.CollateralWithheld.Equal(usdc(490)))
	require.Equal(t, uint64(2), res.TimeKey)
	require.True(t, res.OutputAmount.Equal(usdc(500)))
	require.True(t, res.ExecutionPrice.Equal(fpmath.Expand(4995, 12)), "got %s", res.ExecutionPrice)

	mt := ethUsd.MarketToken
	require.True(t, f.tx.Decimal(store.ClaimableCollateralAmountKey(mt, "USDC", 2, "alice")).Equal(usdc(490)))
	require.True(t, f.tx.Decimal(store.ClaimableCollateralTotalKey(mt, "USDC")).Equal(usdc(490)))
	f.requireCustody()

	got, err := fees.NewClaimer(f.bank, market.NewRegistry()).ClaimCollateral(f.tx, f.batch, "alice", []string{mt}, []string{"USDC"}, []uint64{2}, "alice")
	require.NoError(t, err)
	require.True(t, got[0].Equal(usdc(490)))
	f.requireCustody()
}

// ============================================================================
// Test: funding over a full lifecycle
// ============================================================================

func TestFunding_FullCloseMatchesFormula(t *testing.T) {
	f := newFixture(t)
	cfg := market.DefaultConfig()
	cfg.FundingFactor = fpmath.Float("0.0000001")
	f.applyConfig(cfg)

	const open = uint64(1_000)
	const hundredDays = uint64(100 * 24 * 60 * 60)

	// 2x long of $100k on $50k, against $80k of shorts
	_, err := f.increase("alice", true, "100000", 50_000, pricesAt(5000), open)
	require.NoError(t, err)
	_, err = f.increase("bob", false, "80000", 40_000, pricesAt(5000), open)
	require.NoError(t, err)

	closeAlice, err := f.decrease("alice", true, "100000", decimal.Zero, pricesAt(5000), open+hundredDays)
	require.NoError(t, err)

	// fundingFactor * seconds * (long - short) / (long + short) * longSize
	longOi, shortOi := decimal.NewFromInt(100_000), decimal.NewFromInt(80_000)
	expectedUsd := decimal.RequireFromString("0.0000001").
		Mul(decimal.NewFromInt(int64(hundredDays))).
		Mul(longOi.Sub(shortOi)).Div(longOi.Add(shortOi)).
		Mul(longOi)
	expected := expectedUsd.Shift(6)
	paid := closeAlice.Fees.Funding.FundingFeeAmount
	require.True(t, paid.Sub(expected).Abs().LessThanOrEqual(decimal.NewFromInt(2)), "paid %s want %s", paid, expected)
	require.True(t, closeAlice.OutputAmount.Equal(usdc(50_000).Sub(paid)))

	closeBob, err := f.decrease("bob", false, "80000", decimal.Zero, pricesAt(5000), open+hundredDays)
	require.NoError(t, err)
	require.True(t, closeBob.OutputAmount.Equal(usdc(40_000)))

	credited := f.tx.Decimal(store.ClaimableFundingAmountKey(ethUsd.MarketToken, "USDC", "bob"))
	require.True(t, credited.LessThanOrEqual(paid))
	require.True(t, paid.Sub(credited).LessThanOrEqual(decimal.NewFromInt(1)))
	f.requireCustody()
}

// ============================================================================
// Test: single-token market
// ============================================================================

func TestSingleTokenMarket_Lifecycle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, market.NewRegistry().Create(f.tx, ethWeth))
	f.seedMarket(ethWeth, "WETH", fpmath.Expand(100, 18))

	cfg := market.DefaultConfig()
	cfg.FundingFactor = fpmath.Float("0.0000001")
	cfg.BorrowingFactor = market.SideFactor{Long: fpmath.Float("0.000000001"), Short: fpmath.Float("0.000000001")}
	cfg.PositionImpactFactor = market.ImpactFactor{Positive: fpmath.Float("0.000000001"), Negative: fpmath.Float("0.000000001")}
	cfg.PositionImpactExp = fpmath.Float("2")
	require.NoError(t, f.configs.Apply(f.tx, ethWeth.MarketToken, cfg))

	mt := ethWeth.MarketToken
	custody := func() {
		t.Helper()
		require.NoError(t, ledger.NewCustodyValidator(f.bank).Validate(f.tx, mt, ethWeth.LongToken, ethWeth.CollateralTokens()))
	}
	increase := func(account string, isLong bool, sizeUsd string, now uint64) *position.IncreaseResult {
		t.Helper()
		amount := fpmath.Expand(2, 18)
		require.NoError(t, f.bank.Transfer(f.tx, f.batch, ledger.ExternalAccount("gw"), ledger.MarketAccount(mt), "WETH", amount, ledger.JournalTypeOrderCollateral))
		res, err := f.ledger.Increase(f.tx, position.IncreaseParams{
			Account:               account,
			Market:                ethWeth,
			CollateralToken:       "WETH",
			IsLong:                isLong,
			SizeDeltaUsd:          fpmath.Float(sizeUsd),
			CollateralDeltaAmount: amount,
			Prices:                pricesAt(5000),
			Block:                 10,
			Now:                   now,
		})
		require.NoError(t, err)
		custody()
		return res
	}
	closeAll := func(account string, isLong bool, sizeUsd string, now uint64) *position.DecreaseResult {
		t.Helper()
		res, err := f.ledger.Decrease(f.tx, f.batch, position.DecreaseParams{
			Account:         account,
			Market:          ethWeth,
			CollateralToken: "WETH",
			IsLong:          isLong,
			SizeDeltaUsd:    fpmath.Float(sizeUsd),
			Receiver:        ledger.UserAccount(account),
			Prices:          pricesAt(5000),
			Block:           11,
			Now:             now,
		})
		require.NoError(t, err)
		require.True(t, res.Closed)
		custody()
		return res
	}

	const open = uint64(1_000)
	const day = uint64(24 * 60 * 60)

	// each side is backed by half the pool
	require.True(t, market.PoolAmountForSide(f.tx, ethWeth, true).Equal(fpmath.Expand(50, 18)))
	require.True(t, market.PoolAmountForSide(f.tx, ethWeth, false).Equal(fpmath.Expand(50, 18)))

	// opening into an empty book: -(1e-9 * 100000^2) = -$10, held in WETH
	long := increase("alice", true, "100000", open)
	require.True(t, long.PriceImpactUsd.Equal(fpmath.Float("-10")), "got %s", long.PriceImpactUsd)
	impactPool := market.PositionImpactPoolAmount(f.tx, ethWeth)
	require.True(t, impactPool.Mul(fpmath.Expand(5000, 12)).Equal(fpmath.Float("10")))

	// the short narrows the gap and is paid out of the impact pool
	short := increase("bob", false, "50000", open)
	require.True(t, short.PriceImpactUsd.Sign() > 0)
	require.True(t, market.PositionImpactPoolAmount(f.tx, ethWeth).LessThan(impactPool))
	require.True(t, market.CollateralSum(f.tx, ethWeth, "WETH", true).Equal(fpmath.Expand(2, 18)))
	require.True(t, market.CollateralSum(f.tx, ethWeth, "WETH", false).Equal(fpmath.Expand(2, 18)))

	closedLong := closeAll("alice", true, "100000", open+day)
	require.True(t, closedLong.Fees.Funding.FundingFeeAmount.Sign() > 0, "longs pay the heavier side's funding")
	require.True(t, closedLong.Fees.Borrowing.BorrowingFeeAmount.Sign() > 0)

	closedShort := closeAll("bob", false, "50000", open+day)
	require.True(t, closedShort.Fees.Funding.FundingFeeAmount.IsZero())
	require.True(t, closedShort.Fees.Borrowing.BorrowingFeeAmount.Sign() > 0)

	// funding owed to the short is claimable in the one backing token
	credited := f.tx.Decimal(store.ClaimableFundingAmountKey(mt, "WETH", "bob"))
	require.True(t, credited.Sign() > 0)
	require.True(t, credited.LessThanOrEqual(closedLong.Fees.Funding.FundingFeeAmount))

	require.True(t, market.OpenInterestForSide(f.tx, ethWeth, true).IsZero())
	require.True(t, market.OpenInterestForSide(f.tx, ethWeth, false).IsZero())
	require.True(t, market.CollateralSum(f.tx, ethWeth, "WETH", true).IsZero())
	require.True(t, market.CollateralSum(f.tx, ethWeth, "WETH", false).IsZero())
	require.True(t, f.bank.Balance(f.tx, ledger.UserAccount("alice"), "WETH").Sign() > 0)
	require.True(t, f.bank.Balance(f.tx, ledger.UserAccount("bob"), "WETH").Sign() > 0)

	// the other market saw none of it
	require.True(t, market.PoolAmount(f.tx, ethUsd, "WETH").Equal(fpmath.Expand(100, 18)))
	f.requireCustody()
}

// ============================================================================
// Test: liquidation
// ============================================================================

func TestLiquidate_UnderwaterPosition(t *testing.T) {
	f := newFixture(t, auth.RoleLiquidationKeeper)
	res, err := f.increase("alice", true, "10000", 200, pricesAt(5000), 100)
	require.NoError(t, err)
	key := res.PositionKey

	_, err = f.ledger.Liquidate(f.tx, f.batch, ethUsd, key, pricesAt(5000), 12, 200)
	require.True(t, errors.Is(err, position.ErrPositionNotLiquidatable))

	// -$200 wipes the collateral; required is $50
	liq, err := f.ledger.Liquidate(f.tx, f.batch, ethUsd, key, pricesAt(4900), 12, 200)
	require.NoError(t, err)
	require.True(t, liq.Closed)
	require.True(t, liq.OutputAmount.IsZero())
	require.True(t, liq.BadDebtAmount.IsZero())
	require.True(t, market.PoolAmount(f.tx, ethUsd, "USDC").Equal(usdc(1_000_200)))
	_, ok := position.Get(f.tx, key)
	require.False(t, ok)
	f.requireCustody()

	_, err = f.ledger.Liquidate(f.tx, f.batch, ethUsd, key, pricesAt(4900), 12, 200)
	require.True(t, errors.Is(err, position.ErrPositionNotFound))
}

func TestLiquidate_BadDebtAbsorbedByPool(t *testing.T) {
	f := newFixture(t, auth.RoleLiquidationKeeper)
	res, err := f.increase("alice", true, "10000", 200, pricesAt(5000), 100)
	require.NoError(t, err)

	liq, err := f.ledger.Liquidate(f.tx, f.batch, ethUsd, res.PositionKey, pricesAt(4800), 12, 200)
	require.NoError(t, err)
	require.True(t, liq.BadDebtAmount.Equal(usdc(200)))
	require.True(t, market.PoolAmount(f.tx, ethUsd, "USDC").Equal(usdc(1_000_200)))
	f.requireCustody()
}

func TestLiquidate_RequiresRole(t *testing.T) {
	f := newFixture(t)
	res, err := f.increase("alice", true, "10000", 200, pricesAt(5000), 100)
	require.NoError(t, err)

	_, err = f.ledger.Liquidate(f.tx, f.batch, ethUsd, res.PositionKey, pricesAt(4800), 12, 200)
	require.True(t, errors.Is(err, auth.ErrUnauthorized))
}
