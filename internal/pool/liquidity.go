package pool

import (
	"PoolLedger/internal/errs"
	"PoolLedger/internal/fees"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyDeposit             = errs.New(errs.ErrValidation, "empty deposit")
	ErrEmptyWithdrawal          = errs.New(errs.ErrValidation, "empty withdrawal")
	ErrInsufficientMarketTokens = errs.New(errs.ErrValidation, "insufficient market token balance")
	ErrMinMarketTokens          = errs.New(errs.ErrInsufficientOutput, "market tokens below minimum")
	ErrMinWithdrawalOutput      = errs.New(errs.ErrInsufficientOutput, "withdrawal output below minimum")
	ErrDepositTooSmall          = errs.New(errs.ErrInsufficientOutput, "deposit does not cover price impact")
	ErrWithdrawalExceedsPool    = errs.New(errs.ErrSolvency, "withdrawal exceeds pool amount")
)

// Manager moves liquidity in and out of market pools.
type Manager struct {
	bank     *ledger.Bank
	registry *market.Registry
	configs  *market.ConfigStore
}

func NewManager(bank *ledger.Bank, registry *market.Registry, configs *market.ConfigStore) *Manager {
	return &Manager{bank: bank, registry: registry, configs: configs}
}

// swapFees splits the swap fee of amount into the full fee and the fee
// receiver's share of it.
func swapFees(cfg *market.Config, amount decimal.Decimal) (fee, receiverFee decimal.Decimal) {
	fee = fpmath.ApplyFactor(amount, cfg.SwapFeeFactor, fpmath.RoundUp)
	receiverFee = fpmath.ApplyFactor(fee, cfg.SwapFeeReceiver, fpmath.RoundDown)
	return fee, receiverFee
}

func addClaimableFee(tx store.Tx, m market.Market, token string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	_, err := tx.AddDecimal(store.ClaimableFeeAmountKey(m.MarketToken, token), amount)
	return err
}

// ============================================================================
// Deposit
// ============================================================================

type DepositParams struct {
	Account          string
	Receiver         string
	Market           string
	LongTokenAmount  decimal.Decimal
	ShortTokenAmount decimal.Decimal
	MinMarketTokens  decimal.Decimal
	Prices           *oracle.PriceSet
	Now              uint64
	// From holds the deposited tokens. Zero means the account's custody.
	From ledger.AccountKey
}

type DepositResult struct {
	MarketTokensMinted decimal.Decimal `json:"market_tokens_minted"`
	PriceImpactUsd     decimal.Decimal `json:"price_impact_usd"`
	LongTokenFee       decimal.Decimal `json:"long_token_fee"`
	ShortTokenFee      decimal.Decimal `json:"short_token_fee"`
}

// Deposit adds long and short tokens to a market's pool and mints market
// tokens to the receiver at the maximized pool value. Each leg is priced
// after the previous one has been minted.
func (mgr *Manager) Deposit(tx store.Tx, batch *ledger.Batch, p DepositParams) (*DepositResult, error) {
	m, err := mgr.registry.Get(tx, p.Market)
	if err != nil {
		return nil, err
	}
	cfg := mgr.configs.Load(tx, m.MarketToken)

	longAmount, shortAmount := p.LongTokenAmount, p.ShortTokenAmount
	if longAmount.Sign() < 0 || shortAmount.Sign() < 0 || p.MinMarketTokens.Sign() < 0 {
		return nil, errs.Wrap(ErrEmptyDeposit, "negative amount")
	}
	if m.IsSingleToken() {
		longAmount, shortAmount = longAmount.Add(shortAmount), decimal.Zero
	}
	if longAmount.IsZero() && shortAmount.IsZero() {
		return nil, errs.Wrap(ErrEmptyDeposit, "market %s", m.MarketToken)
	}
	if p.Receiver == "" {
		return nil, errs.Wrap(ErrEmptyDeposit, "empty receiver")
	}
	if err := p.Prices.Require(m.Tokens()...); err != nil {
		return nil, err
	}

	from := p.From
	if from == (ledger.AccountKey{}) {
		from = ledger.UserAccount(p.Account)
	}
	custody := ledger.MarketAccount(m.MarketToken)
	if err := mgr.bank.Transfer(tx, batch, from, custody, m.LongToken, longAmount, ledger.JournalTypeLiquidityDeposit); err != nil {
		return nil, err
	}
	if err := mgr.bank.Transfer(tx, batch, from, custody, m.ShortToken, shortAmount, ledger.JournalTypeLiquidityDeposit); err != nil {
		return nil, err
	}

	if _, err := fees.UpdateFundingAndBorrowing(tx, m, cfg, p.Prices, p.Now); err != nil {
		return nil, err
	}

	longPrice, _ := p.Prices.Get(m.LongToken)
	shortPrice, _ := p.Prices.Get(m.ShortToken)
	longUsd := longAmount.Mul(longPrice.Mid())
	shortUsd := shortAmount.Mul(shortPrice.Mid())
	impact, err := pricing.DepositImpactUsd(tx, m, cfg, p.Prices, longUsd, shortUsd)
	if err != nil {
		return nil, err
	}

	res := &DepositResult{MarketTokensMinted: decimal.Zero, PriceImpactUsd: impact}
	totalUsd := longUsd.Add(shortUsd)
	legs := []struct {
		token, opposite string
		amount          decimal.Decimal
		usd             decimal.Decimal
		fee             *decimal.Decimal
	}{
		{m.LongToken, m.ShortToken, longAmount, longUsd, &res.LongTokenFee},
		{m.ShortToken, m.LongToken, shortAmount, shortUsd, &res.ShortTokenFee},
	}
	for _, leg := range legs {
		*leg.fee = decimal.Zero
		if leg.amount.IsZero() {
			continue
		}
		legImpact := decimal.Zero
		if !totalUsd.IsZero() {
			legImpact = fpmath.MulDiv(impact, leg.usd, totalUsd, fpmath.RoundDown)
		}
		minted, fee, err := mgr.depositLeg(tx, m, cfg, p.Prices, p.Now, leg.token, leg.opposite, leg.amount, legImpact)
		if err != nil {
			return nil, err
		}
		*leg.fee = fee
		if _, err := tx.AddDecimal(store.MarketTokenSupplyKey(m.MarketToken), minted); err != nil {
			return nil, err
		}
		res.MarketTokensMinted = res.MarketTokensMinted.Add(minted)
	}

	if res.MarketTokensMinted.LessThan(p.MinMarketTokens) {
		return nil, errs.Wrap(ErrMinMarketTokens, "minted %s, min %s", res.MarketTokensMinted, p.MinMarketTokens)
	}
	if _, err := tx.AddDecimal(store.MarketTokenBalanceKey(m.MarketToken, p.Receiver), res.MarketTokensMinted); err != nil {
		return nil, err
	}
	for _, t := range m.CollateralTokens() {
		if err := market.ValidateMaxPoolAmount(tx, m, cfg, t); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// depositLeg settles one token of a deposit against the pool and returns the
// market tokens it mints and the swap fee charged.
func (mgr *Manager) depositLeg(
	tx store.Tx,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	now uint64,
	token, opposite string,
	amount, impactUsd decimal.Decimal,
) (minted, fee decimal.Decimal, err error) {
	info, err := PoolValue(tx, m, cfg, prices, PnlFactorDeposit, true, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if info.PoolValue.Sign() < 0 {
		return decimal.Zero, decimal.Zero, errs.Wrap(ErrNegativePoolValue, "deposit into market %s: %s", m.MarketToken, info.PoolValue)
	}
	supply := tx.Decimal(store.MarketTokenSupplyKey(m.MarketToken))
	price, _ := prices.Get(token)

	fee, receiverFee := swapFees(cfg, amount)
	afterFees := amount.Sub(fee)
	minted = decimal.Zero

	switch impactUsd.Sign() {
	case 1:
		// paid from the opposite token's impact pool into its pool bucket
		oppPrice, _ := prices.Get(opposite)
		paid, err := pricing.ApplySwapImpactWithCap(tx, m, opposite, oppPrice, impactUsd)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if _, err := market.ApplyDeltaToPoolAmount(tx, m, opposite, paid); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		minted = fpmath.UsdToMarketTokenAmount(paid.Mul(oppPrice.Min), info.PoolValue, supply)
	case -1:
		owed, err := pricing.ApplySwapImpactWithCap(tx, m, token, price, impactUsd)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		afterFees = afterFees.Add(owed)
		if afterFees.Sign() < 0 {
			return decimal.Zero, decimal.Zero, errs.Wrap(ErrDepositTooSmall, "%s %s owes %s", amount, token, owed.Neg())
		}
	}

	minted = minted.Add(fpmath.UsdToMarketTokenAmount(afterFees.Mul(price.Min), info.PoolValue, supply))
	if _, err := market.ApplyDeltaToPoolAmount(tx, m, token, afterFees.Add(fee).Sub(receiverFee)); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return minted, fee, addClaimableFee(tx, m, token, receiverFee)
}

// ============================================================================
// Withdraw
// ============================================================================

type WithdrawParams struct {
	Account             string
	Receiver            string
	Market              string
	MarketTokenAmount   decimal.Decimal
	MinLongTokenAmount  decimal.Decimal
	MinShortTokenAmount decimal.Decimal
	Prices              *oracle.PriceSet
	Now                 uint64
}

type WithdrawResult struct {
	LongTokenAmount  decimal.Decimal `json:"long_token_amount"`
	ShortTokenAmount decimal.Decimal `json:"short_token_amount"`
	LongTokenFee     decimal.Decimal `json:"long_token_fee"`
	ShortTokenFee    decimal.Decimal `json:"short_token_fee"`
	UsdValue         decimal.Decimal `json:"usd_value"`
}

// Withdraw burns market tokens and pays out long and short tokens pro rata to
// their pool USD at the minimized pool value. Nothing is paid that the pool
// bucket does not hold.
func (mgr *Manager) Withdraw(tx store.Tx, batch *ledger.Batch, p WithdrawParams) (*WithdrawResult, error) {
	m, err := mgr.registry.Get(tx, p.Market)
	if err != nil {
		return nil, err
	}
	cfg := mgr.configs.Load(tx, m.MarketToken)

	if p.MarketTokenAmount.Sign() <= 0 {
		return nil, errs.Wrap(ErrEmptyWithdrawal, "market %s amount %s", m.MarketToken, p.MarketTokenAmount)
	}
	if p.Receiver == "" {
		return nil, errs.Wrap(ErrEmptyWithdrawal, "empty receiver")
	}
	balanceKey := store.MarketTokenBalanceKey(m.MarketToken, p.Account)
	if have := tx.Decimal(balanceKey); have.LessThan(p.MarketTokenAmount) {
		return nil, errs.Wrap(ErrInsufficientMarketTokens, "%s holds %s, needs %s", p.Account, have, p.MarketTokenAmount)
	}
	if err := p.Prices.Require(m.Tokens()...); err != nil {
		return nil, err
	}
	if _, err := fees.UpdateFundingAndBorrowing(tx, m, cfg, p.Prices, p.Now); err != nil {
		return nil, err
	}

	info, err := PoolValue(tx, m, cfg, p.Prices, PnlFactorWithdraw, false, p.Now)
	if err != nil {
		return nil, err
	}
	if info.PoolValue.Sign() <= 0 {
		return nil, errs.Wrap(ErrNegativePoolValue, "withdraw from market %s: %s", m.MarketToken, info.PoolValue)
	}
	supply := tx.Decimal(store.MarketTokenSupplyKey(m.MarketToken))
	usd := fpmath.MarketTokenAmountToUsd(p.MarketTokenAmount, info.PoolValue, supply)

	longPrice, _ := p.Prices.Get(m.LongToken)
	shortPrice, _ := p.Prices.Get(m.ShortToken)
	longPoolUsd := market.PoolAmountForSide(tx, m, true).Mul(longPrice.Max)
	shortPoolUsd := market.PoolAmountForSide(tx, m, false).Mul(shortPrice.Max)
	totalPoolUsd := longPoolUsd.Add(shortPoolUsd)
	if totalPoolUsd.IsZero() {
		return nil, errs.Wrap(ErrWithdrawalExceedsPool, "market %s holds no pool tokens", m.MarketToken)
	}

	res := &WithdrawResult{UsdValue: usd}
	legs := []struct {
		token   string
		poolUsd decimal.Decimal
		price   oracle.Price
		min     decimal.Decimal
		out     *decimal.Decimal
		fee     *decimal.Decimal
	}{
		{m.LongToken, longPoolUsd, longPrice, p.MinLongTokenAmount, &res.LongTokenAmount, &res.LongTokenFee},
		{m.ShortToken, shortPoolUsd, shortPrice, p.MinShortTokenAmount, &res.ShortTokenAmount, &res.ShortTokenFee},
	}
	for _, leg := range legs {
		legUsd := fpmath.MulDiv(usd, leg.poolUsd, totalPoolUsd, fpmath.RoundDown)
		amount := fpmath.Div(legUsd, leg.price.Max, fpmath.RoundDown)
		fee, receiverFee := swapFees(cfg, amount)

		fromPool := amount.Sub(fee).Add(receiverFee)
		if have := market.PoolAmount(tx, m, leg.token); fromPool.GreaterThan(have) {
			return nil, errs.Wrap(ErrWithdrawalExceedsPool, "market %s token %s: %s > %s", m.MarketToken, leg.token, fromPool, have)
		}
		if _, err := market.ApplyDeltaToPoolAmount(tx, m, leg.token, fromPool.Neg()); err != nil {
			return nil, err
		}
		if err := addClaimableFee(tx, m, leg.token, receiverFee); err != nil {
			return nil, err
		}
		*leg.out = amount.Sub(fee)
		*leg.fee = fee
		if leg.out.LessThan(leg.min) {
			return nil, errs.Wrap(ErrMinWithdrawalOutput, "%s: %s < %s", leg.token, *leg.out, leg.min)
		}
	}

	if _, err := tx.AddDecimal(balanceKey, p.MarketTokenAmount.Neg()); err != nil {
		return nil, err
	}
	if _, err := tx.AddDecimal(store.MarketTokenSupplyKey(m.MarketToken), p.MarketTokenAmount.Neg()); err != nil {
		return nil, err
	}
	if err := ValidateMaxPnl(tx, m, cfg, p.Prices, PnlFactorWithdraw); err != nil {
		return nil, err
	}

	custody := ledger.MarketAccount(m.MarketToken)
	receiver := ledger.UserAccount(p.Receiver)
	if err := mgr.bank.Transfer(tx, batch, custody, receiver, m.LongToken, res.LongTokenAmount, ledger.JournalTypeLiquidityWithdrawal); err != nil {
		return nil, err
	}
	if err := mgr.bank.Transfer(tx, batch, custody, receiver, m.ShortToken, res.ShortTokenAmount, ledger.JournalTypeLiquidityWithdrawal); err != nil {
		return nil, err
	}
	return res, nil
}

// MarketTokenBalance returns an account's market token balance.
func MarketTokenBalance(r store.Reader, marketToken, account string) decimal.Decimal {
	return r.Decimal(store.MarketTokenBalanceKey(marketToken, account))
}

// MarketTokenSupply returns the outstanding market tokens of a market.
func MarketTokenSupply(r store.Reader, marketToken string) decimal.Decimal {
	return r.Decimal(store.MarketTokenSupplyKey(marketToken))
}
