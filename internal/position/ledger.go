package position

import (
	"PoolLedger/internal/auth"
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
	ErrPositionNotFound        = errs.New(errs.ErrValidation, "position not found")
	ErrInvalidSizeDelta        = errs.New(errs.ErrValidation, "invalid size delta")
	ErrMinPositionSize         = errs.New(errs.ErrValidation, "position below min size")
	ErrPriceImpactTooLarge     = errs.New(errs.ErrValidation, "price impact larger than order size")
	ErrPositionNotLiquidatable = errs.New(errs.ErrValidation, "position is not liquidatable")
	ErrInsufficientCollateral  = errs.New(errs.ErrHealthCheck, "insufficient collateral")
	ErrUnhealthyPosition       = errs.New(errs.ErrHealthCheck, "position would be undercollateralized")
	ErrUnacceptablePrice       = errs.New(errs.ErrUnacceptablePrice, "execution price outside acceptable price")
)

// Ledger applies increases, decreases and liquidations. Every change runs
// in a fixed order: accumulators are brought to now, fees are settled, price
// impact is measured against open interest before the change, and only then
// do size, open interest and collateral move.
type Ledger struct {
	bank      *ledger.Bank
	configs   *market.ConfigStore
	referrals fees.Referrals
}

func NewLedger(bank *ledger.Bank, configs *market.ConfigStore, referrals fees.Referrals) *Ledger {
	if referrals == nil {
		referrals = fees.NoReferrals{}
	}
	return &Ledger{bank: bank, configs: configs, referrals: referrals}
}

// IncreaseParams describes an increase. The collateral delta must already sit
// in the market's custody.
type IncreaseParams struct {
	Account               string
	Market                market.Market
	CollateralToken       string
	IsLong                bool
	SizeDeltaUsd          decimal.Decimal
	CollateralDeltaAmount decimal.Decimal
	// AcceptablePrice bounds the execution price. Zero disables the check.
	AcceptablePrice decimal.Decimal
	Prices          *oracle.PriceSet
	Block           uint64
	Now             uint64
}

type IncreaseResult struct {
	PositionKey       string
	ExecutionPrice    decimal.Decimal
	PriceImpactUsd    decimal.Decimal
	PriceImpactAmount decimal.Decimal
	SizeDeltaInTokens decimal.Decimal
	Fees              fees.PositionFees
	Position          *Position
}

// Increase opens or grows a position.
func (l *Ledger) Increase(tx store.Tx, p IncreaseParams) (*IncreaseResult, error) {
	m := p.Market
	if !m.IsCollateral(p.CollateralToken) {
		return nil, errs.Wrap(market.ErrInvalidToken, "collateral %s in %s", p.CollateralToken, m.MarketToken)
	}
	if p.SizeDeltaUsd.Sign() < 0 || p.CollateralDeltaAmount.Sign() < 0 {
		return nil, errs.Wrap(ErrInvalidSizeDelta, "negative increase")
	}
	if err := p.Prices.Require(m.IndexToken, m.LongToken, m.ShortToken); err != nil {
		return nil, err
	}
	cfg := l.configs.Load(tx, m.MarketToken)
	if _, err := fees.UpdateFundingAndBorrowing(tx, m, cfg, p.Prices, p.Now); err != nil {
		return nil, err
	}

	key := Key(p.Account, m.MarketToken, p.CollateralToken, p.IsLong)
	pos, ok := Get(tx, key)
	if !ok {
		pos = &Position{
			Account:          p.Account,
			Market:           m.MarketToken,
			CollateralToken:  p.CollateralToken,
			IsLong:           p.IsLong,
			SizeInUsd:        decimal.Zero,
			SizeInTokens:     decimal.Zero,
			CollateralAmount: decimal.Zero,
		}
	}
	prevSize, prevFactor := pos.SizeInUsd, pos.BorrowingFactor
	if pos.SizeInUsd.Add(p.SizeDeltaUsd).IsZero() {
		return nil, errs.Wrap(ErrInvalidSizeDelta, "position would have zero size")
	}

	cp, _ := p.Prices.Get(p.CollateralToken)
	index, _ := p.Prices.Get(m.IndexToken)
	res := &IncreaseResult{PositionKey: key}

	// fees come out of collateral first
	collateral := pos.CollateralAmount.Add(p.CollateralDeltaAmount)
	res.Fees = fees.GetPositionFees(tx, m, cfg, pos.FeeState(), cp, p.SizeDeltaUsd, l.referrals)
	if collateral.LessThan(res.Fees.TotalCostAmount) {
		return nil, errs.Wrap(ErrInsufficientCollateral, "collateral %s < fees %s", collateral, res.Fees.TotalCostAmount)
	}
	collateral = collateral.Sub(res.Fees.TotalCostAmount)
	if err := market.ApplyDeltaToCollateralSum(tx, m, p.CollateralToken, p.IsLong, p.CollateralDeltaAmount.Sub(res.Fees.TotalCostAmount)); err != nil {
		return nil, err
	}
	if err := fees.Distribute(tx, m, p.Account, p.CollateralToken, &res.Fees); err != nil {
		return nil, err
	}

	// impact against open interest before this order's delta
	if p.SizeDeltaUsd.Sign() > 0 {
		impact := pricing.PositionImpactUsd(tx, m, cfg, p.SizeDeltaUsd, p.IsLong)
		impact = pricing.CapPositiveImpactByFactor(impact, p.SizeDeltaUsd, cfg)
		impact, err := pricing.CapPositiveImpactByPool(tx, m, p.Prices, impact)
		if err != nil {
			return nil, err
		}
		res.PriceImpactUsd = impact

		tokens, execPrice, err := increaseExecution(p.SizeDeltaUsd, impact, index, p.IsLong)
		if err != nil {
			return nil, err
		}
		res.SizeDeltaInTokens = tokens
		res.ExecutionPrice = execPrice
		if err := validateAcceptable(execPrice, p.AcceptablePrice, p.IsLong, true); err != nil {
			return nil, err
		}
		if res.PriceImpactAmount, err = pricing.ApplyPositionImpact(tx, m, p.Prices, impact); err != nil {
			return nil, err
		}
	}

	pos.SizeInUsd = pos.SizeInUsd.Add(p.SizeDeltaUsd)
	pos.SizeInTokens = pos.SizeInTokens.Add(res.SizeDeltaInTokens)
	pos.CollateralAmount = collateral
	pos.applySnapshots(&res.Fees)
	pos.IncreasedAtBlock = p.Block

	if err := market.ApplyDeltaToOpenInterest(tx, m, cfg, p.CollateralToken, p.IsLong, p.SizeDeltaUsd, res.SizeDeltaInTokens); err != nil {
		return nil, err
	}
	if err := fees.ApplyDeltaToTotalBorrowing(tx, m, p.IsLong, prevSize, prevFactor, pos.SizeInUsd, pos.BorrowingFactor); err != nil {
		return nil, err
	}
	if err := market.ValidateReserve(tx, m, cfg, p.Prices, p.IsLong); err != nil {
		return nil, err
	}
	if pos.SizeInUsd.LessThan(cfg.MinPositionSizeUsd) {
		return nil, errs.Wrap(ErrMinPositionSize, "%s < %s", pos.SizeInUsd, cfg.MinPositionSizeUsd)
	}
	h, err := settledHealth(m, cfg, p.Prices, pos)
	if err != nil {
		return nil, err
	}
	if !h.OK() {
		return nil, errs.Wrap(ErrInsufficientCollateral, "remaining %s < required %s", h.RemainingUsd, h.RequiredUsd)
	}

	if err := save(tx, pos); err != nil {
		return nil, err
	}
	res.Position = pos
	return res, nil
}

// increaseExecution converts a size delta into index tokens at the
// impact-adjusted price. Positive impact buys longs more tokens and lets
// shorts owe fewer.
func increaseExecution(sizeDeltaUsd, impactUsd decimal.Decimal, index oracle.Price, isLong bool) (tokens, execPrice decimal.Decimal, err error) {
	var base decimal.Decimal
	if isLong {
		base = fpmath.Div(sizeDeltaUsd, index.Max, fpmath.RoundDown)
	} else {
		base = fpmath.Div(sizeDeltaUsd, index.Min, fpmath.RoundUp)
	}
	var impactAmount decimal.Decimal
	if impactUsd.Sign() > 0 {
		impactAmount = fpmath.Div(impactUsd, index.Max, fpmath.RoundDown)
	} else {
		impactAmount = fpmath.Div(impactUsd, index.Min, fpmath.RoundUp)
	}
	if isLong {
		tokens = base.Add(impactAmount)
	} else {
		tokens = base.Sub(impactAmount)
	}
	if tokens.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, errs.Wrap(ErrPriceImpactTooLarge, "impact %s on size %s", impactUsd, sizeDeltaUsd)
	}
	mode := fpmath.RoundDown
	if isLong {
		mode = fpmath.RoundUp
	}
	return tokens, fpmath.Div(sizeDeltaUsd, tokens, mode), nil
}

// validateAcceptable checks the execution price against the order's bound.
// Longs increasing and shorts decreasing need a price at or below it.
func validateAcceptable(execPrice, acceptable decimal.Decimal, isLong, isIncrease bool) error {
	if acceptable.IsZero() {
		return nil
	}
	wantBelow := isLong == isIncrease
	if wantBelow && execPrice.GreaterThan(acceptable) || !wantBelow && execPrice.LessThan(acceptable) {
		return errs.Wrap(ErrUnacceptablePrice, "execution %s, acceptable %s", execPrice, acceptable)
	}
	return nil
}

// ============================================================================
// Decrease
// ============================================================================

// DecreaseParams describes a decrease, a liquidation or an ADL.
type DecreaseParams struct {
	Account               string
	Market                market.Market
	CollateralToken       string
	IsLong                bool
	SizeDeltaUsd          decimal.Decimal
	CollateralDeltaAmount decimal.Decimal
	AcceptablePrice       decimal.Decimal
	// Receiver gets the outputs. The market's own account leaves them in
	// custody for the caller to route further.
	Receiver    ledger.AccountKey
	Prices      *oracle.PriceSet
	Block       uint64
	Now         uint64
	Liquidation bool
	Adl         bool
}

func (p DecreaseParams) forced() bool { return p.Liquidation || p.Adl }

type DecreaseResult struct {
	PositionKey        string
	ExecutionPrice     decimal.Decimal
	PriceImpactUsd     decimal.Decimal
	PriceImpactDiffUsd decimal.Decimal
	BasePnlUsd         decimal.Decimal
	RealizedPnlUsd     decimal.Decimal
	SizeDeltaUsd       decimal.Decimal
	SizeDeltaInTokens  decimal.Decimal

	OutputToken           string
	OutputAmount          decimal.Decimal
	SecondaryOutputToken  string
	SecondaryOutputAmount decimal.Decimal

	CollateralWithheld decimal.Decimal
	TimeKey            uint64
	BadDebtAmount      decimal.Decimal
	WithdrawalDropped  bool
	Closed             bool

	Fees     fees.PositionFees
	Position *Position
}

// Decrease shrinks a position, realizes PnL on the closed part and pays out
// the requested collateral. The withdrawal is measured against what is left
// after losses, fees and withheld impact: a pure withdrawal larger than that
// fails with ErrInsufficientCollateral, while a partial close drops the
// withdrawal and reports WithdrawalDropped. A full close pays out everything.
func (l *Ledger) Decrease(tx store.Tx, batch *ledger.Batch, p DecreaseParams) (*DecreaseResult, error) {
	m := p.Market
	key := Key(p.Account, m.MarketToken, p.CollateralToken, p.IsLong)
	pos, ok := Get(tx, key)
	if !ok {
		return nil, errs.Wrap(ErrPositionNotFound, "%s", key)
	}
	if p.SizeDeltaUsd.Sign() < 0 || p.CollateralDeltaAmount.Sign() < 0 {
		return nil, errs.Wrap(ErrInvalidSizeDelta, "negative decrease")
	}
	if p.SizeDeltaUsd.GreaterThan(pos.SizeInUsd) {
		return nil, errs.Wrap(ErrInvalidSizeDelta, "size delta %s > size %s", p.SizeDeltaUsd, pos.SizeInUsd)
	}
	if p.SizeDeltaUsd.IsZero() && p.CollateralDeltaAmount.IsZero() {
		return nil, errs.Wrap(ErrInvalidSizeDelta, "empty decrease")
	}
	if p.CollateralDeltaAmount.GreaterThan(pos.CollateralAmount) {
		return nil, errs.Wrap(ErrInsufficientCollateral, "withdraw %s > collateral %s", p.CollateralDeltaAmount, pos.CollateralAmount)
	}
	if err := p.Prices.Require(m.IndexToken, m.LongToken, m.ShortToken); err != nil {
		return nil, err
	}
	cfg := l.configs.Load(tx, m.MarketToken)
	if _, err := fees.UpdateFundingAndBorrowing(tx, m, cfg, p.Prices, p.Now); err != nil {
		return nil, err
	}

	sizeDelta := p.SizeDeltaUsd
	if !p.forced() && sizeDelta.LessThan(pos.SizeInUsd) && sizeDelta.Sign() > 0 &&
		pos.SizeInUsd.Sub(sizeDelta).LessThan(cfg.MinPositionSizeUsd) {
		// dust left behind is closed with the rest
		sizeDelta = pos.SizeInUsd
	}
	fullClose := sizeDelta.Equal(pos.SizeInUsd)

	cp, _ := p.Prices.Get(p.CollateralToken)
	pnlToken := m.PnlToken(p.IsLong)
	pnlPrice, _ := p.Prices.Get(pnlToken)
	index, _ := p.Prices.Get(m.IndexToken)

	res := &DecreaseResult{
		PositionKey:           key,
		SizeDeltaUsd:          sizeDelta,
		OutputToken:           p.CollateralToken,
		OutputAmount:          decimal.Zero,
		SecondaryOutputToken:  pnlToken,
		SecondaryOutputAmount: decimal.Zero,
		Closed:                fullClose,
	}

	res.Fees = fees.GetPositionFees(tx, m, cfg, pos.FeeState(), cp, sizeDelta, l.referrals)

	// impact of closing, measured before open interest moves
	if sizeDelta.Sign() > 0 {
		impact := pricing.PositionImpactUsd(tx, m, cfg, sizeDelta.Neg(), p.IsLong)
		impact = pricing.CapPositiveImpactByFactor(impact, sizeDelta, cfg)
		impact, err := pricing.CapPositiveImpactByPool(tx, m, p.Prices, impact)
		if err != nil {
			return nil, err
		}
		maxNegative := cfg.MaxPositionImpact.Negative
		if p.Liquidation {
			maxNegative = cfg.MaxPositionImpactLiq
		}
		capped, excess := pricing.CapNegativeImpact(impact, sizeDelta, maxNegative)
		res.PriceImpactUsd = capped
		if !p.Liquidation {
			res.PriceImpactDiffUsd = excess
		}
	}

	_, basePnl, sizeDeltaInTokens, err := PnlUsd(tx, m, cfg, p.Prices, pos, sizeDelta)
	if err != nil {
		return nil, err
	}
	res.BasePnlUsd = basePnl
	res.SizeDeltaInTokens = sizeDeltaInTokens
	res.RealizedPnlUsd = basePnl.Add(res.PriceImpactUsd)

	res.ExecutionPrice, err = decreaseExecution(pos, sizeDelta, res.PriceImpactUsd, index)
	if err != nil {
		return nil, err
	}
	if !p.forced() {
		if err := validateAcceptable(res.ExecutionPrice, p.AcceptablePrice, p.IsLong, false); err != nil {
			return nil, err
		}
	}

	// settle in collateral token units; buckets are written afterwards
	collateral := pos.CollateralAmount
	lossPaid, profitPaid := decimal.Zero, decimal.Zero
	switch res.RealizedPnlUsd.Sign() {
	case 1:
		profitPaid = fpmath.Div(res.RealizedPnlUsd, pnlPrice.Max, fpmath.RoundDown)
		if pnlToken == p.CollateralToken {
			res.OutputAmount = res.OutputAmount.Add(profitPaid)
		} else {
			res.SecondaryOutputAmount = profitPaid
		}
	case -1:
		loss := fpmath.Div(res.RealizedPnlUsd.Abs(), cp.Min, fpmath.RoundUp)
		lossPaid = fpmath.Min(loss, collateral)
		if lossPaid.LessThan(loss) {
			if !p.Liquidation {
				return nil, errs.Wrap(ErrInsufficientCollateral, "loss %s > collateral %s", loss, collateral)
			}
			res.BadDebtAmount = loss.Sub(lossPaid)
		}
		collateral = collateral.Sub(lossPaid)
	}

	if res.PriceImpactDiffUsd.Sign() > 0 {
		res.CollateralWithheld = fpmath.Div(res.PriceImpactDiffUsd, cp.Min, fpmath.RoundUp)
		if res.CollateralWithheld.GreaterThan(collateral) {
			return nil, errs.Wrap(ErrInsufficientCollateral, "withheld impact %s > collateral %s", res.CollateralWithheld, collateral)
		}
		collateral = collateral.Sub(res.CollateralWithheld)
		res.TimeKey = p.Now / cfg.ClaimableCollateralTimeDivisor
	}

	// fees: output first, then collateral, funding with priority
	available := res.OutputAmount.Add(collateral)
	if available.LessThan(res.Fees.TotalCostAmount) {
		if !p.Liquidation {
			return nil, errs.Wrap(ErrInsufficientCollateral, "fees %s > available %s", res.Fees.TotalCostAmount, available)
		}
		fundingPaid := fpmath.Min(res.Fees.Funding.FundingFeeAmount, available)
		res.BadDebtAmount = res.BadDebtAmount.Add(res.Fees.TotalCostAmount.Sub(available))
		res.Fees.Funding.FundingFeeAmount = fundingPaid
		res.Fees.ScaleToPaid(available.Sub(fundingPaid))
		res.Fees.TotalCostAmount = fundingPaid.Add(res.Fees.TotalCostAmountExcludingFunding)
	}
	fromOutput := fpmath.Min(res.Fees.TotalCostAmount, res.OutputAmount)
	res.OutputAmount = res.OutputAmount.Sub(fromOutput)
	collateral = collateral.Sub(res.Fees.TotalCostAmount.Sub(fromOutput))

	// collateral withdrawal, never against unrealized profit
	next := *pos
	next.SizeInUsd = pos.SizeInUsd.Sub(sizeDelta)
	next.SizeInTokens = pos.SizeInTokens.Sub(res.SizeDeltaInTokens)
	next.applySnapshots(&res.Fees)
	next.DecreasedAtBlock = p.Block
	withdraw := p.CollateralDeltaAmount
	if fullClose {
		withdraw = collateral
	}
	if withdraw.GreaterThan(collateral) {
		if sizeDelta.IsZero() {
			return nil, errs.Wrap(ErrInsufficientCollateral, "withdraw %s > collateral %s after costs", withdraw, collateral)
		}
		res.WithdrawalDropped = true
		withdraw = decimal.Zero
	}
	next.CollateralAmount = collateral.Sub(withdraw)
	if !fullClose && !p.forced() {
		h, err := settledHealth(m, cfg, p.Prices, &next)
		if err != nil {
			return nil, err
		}
		if !h.OK() && withdraw.Sign() > 0 {
			if sizeDelta.IsZero() {
				return nil, errs.Wrap(ErrUnhealthyPosition, "withdrawal leaves %s < required %s", h.RemainingUsd, h.RequiredUsd)
			}
			res.WithdrawalDropped = true
			withdraw = decimal.Zero
			next.CollateralAmount = collateral
			h, err = settledHealth(m, cfg, p.Prices, &next)
			if err != nil {
				return nil, err
			}
		}
		if !h.OK() {
			return nil, errs.Wrap(ErrUnhealthyPosition, "remaining %s < required %s", h.RemainingUsd, h.RequiredUsd)
		}
	}
	res.OutputAmount = res.OutputAmount.Add(withdraw)

	// write buckets
	if _, err := pricing.ApplyPositionImpact(tx, m, p.Prices, res.PriceImpactUsd); err != nil {
		return nil, err
	}
	if err := market.ApplyDeltaToCollateralSum(tx, m, p.CollateralToken, p.IsLong, next.CollateralAmount.Sub(pos.CollateralAmount)); err != nil {
		return nil, err
	}
	if _, err := market.ApplyDeltaToPoolAmount(tx, m, p.CollateralToken, lossPaid); err != nil {
		return nil, err
	}
	if _, err := market.ApplyDeltaToPoolAmount(tx, m, pnlToken, profitPaid.Neg()); err != nil {
		return nil, err
	}
	if w := res.CollateralWithheld; w.Sign() > 0 {
		if _, err := tx.AddDecimal(store.ClaimableCollateralAmountKey(m.MarketToken, p.CollateralToken, res.TimeKey, p.Account), w); err != nil {
			return nil, err
		}
		if _, err := tx.AddDecimal(store.ClaimableCollateralTotalKey(m.MarketToken, p.CollateralToken), w); err != nil {
			return nil, err
		}
	}
	if err := fees.Distribute(tx, m, p.Account, p.CollateralToken, &res.Fees); err != nil {
		return nil, err
	}
	if err := market.ApplyDeltaToOpenInterest(tx, m, cfg, p.CollateralToken, p.IsLong, sizeDelta.Neg(), res.SizeDeltaInTokens.Neg()); err != nil {
		return nil, err
	}
	if err := fees.ApplyDeltaToTotalBorrowing(tx, m, p.IsLong, pos.SizeInUsd, pos.BorrowingFactor, next.SizeInUsd, next.BorrowingFactor); err != nil {
		return nil, err
	}

	if next.SizeInUsd.IsZero() {
		res.Closed = true
		if err := remove(tx, pos); err != nil {
			return nil, err
		}
	} else {
		if err := save(tx, &next); err != nil {
			return nil, err
		}
		res.Position = &next
	}

	if err := l.payOut(tx, batch, m, p.Receiver, p.CollateralToken, res.OutputAmount); err != nil {
		return nil, err
	}
	if err := l.payOut(tx, batch, m, p.Receiver, pnlToken, res.SecondaryOutputAmount); err != nil {
		return nil, err
	}
	return res, nil
}

// decreaseExecution shifts the index price by the impact spread over the
// closed size at the position's average entry price.
func decreaseExecution(pos *Position, sizeDeltaUsd, impactUsd decimal.Decimal, index oracle.Price) (decimal.Decimal, error) {
	price := index.PickForPnl(pos.IsLong, false)
	if sizeDeltaUsd.IsZero() || pos.SizeInTokens.IsZero() {
		return price, nil
	}
	adjusted := impactUsd
	if !pos.IsLong {
		adjusted = impactUsd.Neg()
	}
	if adjusted.Sign() < 0 && adjusted.Abs().GreaterThan(sizeDeltaUsd) {
		return decimal.Zero, errs.Wrap(ErrPriceImpactTooLarge, "impact %s on size %s", impactUsd, sizeDeltaUsd)
	}
	adjustment := fpmath.Div(fpmath.MulDiv(pos.SizeInUsd, adjusted, pos.SizeInTokens, fpmath.RoundDown), sizeDeltaUsd, fpmath.RoundDown)
	exec := price.Add(adjustment)
	if exec.Sign() <= 0 {
		return decimal.Zero, errs.Wrap(ErrPriceImpactTooLarge, "execution price %s", exec)
	}
	return exec, nil
}

func (l *Ledger) payOut(tx store.Tx, batch *ledger.Batch, m market.Market, receiver ledger.AccountKey, token string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 || receiver == ledger.MarketAccount(m.MarketToken) {
		return nil
	}
	return l.bank.Transfer(tx, batch, ledger.MarketAccount(m.MarketToken), receiver, token, amount, ledger.JournalTypePositionOutput)
}

// ============================================================================
// Liquidation
// ============================================================================

// Liquidate fully closes a position that fails the liquidation threshold.
// Remaining collateral goes back to the account. Requires
// RoleLiquidationKeeper.
func (l *Ledger) Liquidate(tx store.Tx, batch *ledger.Batch, m market.Market, key string, prices *oracle.PriceSet, block, now uint64) (*DecreaseResult, error) {
	if err := tx.Capability().Require(auth.RoleLiquidationKeeper); err != nil {
		return nil, err
	}
	pos, ok := Get(tx, key)
	if !ok {
		return nil, errs.Wrap(ErrPositionNotFound, "%s", key)
	}
	if err := prices.Require(m.IndexToken, m.LongToken, m.ShortToken); err != nil {
		return nil, err
	}
	cfg := l.configs.Load(tx, m.MarketToken)
	h, err := LiquidationHealth(tx, m, cfg, prices, pos, now)
	if err != nil {
		return nil, err
	}
	if h.OK() {
		return nil, errs.Wrap(ErrPositionNotLiquidatable, "remaining %s >= required %s", h.RemainingUsd, h.RequiredUsd)
	}
	return l.Decrease(tx, batch, DecreaseParams{
		Account:         pos.Account,
		Market:          m,
		CollateralToken: pos.CollateralToken,
		IsLong:          pos.IsLong,
		SizeDeltaUsd:    pos.SizeInUsd,
		Receiver:        ledger.UserAccount(pos.Account),
		Prices:          prices,
		Block:           block,
		Now:             now,
		Liquidation:     true,
	})
}
