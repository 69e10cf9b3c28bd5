package pool

import (
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSwapMarket       = errs.New(errs.ErrValidation, "invalid swap market")
	ErrDuplicateSwapPathMarket = errs.New(errs.ErrValidation, "duplicated market in swap path")
	ErrEmptySwap               = errs.New(errs.ErrValidation, "empty swap")
	ErrSwapOutputTooLow        = errs.New(errs.ErrInsufficientOutput, "swap output below minimum")
)

type SwapParams struct {
	Market   string
	TokenIn  string
	AmountIn decimal.Decimal
	// From holds AmountIn. When it is the market's own account the tokens are
	// already in custody and no transfer is made.
	From ledger.AccountKey
	// Receiver gets the output. The market's own account leaves it in custody.
	Receiver ledger.AccountKey
	Prices   *oracle.PriceSet
}

type SwapResult struct {
	Market         string          `json:"market"`
	TokenIn        string          `json:"token_in"`
	TokenOut       string          `json:"token_out"`
	AmountIn       decimal.Decimal `json:"amount_in"`
	AmountOut      decimal.Decimal `json:"amount_out"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	PriceImpactUsd decimal.Decimal `json:"price_impact_usd"`
	// ImpactAmount is the positive impact paid out in the output token, or
	// the input tokens kept by the impact pool when negative.
	ImpactAmount decimal.Decimal `json:"impact_amount"`
}

// Swap trades TokenIn for the market's other backing token. The fee is taken
// from the input; the impact is settled against the swap impact pools.
func (mgr *Manager) Swap(tx store.Tx, batch *ledger.Batch, p SwapParams) (*SwapResult, error) {
	m, err := mgr.registry.Get(tx, p.Market)
	if err != nil {
		return nil, err
	}
	if m.IsSingleToken() {
		return nil, errs.Wrap(ErrInvalidSwapMarket, "market %s has a single backing token", m.MarketToken)
	}
	tokenOut, err := m.OppositeToken(p.TokenIn)
	if err != nil {
		return nil, err
	}
	if p.AmountIn.Sign() <= 0 {
		return nil, errs.Wrap(ErrEmptySwap, "market %s amount %s", m.MarketToken, p.AmountIn)
	}
	if err := p.Prices.Require(p.TokenIn, tokenOut); err != nil {
		return nil, err
	}
	cfg := mgr.configs.Load(tx, m.MarketToken)
	inPrice, _ := p.Prices.Get(p.TokenIn)
	outPrice, _ := p.Prices.Get(tokenOut)

	custody := ledger.MarketAccount(m.MarketToken)
	if p.From != custody {
		if err := mgr.bank.Transfer(tx, batch, p.From, custody, p.TokenIn, p.AmountIn, ledger.JournalTypeSwapHop); err != nil {
			return nil, err
		}
	}

	fee, receiverFee := swapFees(cfg, p.AmountIn)
	afterFees := p.AmountIn.Sub(fee)

	// impact is measured on the pool before this swap moves it
	usd := afterFees.Mul(inPrice.Mid())
	impact, err := pricing.SwapImpactUsd(tx, m, cfg, p.Prices, p.TokenIn, tokenOut, usd, usd)
	if err != nil {
		return nil, err
	}

	res := &SwapResult{
		Market:         m.MarketToken,
		TokenIn:        p.TokenIn,
		TokenOut:       tokenOut,
		AmountIn:       p.AmountIn,
		FeeAmount:      fee,
		PriceImpactUsd: impact,
		ImpactAmount:   decimal.Zero,
	}
	bonus := decimal.Zero
	if impact.Sign() > 0 {
		if bonus, err = pricing.ApplySwapImpactWithCap(tx, m, tokenOut, outPrice, impact); err != nil {
			return nil, err
		}
		res.ImpactAmount = bonus
	} else if impact.Sign() < 0 {
		owed, err := pricing.ApplySwapImpactWithCap(tx, m, p.TokenIn, inPrice, impact)
		if err != nil {
			return nil, err
		}
		afterFees = afterFees.Add(owed)
		res.ImpactAmount = owed
		if afterFees.Sign() < 0 {
			return nil, errs.Wrap(ErrSwapOutputTooLow, "%s %s does not cover impact of %s", p.AmountIn, p.TokenIn, owed.Neg())
		}
	}

	amountOut := fpmath.Div(afterFees.Mul(inPrice.Min), outPrice.Max, fpmath.RoundDown)
	if _, err := market.ApplyDeltaToPoolAmount(tx, m, p.TokenIn, afterFees.Add(fee).Sub(receiverFee)); err != nil {
		return nil, err
	}
	if err := addClaimableFee(tx, m, p.TokenIn, receiverFee); err != nil {
		return nil, err
	}
	if _, err := market.ApplyDeltaToPoolAmount(tx, m, tokenOut, amountOut.Neg()); err != nil {
		return nil, err
	}
	if err := market.ValidateReserve(tx, m, cfg, p.Prices, tokenOut == m.LongToken); err != nil {
		return nil, err
	}
	if err := market.ValidateMaxPoolAmount(tx, m, cfg, p.TokenIn); err != nil {
		return nil, err
	}

	res.AmountOut = amountOut.Add(bonus)
	if p.Receiver != custody {
		if err := mgr.bank.Transfer(tx, batch, custody, p.Receiver, tokenOut, res.AmountOut, ledger.JournalTypeSwapHop); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type SwapPathParams struct {
	TokenIn   string
	AmountIn  decimal.Decimal
	Path      []string
	MinOutput decimal.Decimal
	From      ledger.AccountKey
	Receiver  ledger.AccountKey
	Prices    *oracle.PriceSet
}

type SwapPathResult struct {
	TokenOut  string          `json:"token_out"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Hops      []*SwapResult   `json:"hops"`
}

// SwapPath runs a swap through each market of the path in order. Every hop
// hands its output straight to the next market's custody. An empty path
// forwards the input unchanged.
func (mgr *Manager) SwapPath(tx store.Tx, batch *ledger.Batch, p SwapPathParams) (*SwapPathResult, error) {
	seen := make(map[string]struct{}, len(p.Path))
	for _, mk := range p.Path {
		if _, dup := seen[mk]; dup {
			return nil, errs.Wrap(ErrDuplicateSwapPathMarket, "%s", mk)
		}
		seen[mk] = struct{}{}
	}

	res := &SwapPathResult{TokenOut: p.TokenIn, AmountOut: p.AmountIn}
	if len(p.Path) == 0 {
		if p.From != p.Receiver {
			if err := mgr.bank.Transfer(tx, batch, p.From, p.Receiver, p.TokenIn, p.AmountIn, ledger.JournalTypeSwapHop); err != nil {
				return nil, err
			}
		}
	}

	from := p.From
	for i, mk := range p.Path {
		receiver := p.Receiver
		if i+1 < len(p.Path) {
			receiver = ledger.MarketAccount(p.Path[i+1])
		}
		hop, err := mgr.Swap(tx, batch, SwapParams{
			Market:   mk,
			TokenIn:  res.TokenOut,
			AmountIn: res.AmountOut,
			From:     from,
			Receiver: receiver,
			Prices:   p.Prices,
		})
		if err != nil {
			return nil, errs.Wrap(err, "swap path hop %d", i)
		}
		res.Hops = append(res.Hops, hop)
		res.TokenOut, res.AmountOut = hop.TokenOut, hop.AmountOut
		from = receiver
	}

	if res.AmountOut.LessThan(p.MinOutput) {
		return nil, errs.Wrap(ErrSwapOutputTooLow, "%s %s < %s", res.AmountOut, res.TokenOut, p.MinOutput)
	}
	return res, nil
}
