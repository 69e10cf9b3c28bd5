package core

import (
	"fmt"

	"PoolLedger/internal/adl"
	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/order"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var ErrInvalidCommand = errs.New(errs.ErrValidation, "invalid command")

func (e *Engine) dispatch(tx store.Tx, batch *ledger.Batch, evt event.Event) (any, []event.Outcome, error) {
	h := evt.Meta()
	for _, amount := range rawAmounts(evt) {
		if amount.Sign() < 0 || !amount.IsInteger() {
			return nil, nil, errs.Wrap(ErrInvalidCommand, "%s: token amount %s must be a non-negative integer", evt.EventType(), amount)
		}
	}
	switch c := evt.(type) {
	case *event.CreateMarket:
		if err := e.registry.Create(tx, c.Market); err != nil {
			return nil, nil, err
		}
		e.logger.Info().Str("market", c.Market.String()).Msg("market created")
		return c.Market, nil, nil

	case *event.ApplyMarketConfig:
		if err := e.configs.Apply(tx, c.Market, c.Config); err != nil {
			return nil, nil, err
		}
		e.logger.Info().Str("market", c.Market).Str("caller", h.Caller).Msg("market config applied")
		return nil, nil, nil

	case *event.ExternalDeposit:
		return nil, nil, e.handleExternalDeposit(tx, batch, h, c)

	case *event.ExternalWithdrawal:
		if c.Amount.Sign() <= 0 {
			return nil, nil, errs.Wrap(ErrInvalidCommand, "withdrawal amount %s", c.Amount)
		}
		return nil, nil, e.bank.Transfer(tx, batch, ledger.UserAccount(h.Caller), ledger.ExternalAccount(h.Source), c.Token, c.Amount, ledger.JournalTypeExternalWithdrawal)

	case *event.Deposit:
		prices, err := buildPrices(c.Oracle, h.Block)
		if err != nil {
			return nil, nil, err
		}
		res, err := e.pools.Deposit(tx, batch, pool.DepositParams{
			Account:          h.Caller,
			Receiver:         orDefault(c.Receiver, h.Caller),
			Market:           c.Market,
			LongTokenAmount:  c.LongTokenAmount,
			ShortTokenAmount: c.ShortTokenAmount,
			MinMarketTokens:  c.MinMarketTokens,
			Prices:           prices,
			Now:              h.Timestamp,
		})
		return res, nil, err

	case *event.Withdraw:
		prices, err := buildPrices(c.Oracle, h.Block)
		if err != nil {
			return nil, nil, err
		}
		res, err := e.pools.Withdraw(tx, batch, pool.WithdrawParams{
			Account:             h.Caller,
			Receiver:            orDefault(c.Receiver, h.Caller),
			Market:              c.Market,
			MarketTokenAmount:   c.MarketTokenAmount,
			MinLongTokenAmount:  c.MinLongTokenAmount,
			MinShortTokenAmount: c.MinShortTokenAmount,
			Prices:              prices,
			Now:                 h.Timestamp,
		})
		return res, nil, err

	case *event.CreateOrder:
		p := c.Order
		p.Account = h.Caller
		p.Key = h.CommandID.String()
		o, err := e.orders.Create(tx, batch, p, h.Block, h.Timestamp)
		if err != nil {
			return nil, nil, err
		}
		return o, []event.Outcome{{Kind: event.OutcomeOrderCreated, Key: o.Key, Market: o.Market}}, nil

	case *event.UpdateOrder:
		o, err := e.orders.Update(tx, order.UpdateParams{
			Key:             c.Key,
			Account:         h.Caller,
			SizeDeltaUsd:    c.SizeDeltaUsd,
			AcceptablePrice: c.AcceptablePrice,
			TriggerPrice:    c.TriggerPrice,
			MinOutputAmount: c.MinOutputAmount,
		}, h.Block, h.Timestamp)
		if err != nil {
			return nil, nil, err
		}
		return o, []event.Outcome{{Kind: event.OutcomeOrderUpdated, Key: o.Key, Market: o.Market}}, nil

	case *event.CancelOrder:
		p := order.CancelParams{Key: c.Key, Account: h.Caller, Reason: c.Reason}
		if c.AsKeeper {
			p.Account = ""
		}
		o, err := e.orders.Cancel(tx, batch, p)
		if err != nil {
			return nil, nil, err
		}
		return o, []event.Outcome{{Kind: event.OutcomeOrderCancelled, Key: o.Key, Market: o.Market, Reason: c.Reason}}, nil

	case *event.ExecuteOrder:
		prices, err := buildPrices(c.Oracle, h.Block)
		if err != nil {
			return nil, nil, err
		}
		res, err := e.orders.Execute(tx, batch, order.ExecuteParams{
			Key:    c.Key,
			Keeper: orDefault(c.Keeper, h.Caller),
			Prices: prices,
			Block:  h.Block,
			Now:    h.Timestamp,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := e.validateSolvency(tx, res.Order.Markets(), prices, h.Timestamp); err != nil {
			return nil, nil, err
		}
		if e.metrics != nil {
			e.metrics.KeeperFees.WithLabelValues(e.orders.Gas().FeeToken).Add(res.Order.ExecutionFee.InexactFloat64())
		}
		return res, []event.Outcome{{Kind: event.OutcomeOrderExecuted, Key: res.Order.Key, Market: res.Order.Market}}, nil

	case *event.FreezeOrder:
		o, err := e.orders.Freeze(tx, c.Key, c.Reason)
		if err != nil {
			return nil, nil, err
		}
		return o, []event.Outcome{{Kind: event.OutcomeOrderFrozen, Key: o.Key, Market: o.Market, Reason: c.Reason}}, nil

	case *event.Liquidate:
		return e.handleLiquidate(tx, batch, h, c)

	case *event.UpdateAdlState:
		prices, err := buildPrices(c.Oracle, h.Block)
		if err != nil {
			return nil, nil, err
		}
		before := e.adl.State(tx, c.Market, c.IsLong)
		state, err := e.adl.UpdateState(tx, c.Market, c.IsLong, prices, h.Block)
		if err != nil {
			return nil, nil, err
		}
		return state, e.adlTransition(c.Market, c.IsLong, before.Enabled, state.Enabled), nil

	case *event.ExecuteAdl:
		prices, err := buildPrices(c.Oracle, h.Block)
		if err != nil {
			return nil, nil, err
		}
		res, err := e.adl.Execute(tx, batch, adlParams(c, prices, h))
		if err != nil {
			return nil, nil, err
		}
		if e.metrics != nil {
			e.metrics.AdlExecutions.WithLabelValues(c.Market, observability.SideLabel(c.IsLong)).Inc()
		}
		e.warnIfInsolvent(tx, c.Market, prices, h.Timestamp, "adl")
		key := position.Key(c.Account, c.Market, c.CollateralToken, c.IsLong)
		outcomes := []event.Outcome{{Kind: event.OutcomeAdlExecuted, Key: key, Market: c.Market}}
		if !e.adl.State(tx, c.Market, c.IsLong).Enabled {
			outcomes = append(outcomes, e.adlTransition(c.Market, c.IsLong, true, false)...)
		}
		return res, outcomes, nil

	case *event.ClaimFunding:
		amounts, err := e.claims.ClaimFundingFees(tx, batch, h.Caller, c.Markets, c.Tokens, orDefault(c.Receiver, h.Caller))
		return amounts, nil, err

	case *event.ClaimCollateral:
		amounts, err := e.claims.ClaimCollateral(tx, batch, h.Caller, c.Markets, c.Tokens, c.TimeKeys, orDefault(c.Receiver, h.Caller))
		return amounts, nil, err

	case *event.ClaimAffiliate:
		amounts, err := e.claims.ClaimAffiliateRewards(tx, batch, h.Caller, c.Markets, c.Tokens, orDefault(c.Receiver, h.Caller))
		return amounts, nil, err

	case *event.ClaimFees:
		amounts, err := e.claims.ClaimFees(tx, batch, c.Markets, c.Tokens, orDefault(c.Receiver, h.Caller))
		return amounts, nil, err
	}
	return nil, nil, errs.Wrap(ErrInvalidCommand, "unhandled command %T", evt)
}

// handleExternalDeposit credits tokens arriving from the command's source.
// Only callers the directory grants RoleController may mint custody.
func (e *Engine) handleExternalDeposit(tx store.Tx, batch *ledger.Batch, h event.Header, c *event.ExternalDeposit) error {
	if err := e.roles.Capability(h.Caller).Require(auth.RoleController); err != nil {
		return err
	}
	if c.Account == "" || c.Token == "" || c.Amount.Sign() <= 0 {
		return errs.Wrap(ErrInvalidCommand, "deposit account=%q token=%q amount=%s", c.Account, c.Token, c.Amount)
	}
	return e.bank.Transfer(tx, batch, ledger.ExternalAccount(h.Source), ledger.UserAccount(c.Account), c.Token, c.Amount, ledger.JournalTypeExternalDeposit)
}

func (e *Engine) handleLiquidate(tx store.Tx, batch *ledger.Batch, h event.Header, c *event.Liquidate) (any, []event.Outcome, error) {
	prices, err := buildPrices(c.Oracle, h.Block)
	if err != nil {
		return nil, nil, err
	}
	m, err := e.registry.Get(tx, c.Market)
	if err != nil {
		return nil, nil, err
	}
	key := position.Key(c.Account, c.Market, c.CollateralToken, c.IsLong)
	res, err := e.positions.Liquidate(tx, batch, m, key, prices, h.Block, h.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info().Str("position", key).Str("keeper", h.Caller).Str("pnl_usd", res.RealizedPnlUsd.String()).Msg("position liquidated")
	e.warnIfInsolvent(tx, c.Market, prices, h.Timestamp, "liquidation")
	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(c.Market, observability.SideLabel(c.IsLong)).Inc()
	}
	return res, []event.Outcome{{Kind: event.OutcomePositionLiquidated, Key: key, Market: c.Market}}, nil
}

// validateSolvency requires the minimized pool value of every listed market
// to stay non-negative once an execution has been applied.
func (e *Engine) validateSolvency(r store.Reader, markets []string, prices *oracle.PriceSet, now uint64) error {
	for _, mt := range markets {
		m, err := e.registry.Get(r, mt)
		if err != nil {
			return err
		}
		if err := pool.ValidateSolvency(r, m, e.configs.Load(r, mt), prices, now); err != nil {
			return err
		}
	}
	return nil
}

// warnIfInsolvent reports a forced close that leaves its market insolvent.
// Liquidations and ADL shrink exposure and realize bad debt, so they commit
// regardless.
func (e *Engine) warnIfInsolvent(r store.Reader, marketToken string, prices *oracle.PriceSet, now uint64, kind string) {
	if err := e.validateSolvency(r, []string{marketToken}, prices, now); err != nil {
		e.logger.Warn().Err(err).Str("market", marketToken).Str("kind", kind).Msg("market insolvent after forced close")
	}
}

// handleOrderFailure runs after a failed execution has been rolled back and
// cancels, freezes or keeps the order.
func (e *Engine) handleOrderFailure(tx store.Tx, batch *ledger.Batch, key string, execErr error) (any, []event.Outcome, error) {
	o, _ := order.Get(tx, key)
	action, err := e.orders.HandleFailure(tx, batch, key, execErr)
	if err != nil {
		return nil, nil, err
	}
	if o == nil || action == order.ActionKeep {
		return nil, nil, nil
	}
	if e.metrics != nil {
		e.metrics.OrderFailures.WithLabelValues(o.Type.String(), action.String()).Inc()
	}
	kind := event.OutcomeOrderCancelled
	if action == order.ActionFreeze {
		kind = event.OutcomeOrderFrozen
	}
	return nil, []event.Outcome{{Kind: kind, Key: key, Market: o.Market, Reason: execErr.Error()}}, nil
}

func (e *Engine) adlTransition(market string, isLong, before, after bool) []event.Outcome {
	if before == after {
		return nil
	}
	kind := event.OutcomeAdlDisabled
	if after {
		kind = event.OutcomeAdlEnabled
	}
	if e.metrics != nil {
		e.metrics.AdlStateChange.WithLabelValues(market, observability.SideLabel(isLong), fmt.Sprint(after)).Inc()
	}
	return []event.Outcome{{Kind: kind, Market: market, Reason: observability.SideLabel(isLong)}}
}

// buildPrices turns a report into a price set settled at block.
func buildPrices(report event.PriceReport, block uint64) (*oracle.PriceSet, error) {
	prices, err := report.Build()
	if err != nil {
		return nil, err
	}
	if err := prices.Validate(block); err != nil {
		return nil, err
	}
	return prices, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func adlParams(c *event.ExecuteAdl, prices *oracle.PriceSet, h event.Header) adl.ExecuteParams {
	return adl.ExecuteParams{
		Market:          c.Market,
		Account:         c.Account,
		CollateralToken: c.CollateralToken,
		IsLong:          c.IsLong,
		SizeDeltaUsd:    c.SizeDeltaUsd,
		Prices:          prices,
		Block:           h.Block,
		Now:             h.Timestamp,
	}
}

// rawAmounts lists the raw token amounts a command carries. They reach the
// bank unchanged, so fractions are refused before any transfer.
func rawAmounts(evt event.Event) []decimal.Decimal {
	switch c := evt.(type) {
	case *event.ExternalDeposit:
		return []decimal.Decimal{c.Amount}
	case *event.ExternalWithdrawal:
		return []decimal.Decimal{c.Amount}
	case *event.Deposit:
		return []decimal.Decimal{c.LongTokenAmount, c.ShortTokenAmount, c.MinMarketTokens}
	case *event.Withdraw:
		return []decimal.Decimal{c.MarketTokenAmount, c.MinLongTokenAmount, c.MinShortTokenAmount}
	case *event.CreateOrder:
		return []decimal.Decimal{c.Order.InitialCollateralDeltaAmount, c.Order.ExecutionFee, c.Order.MinOutputAmount}
	case *event.UpdateOrder:
		return []decimal.Decimal{c.MinOutputAmount}
	}
	return nil
}
