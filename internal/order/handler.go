package order

import (
	"errors"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder               = errs.New(errs.ErrValidation, "invalid order")
	ErrInvalidSwapPath            = errs.New(errs.ErrValidation, "invalid swap path")
	ErrOrderNotFound              = errs.New(errs.ErrValidation, "order not found")
	ErrNotOrderOwner              = errs.New(errs.ErrValidation, "caller does not own order")
	ErrOrderNotUpdatable          = errs.New(errs.ErrValidation, "market orders cannot be updated")
	ErrOrderNotFreezable          = errs.New(errs.ErrValidation, "market orders cannot be frozen")
	ErrTriggerNotReached          = errs.New(errs.ErrValidation, "trigger price not reached")
	ErrSimulationRejected         = errs.New(errs.ErrValidation, "simulation of frozen order rejected")
	ErrStaleOrderPrices           = errs.New(errs.ErrStalePrice, "oracle prices older than order window")
	ErrInsufficientDecreaseOutput = errs.New(errs.ErrInsufficientOutput, "decrease output below minimum")
)

// Handler drives orders through their lifecycle.
type Handler struct {
	bank      *ledger.Bank
	registry  *market.Registry
	positions *position.Ledger
	pools     *pool.Manager
	gas       GasConfig
	callbacks Callbacks
	logger    zerolog.Logger
}

func NewHandler(
	bank *ledger.Bank,
	registry *market.Registry,
	positions *position.Ledger,
	pools *pool.Manager,
	gas GasConfig,
	callbacks Callbacks,
	logger zerolog.Logger,
) *Handler {
	if callbacks == nil {
		callbacks = NoCallbacks{}
	}
	return &Handler{
		bank:      bank,
		registry:  registry,
		positions: positions,
		pools:     pools,
		gas:       gas,
		callbacks: callbacks,
		logger:    logger,
	}
}

func (h *Handler) Gas() GasConfig { return h.gas }

// ============================================================================
// Create / Update / Cancel / Freeze
// ============================================================================

// CreateParams is the order creation request.
type CreateParams struct {
	// Key names the order. Empty draws a random one; replayed commands pass
	// a key derived from the command so replays store the same order.
	Key                    string   `json:"key,omitempty"`
	Account                string   `json:"account"`
	Receiver               string   `json:"receiver"`
	CallbackContract       string   `json:"callback_contract"`
	Market                 string   `json:"market"`
	InitialCollateralToken string   `json:"initial_collateral_token"`
	SwapPath               []string `json:"swap_path"`

	SizeDeltaUsd                 decimal.Decimal `json:"size_delta_usd"`
	InitialCollateralDeltaAmount decimal.Decimal `json:"initial_collateral_delta_amount"`
	TriggerPrice                 decimal.Decimal `json:"trigger_price"`
	AcceptablePrice              decimal.Decimal `json:"acceptable_price"`
	ExecutionFee                 decimal.Decimal `json:"execution_fee"`
	CallbackGasLimit             uint64          `json:"callback_gas_limit"`
	MinOutputAmount              decimal.Decimal `json:"min_output_amount"`

	Type                     Type             `json:"type"`
	DecreasePositionSwapType DecreaseSwapType `json:"decrease_position_swap_type"`
	IsLong                   bool             `json:"is_long"`
	ShouldUnwrapNativeToken  bool             `json:"should_unwrap_native_token"`
}

// Create validates and stores an order, escrowing its collateral (swaps and
// increases) and execution fee in the order vault. Requires RoleController.
func (h *Handler) Create(tx store.Tx, batch *ledger.Batch, p CreateParams, block, now uint64) (*Order, error) {
	if err := tx.Capability().Require(auth.RoleController); err != nil {
		return nil, err
	}
	if p.Account == "" {
		return nil, errs.Wrap(ErrInvalidOrder, "empty account")
	}
	if p.Key == "" {
		p.Key = uuid.NewString()
	} else if _, exists := Get(tx, p.Key); exists {
		return nil, errs.Wrap(ErrInvalidOrder, "order %s already exists", p.Key)
	}
	o := &Order{
		Key:                          p.Key,
		Account:                      p.Account,
		Receiver:                     p.Receiver,
		CallbackContract:             p.CallbackContract,
		Market:                       p.Market,
		InitialCollateralToken:       p.InitialCollateralToken,
		SwapPath:                     append([]string(nil), p.SwapPath...),
		Type:                         p.Type,
		DecreasePositionSwapType:     p.DecreasePositionSwapType,
		IsLong:                       p.IsLong,
		ShouldUnwrapNativeToken:      p.ShouldUnwrapNativeToken,
		SizeDeltaUsd:                 p.SizeDeltaUsd,
		InitialCollateralDeltaAmount: p.InitialCollateralDeltaAmount,
		TriggerPrice:                 p.TriggerPrice,
		AcceptablePrice:              p.AcceptablePrice,
		ExecutionFee:                 p.ExecutionFee,
		CallbackGasLimit:             p.CallbackGasLimit,
		MinOutputAmount:              p.MinOutputAmount,
		UpdatedAtBlock:               block,
		UpdatedAtTime:                now,
	}
	if o.Receiver == "" {
		o.Receiver = o.Account
	}
	if o.Type.IsSwap() {
		o.Market = ""
	}
	if err := h.validate(tx, o); err != nil {
		return nil, err
	}
	if err := h.gas.ValidateExecutionFee(o); err != nil {
		return nil, err
	}

	user, vault := ledger.UserAccount(o.Account), ledger.OrderVault()
	if !o.Type.IsDecrease() {
		if err := h.bank.Transfer(tx, batch, user, vault, o.InitialCollateralToken, o.InitialCollateralDeltaAmount, ledger.JournalTypeOrderCollateral); err != nil {
			return nil, err
		}
	}
	if err := h.bank.Transfer(tx, batch, user, vault, h.gas.FeeToken, o.ExecutionFee, ledger.JournalTypeOrderExecutionFee); err != nil {
		return nil, err
	}
	if err := save(tx, o); err != nil {
		return nil, err
	}
	h.logger.Debug().Str("order", o.Key).Str("type", o.Type.String()).Str("account", o.Account).Msg("order created")
	return o, nil
}

func (h *Handler) validate(r store.Reader, o *Order) error {
	if _, ok := typeNames[o.Type]; !ok {
		return errs.Wrap(ErrInvalidOrder, "unknown order type %d", o.Type)
	}
	for name, v := range map[string]decimal.Decimal{
		"size_delta_usd":                  o.SizeDeltaUsd,
		"initial_collateral_delta_amount": o.InitialCollateralDeltaAmount,
		"trigger_price":                   o.TriggerPrice,
		"acceptable_price":                o.AcceptablePrice,
		"execution_fee":                   o.ExecutionFee,
		"min_output_amount":               o.MinOutputAmount,
	} {
		if v.Sign() < 0 {
			return errs.Wrap(ErrInvalidOrder, "%s is negative", name)
		}
	}
	if o.InitialCollateralToken == "" {
		return errs.Wrap(ErrInvalidOrder, "empty initial collateral token")
	}
	if !o.Type.IsMarket() && !o.Type.IsSwap() && o.TriggerPrice.Sign() <= 0 {
		return errs.Wrap(ErrInvalidOrder, "%s needs a trigger price", o.Type)
	}

	// the path must chain token to token
	seen := make(map[string]struct{}, len(o.SwapPath))
	token := o.InitialCollateralToken
	for _, mk := range o.SwapPath {
		if _, dup := seen[mk]; dup {
			return errs.Wrap(ErrInvalidSwapPath, "market %s repeated", mk)
		}
		seen[mk] = struct{}{}
		m, err := h.registry.Get(r, mk)
		if err != nil {
			return errs.Wrap(ErrInvalidSwapPath, "%v", err)
		}
		if !o.Type.IsDecrease() {
			next, err := m.OppositeToken(token)
			if err != nil {
				return errs.Wrap(ErrInvalidSwapPath, "%v", err)
			}
			token = next
		}
	}

	switch {
	case o.Type.IsSwap():
		if len(o.SwapPath) == 0 {
			return errs.Wrap(ErrInvalidSwapPath, "swap order without path")
		}
		if o.InitialCollateralDeltaAmount.Sign() <= 0 {
			return errs.Wrap(ErrInvalidOrder, "swap of nothing")
		}
	case o.Type.IsIncrease():
		m, err := h.registry.Get(r, o.Market)
		if err != nil {
			return err
		}
		if !m.IsCollateral(token) {
			return errs.Wrap(market.ErrInvalidToken, "collateral %s in %s", token, m.MarketToken)
		}
		if o.SizeDeltaUsd.IsZero() && o.InitialCollateralDeltaAmount.IsZero() {
			return errs.Wrap(ErrInvalidOrder, "empty increase")
		}
	case o.Type.IsDecrease():
		m, err := h.registry.Get(r, o.Market)
		if err != nil {
			return err
		}
		if !m.IsCollateral(o.InitialCollateralToken) {
			return errs.Wrap(market.ErrInvalidToken, "collateral %s in %s", o.InitialCollateralToken, m.MarketToken)
		}
		if o.SizeDeltaUsd.IsZero() && o.InitialCollateralDeltaAmount.IsZero() {
			return errs.Wrap(ErrInvalidOrder, "empty decrease")
		}
	}
	return nil
}

type UpdateParams struct {
	Key             string          `json:"key"`
	Account         string          `json:"account"`
	SizeDeltaUsd    decimal.Decimal `json:"size_delta_usd"`
	AcceptablePrice decimal.Decimal `json:"acceptable_price"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	MinOutputAmount decimal.Decimal `json:"min_output_amount"`
}

// Update changes an order's prices and size at the owner's request. The
// price window restarts at block and a frozen order is released.
func (h *Handler) Update(tx store.Tx, p UpdateParams, block, now uint64) (*Order, error) {
	if err := tx.Capability().Require(auth.RoleController); err != nil {
		return nil, err
	}
	o, ok := Get(tx, p.Key)
	if !ok {
		return nil, errs.Wrap(ErrOrderNotFound, "%s", p.Key)
	}
	if o.Account != p.Account {
		return nil, errs.Wrap(ErrNotOrderOwner, "order %s", p.Key)
	}
	if o.Type.IsMarket() {
		return nil, errs.Wrap(ErrOrderNotUpdatable, "order %s is %s", o.Key, o.Type)
	}
	o.SizeDeltaUsd = p.SizeDeltaUsd
	o.AcceptablePrice = p.AcceptablePrice
	o.TriggerPrice = p.TriggerPrice
	o.MinOutputAmount = p.MinOutputAmount
	if err := h.validate(tx, o); err != nil {
		return nil, err
	}
	o.UpdatedAtBlock = block
	o.UpdatedAtTime = now
	o.IsFrozen = false
	if err := save(tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

type CancelParams struct {
	Key string `json:"key"`
	// Account cancels as the owner. Empty cancels as a keeper, which needs
	// RoleOrderKeeper.
	Account string `json:"account"`
	Reason  string `json:"reason"`
}

// Cancel removes an order and refunds its escrow to the owner.
func (h *Handler) Cancel(tx store.Tx, batch *ledger.Batch, p CancelParams) (*Order, error) {
	if err := tx.Capability().Require(auth.RoleController); err != nil {
		return nil, err
	}
	o, ok := Get(tx, p.Key)
	if !ok {
		return nil, errs.Wrap(ErrOrderNotFound, "%s", p.Key)
	}
	if p.Account == "" {
		if err := tx.Capability().Require(auth.RoleOrderKeeper); err != nil {
			return nil, err
		}
	} else if p.Account != o.Account {
		return nil, errs.Wrap(ErrNotOrderOwner, "order %s", p.Key)
	}
	return o, h.cancel(tx, batch, o, p.Reason)
}

func (h *Handler) cancel(tx store.Tx, batch *ledger.Batch, o *Order, reason string) error {
	user, vault := ledger.UserAccount(o.Account), ledger.OrderVault()
	if !o.Type.IsDecrease() {
		if err := h.bank.Transfer(tx, batch, vault, user, o.InitialCollateralToken, o.InitialCollateralDeltaAmount, ledger.JournalTypeOrderRefund); err != nil {
			return err
		}
	}
	if err := h.bank.Transfer(tx, batch, vault, user, h.gas.FeeToken, o.ExecutionFee, ledger.JournalTypeOrderRefund); err != nil {
		return err
	}
	if err := remove(tx, o); err != nil {
		return err
	}
	h.logger.Info().Str("order", o.Key).Str("type", o.Type.String()).Str("reason", reason).Msg("order cancelled")
	if o.CallbackContract != "" {
		if err := h.callbacks.AfterOrderCancellation(o, reason, o.CallbackGasLimit); err != nil {
			h.logger.Warn().Err(err).Str("order", o.Key).Msg("cancellation callback failed")
		}
	}
	return nil
}

// Freeze parks a trigger order after a failed execution. Only a frozen order
// keeper may execute it until the owner updates it. Requires
// RoleOrderKeeper or RoleFrozenOrderKeeper.
func (h *Handler) Freeze(tx store.Tx, key, reason string) (*Order, error) {
	if err := tx.Capability().RequireAny(auth.RoleOrderKeeper, auth.RoleFrozenOrderKeeper); err != nil {
		return nil, err
	}
	o, ok := Get(tx, key)
	if !ok {
		return nil, errs.Wrap(ErrOrderNotFound, "%s", key)
	}
	return o, h.freeze(tx, o, reason)
}

func (h *Handler) freeze(tx store.Tx, o *Order, reason string) error {
	if o.Type.IsMarket() {
		return errs.Wrap(ErrOrderNotFreezable, "order %s is %s", o.Key, o.Type)
	}
	o.IsFrozen = true
	if err := save(tx, o); err != nil {
		return err
	}
	h.logger.Info().Str("order", o.Key).Str("type", o.Type.String()).Str("reason", reason).Msg("order frozen")
	if o.CallbackContract != "" {
		if err := h.callbacks.AfterOrderFrozen(o, reason, o.CallbackGasLimit); err != nil {
			h.logger.Warn().Err(err).Str("order", o.Key).Msg("freeze callback failed")
		}
	}
	return nil
}

// ============================================================================
// Execute / Simulate
// ============================================================================

type ExecuteParams struct {
	Key string
	// Keeper receives the execution fee. Empty pays the calling capability.
	Keeper string
	Prices *oracle.PriceSet
	Block  uint64
	Now    uint64
}

type ExecutionResult struct {
	Order     *Order                   `json:"order"`
	Swap      *pool.SwapPathResult     `json:"swap,omitempty"`
	Increase  *position.IncreaseResult `json:"increase,omitempty"`
	Decrease  *position.DecreaseResult `json:"decrease,omitempty"`
	Keeper    string                   `json:"keeper"`
	Simulated bool                     `json:"simulated"`

	OutputToken           string          `json:"output_token,omitempty"`
	OutputAmount          decimal.Decimal `json:"output_amount"`
	SecondaryOutputToken  string          `json:"secondary_output_token,omitempty"`
	SecondaryOutputAmount decimal.Decimal `json:"secondary_output_amount"`
}

// Execute fills an order. Pending orders need RoleOrderKeeper, frozen ones
// RoleFrozenOrderKeeper. Prices must come from the order's window. A second
// execution of the same key fails with ErrOrderNotFound.
func (h *Handler) Execute(tx store.Tx, batch *ledger.Batch, p ExecuteParams) (*ExecutionResult, error) {
	o, ok := Get(tx, p.Key)
	if !ok {
		return nil, errs.Wrap(ErrOrderNotFound, "%s", p.Key)
	}
	role := auth.RoleOrderKeeper
	if o.IsFrozen {
		role = auth.RoleFrozenOrderKeeper
	}
	if err := tx.Capability().Require(role); err != nil {
		return nil, err
	}
	if err := p.Prices.Validate(p.Block); err != nil {
		return nil, err
	}
	if p.Prices.MinBlock < o.MinOracleBlock() {
		return nil, errs.Wrap(ErrStaleOrderPrices, "order %s needs prices from block %d, got %d",
			o.Key, o.MinOracleBlock(), p.Prices.MinBlock)
	}

	res, err := h.execute(tx, batch, o, p)
	if err != nil {
		return nil, err
	}

	if res.Keeper == "" {
		res.Keeper = tx.Capability().Caller
	}
	if err := h.bank.Transfer(tx, batch, ledger.OrderVault(), ledger.UserAccount(res.Keeper), h.gas.FeeToken, o.ExecutionFee, ledger.JournalTypeKeeperFee); err != nil {
		return nil, err
	}
	if err := remove(tx, o); err != nil {
		return nil, err
	}
	if o.CallbackContract != "" {
		if err := h.callbacks.AfterOrderExecution(o, res, o.CallbackGasLimit); err != nil {
			if errors.Is(err, ErrCallbackOutOfGas) {
				return nil, errs.Wrap(err, "order %s", o.Key)
			}
			h.logger.Warn().Err(err).Str("order", o.Key).Msg("execution callback failed")
		}
	}
	h.logger.Info().Str("order", o.Key).Str("type", o.Type.String()).Str("keeper", res.Keeper).Msg("order executed")
	return res, nil
}

// Simulate runs an order's execution against the given prices without the
// price window check. The caller discards the transaction. A frozen order
// may only be simulated by a frozen order keeper.
func (h *Handler) Simulate(tx store.Tx, batch *ledger.Batch, p ExecuteParams) (*ExecutionResult, error) {
	if err := tx.Capability().Require(auth.RoleController); err != nil {
		return nil, err
	}
	o, ok := Get(tx, p.Key)
	if !ok {
		return nil, errs.Wrap(ErrOrderNotFound, "%s", p.Key)
	}
	if o.IsFrozen && !tx.Capability().Has(auth.RoleFrozenOrderKeeper) {
		return nil, errs.Wrap(ErrSimulationRejected, "order %s", o.Key)
	}
	res, err := h.execute(tx, batch, o, p)
	if err != nil {
		return nil, err
	}
	res.Simulated = true
	return res, nil
}

func (h *Handler) execute(tx store.Tx, batch *ledger.Batch, o *Order, p ExecuteParams) (*ExecutionResult, error) {
	res := &ExecutionResult{
		Order:                 o,
		Keeper:                p.Keeper,
		OutputAmount:          decimal.Zero,
		SecondaryOutputAmount: decimal.Zero,
	}
	switch {
	case o.Type.IsSwap():
		sp, err := h.pools.SwapPath(tx, batch, pool.SwapPathParams{
			TokenIn:   o.InitialCollateralToken,
			AmountIn:  o.InitialCollateralDeltaAmount,
			Path:      o.SwapPath,
			MinOutput: o.MinOutputAmount,
			From:      ledger.OrderVault(),
			Receiver:  ledger.UserAccount(o.Receiver),
			Prices:    p.Prices,
		})
		if err != nil {
			return nil, err
		}
		res.Swap = sp
		res.OutputToken, res.OutputAmount = sp.TokenOut, sp.AmountOut
		return res, nil

	case o.Type.IsIncrease():
		m, err := h.registry.Get(tx, o.Market)
		if err != nil {
			return nil, err
		}
		if err := checkTrigger(o, m, p.Prices); err != nil {
			return nil, err
		}
		sp, err := h.pools.SwapPath(tx, batch, pool.SwapPathParams{
			TokenIn:   o.InitialCollateralToken,
			AmountIn:  o.InitialCollateralDeltaAmount,
			Path:      o.SwapPath,
			MinOutput: o.MinOutputAmount,
			From:      ledger.OrderVault(),
			Receiver:  ledger.MarketAccount(m.MarketToken),
			Prices:    p.Prices,
		})
		if err != nil {
			return nil, err
		}
		res.Swap = sp
		inc, err := h.positions.Increase(tx, position.IncreaseParams{
			Account:               o.Account,
			Market:                m,
			CollateralToken:       sp.TokenOut,
			IsLong:                o.IsLong,
			SizeDeltaUsd:          o.SizeDeltaUsd,
			CollateralDeltaAmount: sp.AmountOut,
			AcceptablePrice:       o.AcceptablePrice,
			Prices:                p.Prices,
			Block:                 p.Block,
			Now:                   p.Now,
		})
		if err != nil {
			return nil, err
		}
		res.Increase = inc
		return res, nil

	default:
		return h.executeDecrease(tx, batch, o, p, res)
	}
}

func (h *Handler) executeDecrease(tx store.Tx, batch *ledger.Batch, o *Order, p ExecuteParams, res *ExecutionResult) (*ExecutionResult, error) {
	m, err := h.registry.Get(tx, o.Market)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(o, m, p.Prices); err != nil {
		return nil, err
	}
	pos, ok := position.Get(tx, position.Key(o.Account, m.MarketToken, o.InitialCollateralToken, o.IsLong))
	if !ok {
		return nil, errs.Wrap(position.ErrPositionNotFound, "order %s", o.Key)
	}
	size, collateral := o.SizeDeltaUsd, o.InitialCollateralDeltaAmount
	if !o.Type.IsMarket() {
		// trigger orders close at most what is left
		if size.GreaterThan(pos.SizeInUsd) {
			size = pos.SizeInUsd
		}
		if collateral.GreaterThan(pos.CollateralAmount) {
			collateral = pos.CollateralAmount
		}
	}

	custody := ledger.MarketAccount(m.MarketToken)
	user := ledger.UserAccount(o.Receiver)
	direct := len(o.SwapPath) == 0 && o.DecreasePositionSwapType == DecreaseNoSwap
	receiver := user
	if !direct {
		receiver = custody
	}
	dec, err := h.positions.Decrease(tx, batch, position.DecreaseParams{
		Account:               o.Account,
		Market:                m,
		CollateralToken:       o.InitialCollateralToken,
		IsLong:                o.IsLong,
		SizeDeltaUsd:          size,
		CollateralDeltaAmount: collateral,
		AcceptablePrice:       o.AcceptablePrice,
		Receiver:              receiver,
		Prices:                p.Prices,
		Block:                 p.Block,
		Now:                   p.Now,
	})
	if err != nil {
		return nil, err
	}
	res.Decrease = dec
	outToken, outAmount := dec.OutputToken, dec.OutputAmount
	secToken, secAmount := dec.SecondaryOutputToken, dec.SecondaryOutputAmount

	if direct {
		if outAmount.LessThan(o.MinOutputAmount) {
			return nil, errs.Wrap(ErrInsufficientDecreaseOutput, "%s %s < %s", outAmount, outToken, o.MinOutputAmount)
		}
		res.OutputToken, res.OutputAmount = outToken, outAmount
		res.SecondaryOutputToken, res.SecondaryOutputAmount = secToken, secAmount
		return res, nil
	}

	// consolidate both outputs in-market before routing them
	swapInMarket := func(token string, amount decimal.Decimal) (*pool.SwapResult, error) {
		return h.pools.Swap(tx, batch, pool.SwapParams{
			Market:   m.MarketToken,
			TokenIn:  token,
			AmountIn: amount,
			From:     custody,
			Receiver: custody,
			Prices:   p.Prices,
		})
	}
	switch o.DecreasePositionSwapType {
	case DecreaseSwapPnlTokenToCollateralToken:
		if secAmount.Sign() > 0 && secToken != outToken {
			s, err := swapInMarket(secToken, secAmount)
			if err != nil {
				return nil, err
			}
			outAmount = outAmount.Add(s.AmountOut)
			secAmount = decimal.Zero
		}
	case DecreaseSwapCollateralToPnlToken:
		pnlToken := m.PnlToken(o.IsLong)
		if outAmount.Sign() > 0 && outToken != pnlToken {
			s, err := swapInMarket(outToken, outAmount)
			if err != nil {
				return nil, err
			}
			outToken, outAmount = pnlToken, s.AmountOut
			if secToken == pnlToken {
				outAmount = outAmount.Add(secAmount)
				secAmount = decimal.Zero
			}
		}
	}

	if outAmount.Sign() > 0 && len(o.SwapPath) > 0 {
		sp, err := h.pools.SwapPath(tx, batch, pool.SwapPathParams{
			TokenIn:   outToken,
			AmountIn:  outAmount,
			Path:      o.SwapPath,
			MinOutput: o.MinOutputAmount,
			From:      custody,
			Receiver:  user,
			Prices:    p.Prices,
		})
		if err != nil {
			return nil, err
		}
		res.Swap = sp
		outToken, outAmount = sp.TokenOut, sp.AmountOut
	} else {
		if outAmount.LessThan(o.MinOutputAmount) {
			return nil, errs.Wrap(ErrInsufficientDecreaseOutput, "%s %s < %s", outAmount, outToken, o.MinOutputAmount)
		}
		if err := h.bank.Transfer(tx, batch, custody, user, outToken, outAmount, ledger.JournalTypePositionOutput); err != nil {
			return nil, err
		}
	}
	if err := h.bank.Transfer(tx, batch, custody, user, secToken, secAmount, ledger.JournalTypePositionOutput); err != nil {
		return nil, err
	}
	res.OutputToken, res.OutputAmount = outToken, outAmount
	if secAmount.Sign() > 0 {
		res.SecondaryOutputToken, res.SecondaryOutputAmount = secToken, secAmount
	}
	return res, nil
}

// checkTrigger requires the index price to have crossed a trigger order's
// trigger price in the order's favour.
func checkTrigger(o *Order, m market.Market, prices *oracle.PriceSet) error {
	if o.Type.IsMarket() || o.Type.IsSwap() {
		return nil
	}
	index, err := prices.Get(m.IndexToken)
	if err != nil {
		return err
	}
	var ok bool
	var price decimal.Decimal
	switch o.Type {
	case TypeLimitIncrease:
		// buy low, sell high
		if o.IsLong {
			price, ok = index.Max, index.Max.LessThanOrEqual(o.TriggerPrice)
		} else {
			price, ok = index.Min, index.Min.GreaterThanOrEqual(o.TriggerPrice)
		}
	case TypeLimitDecrease:
		if o.IsLong {
			price, ok = index.Min, index.Min.GreaterThanOrEqual(o.TriggerPrice)
		} else {
			price, ok = index.Max, index.Max.LessThanOrEqual(o.TriggerPrice)
		}
	case TypeStopLossDecrease:
		if o.IsLong {
			price, ok = index.Min, index.Min.LessThanOrEqual(o.TriggerPrice)
		} else {
			price, ok = index.Max, index.Max.GreaterThanOrEqual(o.TriggerPrice)
		}
	}
	if !ok {
		return errs.Wrap(ErrTriggerNotReached, "%s order %s: index %s, trigger %s", o.Type, o.Key, price, o.TriggerPrice)
	}
	return nil
}
