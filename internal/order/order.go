// Package order implements the order lifecycle: creation with escrowed
// collateral and execution fee, owner updates, keeper execution against
// oracle prices, and the cancel/freeze handling of failed executions.
package order

import (
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

const recordKind = "order"

// Type is the kind of order.
type Type int32

const (
	TypeMarketSwap Type = iota
	TypeLimitSwap
	TypeMarketIncrease
	TypeLimitIncrease
	TypeMarketDecrease
	TypeLimitDecrease
	TypeStopLossDecrease
)

var typeNames = map[Type]string{
	TypeMarketSwap:       "market_swap",
	TypeLimitSwap:        "limit_swap",
	TypeMarketIncrease:   "market_increase",
	TypeLimitIncrease:    "limit_increase",
	TypeMarketDecrease:   "market_decrease",
	TypeLimitDecrease:    "limit_decrease",
	TypeStopLossDecrease: "stop_loss_decrease",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseType maps a type name back to its value.
func ParseType(s string) (Type, bool) {
	for t, n := range typeNames {
		if n == s {
			return t, true
		}
	}
	return 0, false
}

func (t Type) IsSwap() bool     { return t == TypeMarketSwap || t == TypeLimitSwap }
func (t Type) IsIncrease() bool { return t == TypeMarketIncrease || t == TypeLimitIncrease }
func (t Type) IsDecrease() bool {
	return t == TypeMarketDecrease || t == TypeLimitDecrease || t == TypeStopLossDecrease
}

// IsMarket reports whether the order executes at the next available price
// rather than waiting on a trigger.
func (t Type) IsMarket() bool {
	return t == TypeMarketSwap || t == TypeMarketIncrease || t == TypeMarketDecrease
}

// DecreaseSwapType selects how the outputs of a decrease are consolidated.
type DecreaseSwapType int32

const (
	DecreaseNoSwap DecreaseSwapType = iota
	DecreaseSwapPnlTokenToCollateralToken
	DecreaseSwapCollateralToPnlToken
)

func (t DecreaseSwapType) String() string {
	switch t {
	case DecreaseSwapPnlTokenToCollateralToken:
		return "swap_pnl_token_to_collateral_token"
	case DecreaseSwapCollateralToPnlToken:
		return "swap_collateral_token_to_pnl_token"
	default:
		return "no_swap"
	}
}

// Order is a pending instruction. Collateral for swaps and increases and the
// execution fee are escrowed in the order vault until the order executes or
// is cancelled.
type Order struct {
	Key                    string   `json:"key"`
	Account                string   `json:"account"`
	Receiver               string   `json:"receiver"`
	CallbackContract       string   `json:"callback_contract,omitempty"`
	Market                 string   `json:"market,omitempty"`
	InitialCollateralToken string   `json:"initial_collateral_token"`
	SwapPath               []string `json:"swap_path,omitempty"`

	Type                     Type             `json:"type"`
	DecreasePositionSwapType DecreaseSwapType `json:"decrease_position_swap_type"`
	IsLong                   bool             `json:"is_long"`
	ShouldUnwrapNativeToken  bool             `json:"should_unwrap_native_token"`

	SizeDeltaUsd                 decimal.Decimal `json:"size_delta_usd"`
	InitialCollateralDeltaAmount decimal.Decimal `json:"initial_collateral_delta_amount"`
	TriggerPrice                 decimal.Decimal `json:"trigger_price"`
	AcceptablePrice              decimal.Decimal `json:"acceptable_price"`
	ExecutionFee                 decimal.Decimal `json:"execution_fee"`
	CallbackGasLimit             uint64          `json:"callback_gas_limit"`
	MinOutputAmount              decimal.Decimal `json:"min_output_amount"`

	// UpdatedAtBlock opens the price window: market orders accept prices
	// from this block on, trigger orders only from the block after. Only
	// creation and owner updates move it.
	UpdatedAtBlock uint64 `json:"updated_at_block"`
	UpdatedAtTime  uint64 `json:"updated_at_time"`
	IsFrozen       bool   `json:"is_frozen"`
}

func (o *Order) Kind() string { return recordKind }

func (o *Order) Clone() store.Record {
	c := *o
	c.SwapPath = append([]string(nil), o.SwapPath...)
	return &c
}

func init() {
	store.RegisterKind(recordKind, func() store.Record { return &Order{} })
}

// MinOracleBlock is the first block whose prices may execute the order.
func (o *Order) MinOracleBlock() uint64 {
	if o.Type.IsMarket() {
		return o.UpdatedAtBlock
	}
	return o.UpdatedAtBlock + 1
}

// Markets lists every market the order's execution touches, position market
// first, without duplicates.
func (o *Order) Markets() []string {
	out := make([]string, 0, len(o.SwapPath)+1)
	seen := make(map[string]bool, len(o.SwapPath)+1)
	for _, mt := range append([]string{o.Market}, o.SwapPath...) {
		if mt == "" || seen[mt] {
			continue
		}
		seen[mt] = true
		out = append(out, mt)
	}
	return out
}

// ============================================================================
// Store access
// ============================================================================

// Get loads an order by key.
func Get(r store.Reader, key string) (*Order, bool) {
	rec, ok := r.Record(store.OrderKey(key))
	if !ok {
		return nil, false
	}
	return rec.(*Order), true
}

// ListByAccount returns an account's orders ordered by key.
func ListByAccount(r store.Reader, account string) []*Order {
	return load(r, r.Members(store.AccountOrderListKey(account)))
}

// List returns every stored order ordered by key.
func List(r store.Reader) []*Order {
	return load(r, r.Members(store.OrderListKey))
}

func load(r store.Reader, keys []string) []*Order {
	out := make([]*Order, 0, len(keys))
	for _, k := range keys {
		if o, ok := Get(r, k); ok {
			out = append(out, o)
		}
	}
	return out
}

func save(tx store.Tx, o *Order) error {
	if err := tx.SetRecord(store.OrderKey(o.Key), o); err != nil {
		return err
	}
	if err := tx.AddMember(store.OrderListKey, o.Key); err != nil {
		return err
	}
	return tx.AddMember(store.AccountOrderListKey(o.Account), o.Key)
}

func remove(tx store.Tx, o *Order) error {
	if err := tx.RemoveRecord(store.OrderKey(o.Key)); err != nil {
		return err
	}
	if err := tx.RemoveMember(store.OrderListKey, o.Key); err != nil {
		return err
	}
	return tx.RemoveMember(store.AccountOrderListKey(o.Account), o.Key)
}
