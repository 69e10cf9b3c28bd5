package event

import (
	"PoolLedger/internal/order"

	"github.com/shopspring/decimal"
)

// CreateOrder places an order for the caller. Order.Account and Order.Key
// are filled in by the engine.
type CreateOrder struct {
	Header
	Order order.CreateParams `json:"order"`
}

func (c *CreateOrder) EventType() EventType { return EventTypeCreateOrder }
func (c *CreateOrder) MarketID() *string    { return marketRef(c.Order.Market) }

type UpdateOrder struct {
	Header
	Key             string          `json:"key"`
	SizeDeltaUsd    decimal.Decimal `json:"size_delta_usd"`
	AcceptablePrice decimal.Decimal `json:"acceptable_price"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	MinOutputAmount decimal.Decimal `json:"min_output_amount"`
}

func (u *UpdateOrder) EventType() EventType { return EventTypeUpdateOrder }
func (u *UpdateOrder) MarketID() *string    { return nil }

// CancelOrder cancels as the owner, or as a keeper when AsKeeper is set.
type CancelOrder struct {
	Header
	Key      string `json:"key"`
	Reason   string `json:"reason"`
	AsKeeper bool   `json:"as_keeper"`
}

func (c *CancelOrder) EventType() EventType { return EventTypeCancelOrder }
func (c *CancelOrder) MarketID() *string    { return nil }

// ExecuteOrder runs a pending order against an oracle report. The execution
// fee goes to Keeper, or to the caller when empty.
type ExecuteOrder struct {
	Header
	Key    string      `json:"key"`
	Keeper string      `json:"keeper"`
	Oracle PriceReport `json:"oracle"`
}

func (e *ExecuteOrder) EventType() EventType { return EventTypeExecuteOrder }
func (e *ExecuteOrder) MarketID() *string    { return nil }

type FreezeOrder struct {
	Header
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (f *FreezeOrder) EventType() EventType { return EventTypeFreezeOrder }
func (f *FreezeOrder) MarketID() *string    { return nil }
