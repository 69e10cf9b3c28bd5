package event

import "github.com/shopspring/decimal"

// Liquidate closes an unhealthy position. Requires LIQUIDATION_KEEPER.
type Liquidate struct {
	Header
	Account         string      `json:"account"`
	Market          string      `json:"market"`
	CollateralToken string      `json:"collateral_token"`
	IsLong          bool        `json:"is_long"`
	Oracle          PriceReport `json:"oracle"`
}

func (l *Liquidate) EventType() EventType { return EventTypeLiquidate }
func (l *Liquidate) MarketID() *string    { return marketRef(l.Market) }

type UpdateAdlState struct {
	Header
	Market string      `json:"market"`
	IsLong bool        `json:"is_long"`
	Oracle PriceReport `json:"oracle"`
}

func (u *UpdateAdlState) EventType() EventType { return EventTypeUpdateAdlState }
func (u *UpdateAdlState) MarketID() *string    { return marketRef(u.Market) }

type ExecuteAdl struct {
	Header
	Account         string          `json:"account"`
	Market          string          `json:"market"`
	CollateralToken string          `json:"collateral_token"`
	IsLong          bool            `json:"is_long"`
	SizeDeltaUsd    decimal.Decimal `json:"size_delta_usd"`
	Oracle          PriceReport     `json:"oracle"`
}

func (e *ExecuteAdl) EventType() EventType { return EventTypeExecuteAdl }
func (e *ExecuteAdl) MarketID() *string    { return marketRef(e.Market) }
