package event

import "github.com/shopspring/decimal"

// ExternalDeposit credits tokens that arrived from outside the engine to the
// account's custody.
type ExternalDeposit struct {
	Header
	Account string          `json:"account"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
}

func (d *ExternalDeposit) EventType() EventType { return EventTypeExternalDeposit }
func (d *ExternalDeposit) MarketID() *string    { return nil }

// Deposit adds liquidity from the caller's custody and mints market tokens
// to Receiver.
type Deposit struct {
	Header
	Receiver         string          `json:"receiver"`
	Market           string          `json:"market"`
	LongTokenAmount  decimal.Decimal `json:"long_token_amount"`
	ShortTokenAmount decimal.Decimal `json:"short_token_amount"`
	MinMarketTokens  decimal.Decimal `json:"min_market_tokens"`
	Oracle           PriceReport     `json:"oracle"`
}

func (d *Deposit) EventType() EventType { return EventTypeDeposit }
func (d *Deposit) MarketID() *string    { return marketRef(d.Market) }
