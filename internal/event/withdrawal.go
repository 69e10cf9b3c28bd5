package event

import "github.com/shopspring/decimal"

// ExternalWithdrawal releases tokens from the caller's custody to the
// outside world.
type ExternalWithdrawal struct {
	Header
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

func (w *ExternalWithdrawal) EventType() EventType { return EventTypeExternalWithdrawal }
func (w *ExternalWithdrawal) MarketID() *string    { return nil }

// Withdraw burns the caller's market tokens for the pool's backing tokens.
type Withdraw struct {
	Header
	Receiver            string          `json:"receiver"`
	Market              string          `json:"market"`
	MarketTokenAmount   decimal.Decimal `json:"market_token_amount"`
	MinLongTokenAmount  decimal.Decimal `json:"min_long_token_amount"`
	MinShortTokenAmount decimal.Decimal `json:"min_short_token_amount"`
	Oracle              PriceReport     `json:"oracle"`
}

func (w *Withdraw) EventType() EventType { return EventTypeWithdraw }
func (w *Withdraw) MarketID() *string    { return marketRef(w.Market) }
