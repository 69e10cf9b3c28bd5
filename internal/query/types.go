package query

import (
	"PoolLedger/internal/market"
	"PoolLedger/internal/order"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"

	"github.com/shopspring/decimal"
)

// Meta pins a live response to the point of the log it was read at.
type Meta struct {
	AsOfSequence int64  `json:"as_of_sequence"`
	Block        uint64 `json:"block"`
	Timestamp    uint64 `json:"timestamp"`
}

// MarketInfo is a market with its pool reserves and open interest.
type MarketInfo struct {
	market.Market
	LongPoolAmount    decimal.Decimal `json:"long_pool_amount"`
	ShortPoolAmount   decimal.Decimal `json:"short_pool_amount"`
	MarketTokenSupply decimal.Decimal `json:"market_token_supply"`
	LongOpenInterest  decimal.Decimal `json:"long_open_interest"`
	ShortOpenInterest decimal.Decimal `json:"short_open_interest"`
	LongAdlEnabled    bool            `json:"long_adl_enabled"`
	ShortAdlEnabled   bool            `json:"short_adl_enabled"`
}

type MarketsResponse struct {
	Meta
	Markets []MarketInfo `json:"markets"`
}

// PoolValueResponse carries the valuation breakdown and the market token
// price derived from it. Price is USD per raw market token unit.
type PoolValueResponse struct {
	Meta
	Market            string              `json:"market"`
	PnlFactorType     string              `json:"pnl_factor_type"`
	Maximize          bool                `json:"maximize"`
	MarketTokenSupply decimal.Decimal     `json:"market_token_supply"`
	MarketTokenPrice  decimal.Decimal     `json:"market_token_price"`
	Info              *pool.PoolValueInfo `json:"info"`
}

// HealthInfo is a position's liquidation margin at the supplied prices.
type HealthInfo struct {
	CollateralUsd  decimal.Decimal `json:"collateral_usd"`
	PnlUsd         decimal.Decimal `json:"pnl_usd"`
	ImpactUsd      decimal.Decimal `json:"impact_usd"`
	PendingFeesUsd decimal.Decimal `json:"pending_fees_usd"`
	RemainingUsd   decimal.Decimal `json:"remaining_usd"`
	RequiredUsd    decimal.Decimal `json:"required_usd"`
	Liquidatable   bool            `json:"liquidatable"`
}

type PositionInfo struct {
	Key string `json:"key"`
	*position.Position
	Health *HealthInfo `json:"health,omitempty"`
}

type PositionsResponse struct {
	Meta
	Account   string         `json:"account"`
	Positions []PositionInfo `json:"positions"`
}

type OrdersResponse struct {
	Meta
	Account string         `json:"account"`
	Orders  []*order.Order `json:"orders"`
}

type TokenBalance struct {
	Token   string          `json:"token"`
	Balance decimal.Decimal `json:"balance"`
}

// BalancesResponse lists custody balances and market token holdings. Zero
// balances are omitted.
type BalancesResponse struct {
	Meta
	Account      string         `json:"account"`
	Balances     []TokenBalance `json:"balances"`
	MarketTokens []TokenBalance `json:"market_tokens"`
}

type SimulationResponse struct {
	Meta
	Key    string                 `json:"key"`
	Result *order.ExecutionResult `json:"result"`
}

// JournalHistoryEntry is one event_log.journal row.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Token         string          `json:"token"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Block         int64           `json:"block"`
	Timestamp     int64           `json:"timestamp"`
}

// OutcomeEntry is one projections.outcomes row.
type OutcomeEntry struct {
	Sequence  int64  `json:"sequence"`
	Kind      string `json:"kind"`
	Key       string `json:"key,omitempty"`
	Market    string `json:"market,omitempty"`
	Reason    string `json:"reason,omitempty"`
	EventType string `json:"event_type"`
	Caller    string `json:"caller"`
	Timestamp int64  `json:"timestamp"`
}

type OutcomesResponse struct {
	AsOfSequence int64          `json:"as_of_sequence"`
	Outcomes     []OutcomeEntry `json:"outcomes"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy bool `json:"is_healthy"`
	// Live token totals across every custody account of the engine.
	LiveImbalances []UnbalancedToken `json:"live_imbalances,omitempty"`
	// Persisted checks, present only when the event log is reachable.
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose balances do not sum to zero.
type UnbalancedToken struct {
	Token     string          `json:"token"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
