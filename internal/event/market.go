package event

import "PoolLedger/internal/market"

// CreateMarket registers a market. Requires MARKET_KEEPER.
type CreateMarket struct {
	Header
	Market market.Market `json:"market"`
}

func (c *CreateMarket) EventType() EventType { return EventTypeCreateMarket }
func (c *CreateMarket) MarketID() *string    { return marketRef(c.Market.MarketToken) }

// ApplyMarketConfig replaces a market's configuration. Requires CONFIG_KEEPER.
type ApplyMarketConfig struct {
	Header
	Market string        `json:"market"`
	Config market.Config `json:"config"`
}

func (c *ApplyMarketConfig) EventType() EventType { return EventTypeApplyMarketConfig }
func (c *ApplyMarketConfig) MarketID() *string    { return marketRef(c.Market) }
