package event

// Claim commands pay claimable balances for each (market, token) pair to
// Receiver, or to the caller when empty.

type ClaimFunding struct {
	Header
	Markets  []string `json:"markets"`
	Tokens   []string `json:"tokens"`
	Receiver string   `json:"receiver"`
}

func (c *ClaimFunding) EventType() EventType { return EventTypeClaimFunding }
func (c *ClaimFunding) MarketID() *string    { return nil }

type ClaimCollateral struct {
	Header
	Markets  []string `json:"markets"`
	Tokens   []string `json:"tokens"`
	TimeKeys []uint64 `json:"time_keys"`
	Receiver string   `json:"receiver"`
}

func (c *ClaimCollateral) EventType() EventType { return EventTypeClaimCollateral }
func (c *ClaimCollateral) MarketID() *string    { return nil }

type ClaimAffiliate struct {
	Header
	Markets  []string `json:"markets"`
	Tokens   []string `json:"tokens"`
	Receiver string   `json:"receiver"`
}

func (c *ClaimAffiliate) EventType() EventType { return EventTypeClaimAffiliate }
func (c *ClaimAffiliate) MarketID() *string    { return nil }

// ClaimFees pays the protocol's fee share. Requires FEE_KEEPER.
type ClaimFees struct {
	Header
	Markets  []string `json:"markets"`
	Tokens   []string `json:"tokens"`
	Receiver string   `json:"receiver"`
}

func (c *ClaimFees) EventType() EventType { return EventTypeClaimFees }
func (c *ClaimFees) MarketID() *string    { return nil }
