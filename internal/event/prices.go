package event

import "PoolLedger/internal/oracle"

// PriceReport is the oracle input attached to a command that needs prices.
type PriceReport struct {
	MinBlock  uint64               `json:"min_block"`
	MaxBlock  uint64               `json:"max_block"`
	Timestamp uint64               `json:"timestamp"`
	Prices    []oracle.PriceParams `json:"prices"`
}

func (r PriceReport) Build() (*oracle.PriceSet, error) {
	return oracle.NewPriceSet(r.Prices, r.MinBlock, r.MaxBlock, r.Timestamp)
}
