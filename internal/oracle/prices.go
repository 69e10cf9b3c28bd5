// Package oracle carries validated price inputs into the engine. Feed
// ingestion and signature checks happen upstream.
package oracle

import (
	"PoolLedger/internal/errs"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingPrice = errs.New(errs.ErrValidation, "missing price")
	ErrInvalidPrice = errs.New(errs.ErrValidation, "invalid price")
	ErrFuturePrice  = errs.New(errs.ErrStalePrice, "price block ahead of current block")
)

// Price is a min/max band for one token. Values are USD * 1e30 per raw token
// unit, so usd = amount * price.
type Price struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

func NewPrice(v decimal.Decimal) Price { return Price{Min: v, Max: v} }

// Mid returns (min + max) / 2 rounded down.
func (p Price) Mid() decimal.Decimal {
	q, _ := p.Min.Add(p.Max).QuoRem(decimal.NewFromInt(2), 0)
	return q
}

// Pick returns Max when maximize is set, else Min.
func (p Price) Pick(maximize bool) decimal.Decimal {
	if maximize {
		return p.Max
	}
	return p.Min
}

// PickForPnl returns the side of the band that maximizes or minimizes the PnL
// of a position on the given side.
func (p Price) PickForPnl(isLong, maximize bool) decimal.Decimal {
	if isLong {
		return p.Pick(maximize)
	}
	return p.Pick(!maximize)
}

func (p Price) Validate() error {
	if p.Min.Sign() <= 0 || p.Max.LessThan(p.Min) {
		return errs.Wrap(ErrInvalidPrice, "min=%s max=%s", p.Min, p.Max)
	}
	return nil
}

// PriceSet is one oracle report: prices for a set of tokens observed between
// MinBlock and MaxBlock.
type PriceSet struct {
	Prices    map[string]Price `json:"prices"`
	MinBlock  uint64           `json:"min_block"`
	MaxBlock  uint64           `json:"max_block"`
	Timestamp uint64           `json:"timestamp"`
}

// Get returns the price of token or ErrMissingPrice.
func (s *PriceSet) Get(token string) (Price, error) {
	if s == nil {
		return Price{}, errs.Wrap(ErrMissingPrice, "%s (no price set)", token)
	}
	p, ok := s.Prices[token]
	if !ok {
		return Price{}, errs.Wrap(ErrMissingPrice, "%s", token)
	}
	return p, nil
}

// Require checks that every token is priced with a well-formed band.
func (s *PriceSet) Require(tokens ...string) error {
	for _, t := range tokens {
		p, err := s.Get(t)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return errs.Wrap(err, "token %s", t)
		}
	}
	return nil
}

// Validate checks the block range against the block being executed.
func (s *PriceSet) Validate(currentBlock uint64) error {
	if s == nil {
		return errs.Wrap(ErrMissingPrice, "no price set")
	}
	if s.MinBlock > s.MaxBlock {
		return errs.Wrap(ErrInvalidPrice, "min block %d > max block %d", s.MinBlock, s.MaxBlock)
	}
	if s.MaxBlock > currentBlock {
		return errs.Wrap(ErrFuturePrice, "max block %d > current %d", s.MaxBlock, currentBlock)
	}
	return nil
}

// PriceParams is one reported price as it arrives from a keeper. Precision is
// the power of ten that scales the reported values to USD * 1e30 per raw token
// unit, so a token with 18 decimals reported in whole dollars uses 12.
type PriceParams struct {
	Token      string          `json:"token"`
	OracleType string          `json:"oracle_type,omitempty"`
	Precision  int32           `json:"precision"`
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
}

// NewPriceSet builds a price set from a keeper report. Each token may appear
// once and every scaled price must be a positive integer band.
func NewPriceSet(params []PriceParams, minBlock, maxBlock, timestamp uint64) (*PriceSet, error) {
	s := &PriceSet{
		Prices:    make(map[string]Price, len(params)),
		MinBlock:  minBlock,
		MaxBlock:  maxBlock,
		Timestamp: timestamp,
	}
	for _, p := range params {
		if p.Token == "" {
			return nil, errs.Wrap(ErrInvalidPrice, "empty token")
		}
		if _, dup := s.Prices[p.Token]; dup {
			return nil, errs.Wrap(ErrInvalidPrice, "duplicate token %s", p.Token)
		}
		price := Price{Min: p.Min.Shift(p.Precision), Max: p.Max.Shift(p.Precision)}
		if !price.Min.IsInteger() || !price.Max.IsInteger() {
			return nil, errs.Wrap(ErrInvalidPrice, "token %s: precision %d leaves a fraction", p.Token, p.Precision)
		}
		if err := price.Validate(); err != nil {
			return nil, errs.Wrap(err, "token %s", p.Token)
		}
		s.Prices[p.Token] = price
	}
	return s, nil
}
