// Package position owns position records and every change to them.
package position

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"PoolLedger/internal/fees"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

const recordKind = "position"

// Position is one account's exposure on one side of a market, backed by one
// collateral token. It exists in the store only while SizeInUsd > 0 or
// collateral is held.
type Position struct {
	Account          string          `json:"account"`
	Market           string          `json:"market"`
	CollateralToken  string          `json:"collateral_token"`
	IsLong           bool            `json:"is_long"`
	SizeInUsd        decimal.Decimal `json:"size_in_usd"`
	SizeInTokens     decimal.Decimal `json:"size_in_tokens"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	BorrowingFactor  decimal.Decimal `json:"borrowing_factor"`

	FundingFeeAmountPerSize                 decimal.Decimal `json:"funding_fee_amount_per_size"`
	LongTokenClaimableFundingAmountPerSize  decimal.Decimal `json:"long_token_claimable_funding_amount_per_size"`
	ShortTokenClaimableFundingAmountPerSize decimal.Decimal `json:"short_token_claimable_funding_amount_per_size"`

	IncreasedAtBlock uint64 `json:"increased_at_block"`
	DecreasedAtBlock uint64 `json:"decreased_at_block"`
}

func (p *Position) Kind() string { return recordKind }

func (p *Position) Clone() store.Record {
	c := *p
	return &c
}

func init() {
	store.RegisterKind(recordKind, func() store.Record { return &Position{} })
}

// Key derives the position key from its identity.
func Key(account, market, collateralToken string, isLong bool) string {
	h := sha256.New()
	h.Write([]byte(account))
	h.Write([]byte{0})
	h.Write([]byte(market))
	h.Write([]byte{0})
	h.Write([]byte(collateralToken))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(isLong)))
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Position) Key() string {
	return Key(p.Account, p.Market, p.CollateralToken, p.IsLong)
}

// FeeState is the view fee settlement needs.
func (p *Position) FeeState() fees.PositionState {
	return fees.PositionState{
		Account:                                 p.Account,
		CollateralToken:                         p.CollateralToken,
		IsLong:                                  p.IsLong,
		SizeInUsd:                               p.SizeInUsd,
		BorrowingFactor:                         p.BorrowingFactor,
		FundingFeeAmountPerSize:                 p.FundingFeeAmountPerSize,
		LongTokenClaimableFundingAmountPerSize:  p.LongTokenClaimableFundingAmountPerSize,
		ShortTokenClaimableFundingAmountPerSize: p.ShortTokenClaimableFundingAmountPerSize,
	}
}

// applySnapshots moves every fee snapshot to the values just settled.
func (p *Position) applySnapshots(f *fees.PositionFees) {
	p.FundingFeeAmountPerSize = f.Funding.LatestFundingFeeAmountPerSize
	p.LongTokenClaimableFundingAmountPerSize = f.Funding.LatestLongTokenClaimableFundingAmountPerSize
	p.ShortTokenClaimableFundingAmountPerSize = f.Funding.LatestShortTokenClaimableFundingAmountPerSize
	p.BorrowingFactor = f.Borrowing.LatestCumulativeBorrowingFactor
}

// ============================================================================
// Store access
// ============================================================================

// Get loads a position by key.
func Get(r store.Reader, key string) (*Position, bool) {
	rec, ok := r.Record(store.PositionKey(key))
	if !ok {
		return nil, false
	}
	return rec.(*Position), true
}

// ListByAccount returns an account's positions ordered by key.
func ListByAccount(r store.Reader, account string) []*Position {
	keys := r.Members(store.AccountPositionListKey(account))
	out := make([]*Position, 0, len(keys))
	for _, k := range keys {
		if p, ok := Get(r, k); ok {
			out = append(out, p)
		}
	}
	return out
}

// List returns every open position ordered by key.
func List(r store.Reader) []*Position {
	keys := r.Members(store.PositionListKey)
	out := make([]*Position, 0, len(keys))
	for _, k := range keys {
		if p, ok := Get(r, k); ok {
			out = append(out, p)
		}
	}
	return out
}

func save(tx store.Tx, p *Position) error {
	key := p.Key()
	if err := tx.SetRecord(store.PositionKey(key), p); err != nil {
		return err
	}
	if err := tx.AddMember(store.PositionListKey, key); err != nil {
		return err
	}
	return tx.AddMember(store.AccountPositionListKey(p.Account), key)
}

func remove(tx store.Tx, p *Position) error {
	key := p.Key()
	if err := tx.RemoveRecord(store.PositionKey(key)); err != nil {
		return err
	}
	if err := tx.RemoveMember(store.PositionListKey, key); err != nil {
		return err
	}
	return tx.RemoveMember(store.AccountPositionListKey(p.Account), key)
}
