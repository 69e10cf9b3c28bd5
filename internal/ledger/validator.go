package ledger

import (
	"PoolLedger/internal/errs"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var ErrCustodyMismatch = errs.New(errs.ErrInvariant, "custody mismatch")

// CustodyValidator checks that every token a market account holds is assigned
// to exactly one bucket.
type CustodyValidator struct {
	bank *Bank
}

func NewCustodyValidator(bank *Bank) *CustodyValidator {
	return &CustodyValidator{bank: bank}
}

// Buckets returns the sum of every bucket of token in market.
func (v *CustodyValidator) Buckets(r store.Reader, market, longToken, token string) decimal.Decimal {
	sum := r.Decimal(store.PoolAmountKey(market, token)).
		Add(r.Decimal(store.SwapImpactPoolAmountKey(market, token))).
		Add(r.Decimal(store.CollateralSumKey(market, token, true))).
		Add(r.Decimal(store.CollateralSumKey(market, token, false))).
		Add(r.Decimal(store.FundingFeePoolKey(market, token))).
		Add(r.Decimal(store.ClaimableFundingTotalKey(market, token))).
		Add(r.Decimal(store.ClaimableCollateralTotalKey(market, token))).
		Add(r.Decimal(store.ClaimableFeeAmountKey(market, token))).
		Add(r.Decimal(store.AffiliateRewardTotalKey(market, token)))
	if token == longToken {
		sum = sum.Add(r.Decimal(store.PositionImpactPoolAmountKey(market)))
	}
	return sum
}

// Validate compares custody with bucket totals for each distinct token of a
// market.
func (v *CustodyValidator) Validate(r store.Reader, market, longToken string, tokens []string) error {
	account := MarketAccount(market)
	for _, token := range tokens {
		custody := v.bank.Balance(r, account, token)
		buckets := v.Buckets(r, market, longToken, token)
		if !custody.Equal(buckets) {
			return errs.Wrap(ErrCustodyMismatch, "market %s token %s custody=%s buckets=%s (diff %s)",
				market, token, custody, buckets, custody.Sub(buckets))
		}
	}
	return nil
}
