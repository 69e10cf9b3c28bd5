package fees

import (
	"PoolLedger/internal/market"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

// Referrals resolves the affiliate a trader was referred by. Registry
// management lives outside the engine.
type Referrals interface {
	AffiliateOf(account string) (affiliate string, rebateFactor decimal.Decimal, ok bool)
}

// NoReferrals is a Referrals with no registrations.
type NoReferrals struct{}

func (NoReferrals) AffiliateOf(string) (string, decimal.Decimal, bool) {
	return "", decimal.Zero, false
}

// StaticReferrals maps accounts to an affiliate with one shared rebate factor.
type StaticReferrals struct {
	Affiliates   map[string]string
	RebateFactor decimal.Decimal
}

func (s StaticReferrals) AffiliateOf(account string) (string, decimal.Decimal, bool) {
	a, ok := s.Affiliates[account]
	return a, s.RebateFactor, ok
}

// PositionState is the slice of a position fee settlement reads.
type PositionState struct {
	Account                                 string
	CollateralToken                         string
	IsLong                                  bool
	SizeInUsd                               decimal.Decimal
	BorrowingFactor                         decimal.Decimal
	FundingFeeAmountPerSize                 decimal.Decimal
	LongTokenClaimableFundingAmountPerSize  decimal.Decimal
	ShortTokenClaimableFundingAmountPerSize decimal.Decimal
}

type FundingFees struct {
	FundingFeeAmount          decimal.Decimal
	ClaimableLongTokenAmount  decimal.Decimal
	ClaimableShortTokenAmount decimal.Decimal

	LatestFundingFeeAmountPerSize                 decimal.Decimal
	LatestLongTokenClaimableFundingAmountPerSize  decimal.Decimal
	LatestShortTokenClaimableFundingAmountPerSize decimal.Decimal
}

type BorrowingFees struct {
	BorrowingFeeUsd                 decimal.Decimal
	BorrowingFeeAmount              decimal.Decimal
	BorrowingFeeReceiverAmount      decimal.Decimal
	LatestCumulativeBorrowingFactor decimal.Decimal
}

type ReferralFees struct {
	Affiliate             string
	AffiliateRewardAmount decimal.Decimal
}

// PositionFees is every fee due when a position changes, in collateral token
// units.
type PositionFees struct {
	Funding   FundingFees
	Borrowing BorrowingFees
	Referral  ReferralFees

	CollateralPrice           oracle.Price
	PositionFeeAmount         decimal.Decimal
	PositionFeeReceiverAmount decimal.Decimal

	FeeReceiverAmount decimal.Decimal
	FeeAmountForPool  decimal.Decimal

	TotalCostAmountExcludingFunding decimal.Decimal
	TotalCostAmount                 decimal.Decimal
}

// GetPositionFees prices the funding, borrowing and position fee of changing a
// position by sizeDeltaUsd. Accumulators must already be updated to now.
// Amounts owed by the trader round up; amounts credited round down.
func GetPositionFees(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	pos PositionState,
	collateralPrice oracle.Price,
	sizeDeltaUsd decimal.Decimal,
	referrals Referrals,
) PositionFees {
	f := PositionFees{CollateralPrice: collateralPrice}

	f.Funding = GetFundingFees(r, m, pos, nil)
	f.Borrowing = GetBorrowingFees(r, m, cfg, pos, collateralPrice, r.Decimal(store.CumulativeBorrowingFactorKey(m.MarketToken, pos.IsLong)))

	positionFeeUsd := fpmath.ApplyFactor(sizeDeltaUsd, cfg.PositionFeeFactor, fpmath.RoundUp)
	f.PositionFeeAmount = fpmath.Div(positionFeeUsd, collateralPrice.Min, fpmath.RoundUp)

	remaining := f.PositionFeeAmount
	if referrals != nil {
		if affiliate, rebate, ok := referrals.AffiliateOf(pos.Account); ok && affiliate != "" {
			f.Referral.Affiliate = affiliate
			f.Referral.AffiliateRewardAmount = fpmath.ApplyFactor(f.PositionFeeAmount, rebate, fpmath.RoundDown)
			remaining = remaining.Sub(f.Referral.AffiliateRewardAmount)
		}
	}
	f.PositionFeeReceiverAmount = fpmath.ApplyFactor(remaining, cfg.PositionFeeReceiver, fpmath.RoundDown)

	f.FeeReceiverAmount = f.PositionFeeReceiverAmount.Add(f.Borrowing.BorrowingFeeReceiverAmount)
	f.FeeAmountForPool = remaining.Sub(f.PositionFeeReceiverAmount).
		Add(f.Borrowing.BorrowingFeeAmount.Sub(f.Borrowing.BorrowingFeeReceiverAmount))

	f.TotalCostAmountExcludingFunding = f.PositionFeeAmount.Add(f.Borrowing.BorrowingFeeAmount)
	f.TotalCostAmount = f.TotalCostAmountExcludingFunding.Add(f.Funding.FundingFeeAmount)
	return f
}

// GetFundingFees returns what a position pays and earns since its snapshots,
// optionally including a not yet written accrual. Both round down.
func GetFundingFees(r store.Reader, m market.Market, pos PositionState, pending *FundingDelta) FundingFees {
	f := FundingFees{
		LatestFundingFeeAmountPerSize:                 FundingFeeAmountPerSize(r, m, pos.CollateralToken, pos.IsLong, pending),
		LatestLongTokenClaimableFundingAmountPerSize:  ClaimableFundingAmountPerSize(r, m, m.LongToken, pos.IsLong, pending),
		LatestShortTokenClaimableFundingAmountPerSize: ClaimableFundingAmountPerSize(r, m, m.ShortToken, pos.IsLong, pending),
	}
	f.FundingFeeAmount = perSizeAmount(pos.SizeInUsd, f.LatestFundingFeeAmountPerSize, pos.FundingFeeAmountPerSize)
	f.ClaimableLongTokenAmount = perSizeAmount(pos.SizeInUsd, f.LatestLongTokenClaimableFundingAmountPerSize, pos.LongTokenClaimableFundingAmountPerSize)
	if !m.IsSingleToken() {
		f.ClaimableShortTokenAmount = perSizeAmount(pos.SizeInUsd, f.LatestShortTokenClaimableFundingAmountPerSize, pos.ShortTokenClaimableFundingAmountPerSize)
	}
	return f
}

func perSizeAmount(size, latest, snapshot decimal.Decimal) decimal.Decimal {
	diff := latest.Sub(snapshot)
	if diff.Sign() <= 0 || size.IsZero() {
		return decimal.Zero
	}
	return fpmath.MulDiv(size, diff, fpmath.FundingPrecision, fpmath.RoundDown)
}

// GetBorrowingFees returns the borrowing fee a position owes at the given
// cumulative factor.
func GetBorrowingFees(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	pos PositionState,
	collateralPrice oracle.Price,
	cumulativeFactor decimal.Decimal,
) BorrowingFees {
	b := BorrowingFees{LatestCumulativeBorrowingFactor: cumulativeFactor}
	diff := cumulativeFactor.Sub(pos.BorrowingFactor)
	if diff.Sign() <= 0 || pos.SizeInUsd.IsZero() {
		return b
	}
	b.BorrowingFeeUsd = fpmath.ApplyFactor(pos.SizeInUsd, diff, fpmath.RoundUp)
	b.BorrowingFeeAmount = fpmath.Div(b.BorrowingFeeUsd, collateralPrice.Min, fpmath.RoundUp)
	b.BorrowingFeeReceiverAmount = fpmath.ApplyFactor(b.BorrowingFeeAmount, cfg.BorrowingFeeReceiver, fpmath.RoundDown)
	return b
}

// PendingFeesUsd values everything a position would pay on a full close at
// the given collateral price, using accumulators as of now. It is used by
// health checks and views.
func PendingFeesUsd(
	r store.Reader,
	m market.Market,
	cfg *market.Config,
	prices *oracle.PriceSet,
	pos PositionState,
	now uint64,
) (decimal.Decimal, error) {
	cp, err := prices.Get(pos.CollateralToken)
	if err != nil {
		return decimal.Zero, err
	}
	pending, err := NextFunding(r, m, cfg, prices, now)
	if err != nil {
		return decimal.Zero, err
	}
	cum, _, err := NextCumulativeBorrowingFactor(r, m, cfg, prices, pos.IsLong, now)
	if err != nil {
		return decimal.Zero, err
	}
	funding := GetFundingFees(r, m, pos, pending)
	borrowing := GetBorrowingFees(r, m, cfg, pos, cp, cum)
	closeFeeUsd := fpmath.ApplyFactor(pos.SizeInUsd, cfg.PositionFeeFactor, fpmath.RoundUp)
	return funding.FundingFeeAmount.Mul(cp.Max).Add(borrowing.BorrowingFeeUsd).Add(closeFeeUsd), nil
}

// ScaleToPaid shrinks the non-funding fees to what was actually collected,
// keeping the receiver and affiliate shares proportional.
func (f *PositionFees) ScaleToPaid(paid decimal.Decimal) {
	total := f.TotalCostAmountExcludingFunding
	if paid.GreaterThanOrEqual(total) {
		return
	}
	if total.IsZero() || paid.Sign() <= 0 {
		f.FeeReceiverAmount = decimal.Zero
		f.FeeAmountForPool = decimal.Zero
		f.Referral.AffiliateRewardAmount = decimal.Zero
		f.TotalCostAmountExcludingFunding = decimal.Zero
		return
	}
	f.FeeReceiverAmount = fpmath.MulDiv(f.FeeReceiverAmount, paid, total, fpmath.RoundDown)
	f.Referral.AffiliateRewardAmount = fpmath.MulDiv(f.Referral.AffiliateRewardAmount, paid, total, fpmath.RoundDown)
	f.FeeAmountForPool = paid.Sub(f.FeeReceiverAmount).Sub(f.Referral.AffiliateRewardAmount)
	f.TotalCostAmountExcludingFunding = paid
}

// Distribute credits collected fees to their buckets: funding to the funding
// fee pool, earned funding to the account's claimable balance, the pool share
// to the pool and the rest to the fee receiver and affiliate. The caller has
// already removed the collected amounts from the position's collateral.
func Distribute(tx store.Tx, m market.Market, account, collateralToken string, f *PositionFees) error {
	mt := m.MarketToken

	if _, err := tx.AddSignedDecimal(store.FundingFeePoolKey(mt, collateralToken), f.Funding.FundingFeeAmount); err != nil {
		return err
	}
	claims := []struct {
		token  string
		amount decimal.Decimal
	}{
		{m.LongToken, f.Funding.ClaimableLongTokenAmount},
		{m.ShortToken, f.Funding.ClaimableShortTokenAmount},
	}
	for _, c := range claims {
		if c.amount.IsZero() {
			continue
		}
		if _, err := tx.AddSignedDecimal(store.FundingFeePoolKey(mt, c.token), c.amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AddDecimal(store.ClaimableFundingAmountKey(mt, c.token, account), c.amount); err != nil {
			return err
		}
		if _, err := tx.AddDecimal(store.ClaimableFundingTotalKey(mt, c.token), c.amount); err != nil {
			return err
		}
	}

	if _, err := market.ApplyDeltaToPoolAmount(tx, m, collateralToken, f.FeeAmountForPool); err != nil {
		return err
	}
	if _, err := tx.AddDecimal(store.ClaimableFeeAmountKey(mt, collateralToken), f.FeeReceiverAmount); err != nil {
		return err
	}
	if a := f.Referral.AffiliateRewardAmount; a.Sign() > 0 {
		if _, err := tx.AddDecimal(store.AffiliateRewardKey(mt, collateralToken, f.Referral.Affiliate), a); err != nil {
			return err
		}
		if _, err := tx.AddDecimal(store.AffiliateRewardTotalKey(mt, collateralToken), a); err != nil {
			return err
		}
	}
	return nil
}
