package fees

import (
	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
)

var ErrInvalidClaim = errs.New(errs.ErrValidation, "invalid claim")

// Claimer pays out claimable balances. Each claim zeroes the entry it reads
// and transfers exactly that amount out of the market's custody.
type Claimer struct {
	bank     *ledger.Bank
	registry *market.Registry
}

func NewClaimer(bank *ledger.Bank, registry *market.Registry) *Claimer {
	return &Claimer{bank: bank, registry: registry}
}

// ClaimFundingFees pays account's claimable funding for each (market, token).
func (c *Claimer) ClaimFundingFees(
	tx store.Tx,
	batch *ledger.Batch,
	account string,
	markets, tokens []string,
	receiver string,
) ([]decimal.Decimal, error) {
	if len(markets) != len(tokens) {
		return nil, errs.Wrap(ErrInvalidClaim, "%d markets, %d tokens", len(markets), len(tokens))
	}
	out := make([]decimal.Decimal, len(markets))
	for i := range markets {
		m, err := c.checkToken(tx, markets[i], tokens[i])
		if err != nil {
			return nil, err
		}
		amount, err := c.drain(tx,
			store.ClaimableFundingAmountKey(m.MarketToken, tokens[i], account),
			store.ClaimableFundingTotalKey(m.MarketToken, tokens[i]))
		if err != nil {
			return nil, err
		}
		if err := c.pay(tx, batch, m, tokens[i], receiver, amount, ledger.JournalTypeClaimFunding); err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

// ClaimCollateral pays collateral withheld from account by capped price
// impact, per (market, token, time bucket).
func (c *Claimer) ClaimCollateral(
	tx store.Tx,
	batch *ledger.Batch,
	account string,
	markets, tokens []string,
	timeKeys []uint64,
	receiver string,
) ([]decimal.Decimal, error) {
	if len(markets) != len(tokens) || len(markets) != len(timeKeys) {
		return nil, errs.Wrap(ErrInvalidClaim, "%d markets, %d tokens, %d time keys", len(markets), len(tokens), len(timeKeys))
	}
	out := make([]decimal.Decimal, len(markets))
	for i := range markets {
		m, err := c.checkToken(tx, markets[i], tokens[i])
		if err != nil {
			return nil, err
		}
		amount, err := c.drain(tx,
			store.ClaimableCollateralAmountKey(m.MarketToken, tokens[i], timeKeys[i], account),
			store.ClaimableCollateralTotalKey(m.MarketToken, tokens[i]))
		if err != nil {
			return nil, err
		}
		if _, err := tx.AddDecimal(store.ClaimedCollateralAmountKey(m.MarketToken, tokens[i], timeKeys[i], account), amount); err != nil {
			return nil, err
		}
		if err := c.pay(tx, batch, m, tokens[i], receiver, amount, ledger.JournalTypeClaimCollateral); err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

// ClaimAffiliateRewards pays an affiliate's accrued referral rewards.
func (c *Claimer) ClaimAffiliateRewards(
	tx store.Tx,
	batch *ledger.Batch,
	affiliate string,
	markets, tokens []string,
	receiver string,
) ([]decimal.Decimal, error) {
	if len(markets) != len(tokens) {
		return nil, errs.Wrap(ErrInvalidClaim, "%d markets, %d tokens", len(markets), len(tokens))
	}
	out := make([]decimal.Decimal, len(markets))
	for i := range markets {
		m, err := c.checkToken(tx, markets[i], tokens[i])
		if err != nil {
			return nil, err
		}
		amount, err := c.drain(tx,
			store.AffiliateRewardKey(m.MarketToken, tokens[i], affiliate),
			store.AffiliateRewardTotalKey(m.MarketToken, tokens[i]))
		if err != nil {
			return nil, err
		}
		if err := c.pay(tx, batch, m, tokens[i], receiver, amount, ledger.JournalTypeClaimAffiliateReward); err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

// ClaimFees pays the protocol fee receiver's share. Requires RoleFeeKeeper.
func (c *Claimer) ClaimFees(
	tx store.Tx,
	batch *ledger.Batch,
	markets, tokens []string,
	receiver string,
) ([]decimal.Decimal, error) {
	if err := tx.Capability().Require(auth.RoleFeeKeeper); err != nil {
		return nil, err
	}
	if len(markets) != len(tokens) {
		return nil, errs.Wrap(ErrInvalidClaim, "%d markets, %d tokens", len(markets), len(tokens))
	}
	out := make([]decimal.Decimal, len(markets))
	for i := range markets {
		m, err := c.checkToken(tx, markets[i], tokens[i])
		if err != nil {
			return nil, err
		}
		k := store.ClaimableFeeAmountKey(m.MarketToken, tokens[i])
		amount := tx.Decimal(k)
		if err := tx.SetDecimal(k, decimal.Zero); err != nil {
			return nil, err
		}
		if err := c.pay(tx, batch, m, tokens[i], receiver, amount, ledger.JournalTypeClaimFee); err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

func (c *Claimer) checkToken(r store.Reader, marketToken, token string) (market.Market, error) {
	m, err := c.registry.Get(r, marketToken)
	if err != nil {
		return market.Market{}, err
	}
	if !m.IsCollateral(token) {
		return market.Market{}, errs.Wrap(market.ErrInvalidToken, "%s not in market %s", token, marketToken)
	}
	return m, nil
}

func (c *Claimer) drain(tx store.Tx, entryKey, totalKey string) (decimal.Decimal, error) {
	amount := tx.Decimal(entryKey)
	if amount.IsZero() {
		return amount, nil
	}
	if err := tx.SetDecimal(entryKey, decimal.Zero); err != nil {
		return decimal.Zero, err
	}
	if _, err := tx.AddDecimal(totalKey, amount.Neg()); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func (c *Claimer) pay(tx store.Tx, batch *ledger.Batch, m market.Market, token, receiver string, amount decimal.Decimal, jt ledger.JournalType) error {
	if receiver == "" {
		return errs.Wrap(ErrInvalidClaim, "empty receiver")
	}
	return c.bank.Transfer(tx, batch, ledger.MarketAccount(m.MarketToken), ledger.UserAccount(receiver), token, amount, jt)
}
