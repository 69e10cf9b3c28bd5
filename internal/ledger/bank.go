package ledger

import (
	"fmt"

	"PoolLedger/internal/errs"
	"PoolLedger/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errs.New(errs.ErrValidation, "insufficient balance")
	ErrInvalidTransfer     = errs.New(errs.ErrInvariant, "invalid transfer")
)

// Bank moves token custody between accounts inside a store transaction and
// records every movement as a journal in the call's batch.
type Bank struct{}

func NewBank() *Bank { return &Bank{} }

// Balance returns the custodied amount of token held by account.
func (b *Bank) Balance(r store.Reader, account AccountKey, token string) decimal.Decimal {
	return r.Decimal(store.CustodyBalanceKey(account.AccountPath(), token))
}

// Transfer moves amount of token from one account to another. Only external
// accounts may go negative. A zero amount is a no-op.
func (b *Bank) Transfer(
	tx store.Tx,
	batch *Batch,
	from, to AccountKey,
	token string,
	amount decimal.Decimal,
	journalType JournalType,
) error {
	if amount.IsZero() {
		return nil
	}
	if amount.Sign() < 0 || from == to {
		return errs.Wrap(ErrInvalidTransfer, "%s -> %s amount %s", from, to, amount)
	}

	fromKey := store.CustodyBalanceKey(from.AccountPath(), token)
	if from.Scope == AccountScopeExternal {
		if _, err := tx.AddSignedDecimal(fromKey, amount.Neg()); err != nil {
			return err
		}
	} else {
		have := tx.Decimal(fromKey)
		if have.LessThan(amount) {
			return errs.Wrap(ErrInsufficientBalance, "%s holds %s %s, needs %s", from, have, token, amount)
		}
		if err := tx.SetDecimal(fromKey, have.Sub(amount)); err != nil {
			return err
		}
	}
	if _, err := tx.AddSignedDecimal(store.CustodyBalanceKey(to.AccountPath(), token), amount); err != nil {
		return err
	}
	if err := tx.AddMember(store.CustodyAccountsKey(token), from.AccountPath()); err != nil {
		return err
	}
	if err := tx.AddMember(store.CustodyAccountsKey(token), to.AccountPath()); err != nil {
		return err
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		Token:         token,
		Amount:        amount,
		JournalType:   journalType,
		Block:         batch.Block,
		Timestamp:     batch.Timestamp,
	})
	return nil
}

// GlobalBalance sums every account holding token. Custody is conserved, so the
// result is zero whenever the bank is the only writer of balances.
func (b *Bank) GlobalBalance(r store.Reader, token string) decimal.Decimal {
	total := decimal.Zero
	for _, path := range r.Members(store.CustodyAccountsKey(token)) {
		total = total.Add(r.Decimal(store.CustodyBalanceKey(path, token)))
	}
	return total
}

// ValidateGlobalBalance verifies the system is zero-sum for each token.
func (b *Bank) ValidateGlobalBalance(r store.Reader, tokens []string) error {
	for _, token := range tokens {
		if total := b.GlobalBalance(r, token); !total.IsZero() {
			return fmt.Errorf("global balance for %s is non-zero: %s", token, total)
		}
	}
	return nil
}
