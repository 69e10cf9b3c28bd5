package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeExternalDeposit JournalType = iota
	JournalTypeExternalWithdrawal
	JournalTypeLiquidityDeposit
	JournalTypeLiquidityWithdrawal
	JournalTypeOrderCollateral
	JournalTypeOrderExecutionFee
	JournalTypeOrderRefund
	JournalTypeKeeperFee
	JournalTypeSwapHop
	JournalTypePositionCollateral
	JournalTypePositionOutput
	JournalTypeClaimFunding
	JournalTypeClaimCollateral
	JournalTypeClaimAffiliateReward
	JournalTypeClaimFee
)

var journalTypeNames = map[JournalType]string{
	JournalTypeExternalDeposit:      "external_deposit",
	JournalTypeExternalWithdrawal:   "external_withdrawal",
	JournalTypeLiquidityDeposit:     "liquidity_deposit",
	JournalTypeLiquidityWithdrawal:  "liquidity_withdrawal",
	JournalTypeOrderCollateral:      "order_collateral",
	JournalTypeOrderExecutionFee:    "order_execution_fee",
	JournalTypeOrderRefund:          "order_refund",
	JournalTypeKeeperFee:            "keeper_fee",
	JournalTypeSwapHop:              "swap_hop",
	JournalTypePositionCollateral:   "position_collateral",
	JournalTypePositionOutput:       "position_output",
	JournalTypeClaimFunding:         "claim_funding",
	JournalTypeClaimCollateral:      "claim_collateral",
	JournalTypeClaimAffiliateReward: "claim_affiliate_reward",
	JournalTypeClaimFee:             "claim_fee",
}

func (t JournalType) String() string {
	if n, ok := journalTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID       // Unique identifier
	BatchID       uuid.UUID       // Groups entries of one engine call
	EventRef      string          // Idempotency key of the source command
	Sequence      int64           // Global call sequence
	DebitAccount  AccountKey      // Account receiving tokens
	CreditAccount AccountKey      // Account releasing tokens
	Token         string          // Token being transferred
	Amount        decimal.Decimal // Raw token units (ALWAYS positive)
	JournalType   JournalType     // Entry type
	Block         uint64
	Timestamp     uint64
}

// Batch collects every custody movement of one engine call
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Block     uint64
	Timestamp uint64
	Journals  []Journal
}

func NewBatch(eventRef string, sequence int64, block, timestamp uint64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Block:     block,
		Timestamp: timestamp,
	}
}

// Validate ensures the batch is well-formed. Each journal is balanced by
// construction: one positive amount leaves the credit account and enters the
// debit account. An empty batch is valid; many calls move no tokens.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
		}
		if !j.Amount.Equal(j.Amount.Truncate(0)) {
			return fmt.Errorf("journal %s has fractional amount: %s", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}
	return nil
}

// NetFlows returns the signed per-account, per-token change the batch applies.
func (b *Batch) NetFlows() map[AccountKey]map[string]decimal.Decimal {
	out := make(map[AccountKey]map[string]decimal.Decimal)
	add := func(k AccountKey, token string, v decimal.Decimal) {
		m, ok := out[k]
		if !ok {
			m = make(map[string]decimal.Decimal)
			out[k] = m
		}
		m[token] = m[token].Add(v)
	}
	for _, j := range b.Journals {
		add(j.DebitAccount, j.Token, j.Amount)
		add(j.CreditAccount, j.Token, j.Amount.Neg())
	}
	return out
}
