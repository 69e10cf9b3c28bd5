package ledger_test

import (
	"errors"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var controller = auth.NewCapability("test", auth.RoleController)

func beginTx(t *testing.T) (*store.MemoryStore, store.Tx) {
	t.Helper()
	s := store.NewMemoryStore()
	tx, err := s.Begin(controller)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return s, tx
}

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	cases := map[string]ledger.AccountKey{
		"user:0xabc":       ledger.UserAccount("0xabc"),
		"market:ETH-USD":   ledger.MarketAccount("ETH-USD"),
		"vault:orders":     ledger.OrderVault(),
		"external:gateway": ledger.ExternalAccount("gateway"),
	}
	for want, key := range cases {
		if got := key.AccountPath(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		parsed, err := ledger.ParseAccountPath(want)
		if err != nil {
			t.Fatalf("parse %q: %v", want, err)
		}
		if parsed != key {
			t.Errorf("round trip %q: got %+v", want, parsed)
		}
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, p := range []string{"", "user", "user:", "system:fees"} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

// ============================================================================
// Test: Bank
// ============================================================================

func TestBank_TransferMovesCustodyAndJournals(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	bank := ledger.NewBank()
	batch := ledger.NewBatch("cmd-1", 1, 10, 1000)

	user := ledger.UserAccount("alice")
	gateway := ledger.ExternalAccount("gateway")

	if err := bank.Transfer(tx, batch, gateway, user, "USDC", amt(1_000_000), ledger.JournalTypeExternalDeposit); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bank.Transfer(tx, batch, user, ledger.OrderVault(), "USDC", amt(300_000), ledger.JournalTypeOrderCollateral); err != nil {
		t.Fatalf("vault: %v", err)
	}

	if got := bank.Balance(tx, user, "USDC"); !got.Equal(amt(700_000)) {
		t.Errorf("user balance: got %s, want 700000", got)
	}
	if got := bank.Balance(tx, ledger.OrderVault(), "USDC"); !got.Equal(amt(300_000)) {
		t.Errorf("vault balance: got %s, want 300000", got)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(batch.Journals))
	}
	if err := batch.Validate(); err != nil {
		t.Fatalf("batch should be valid: %v", err)
	}
	if err := bank.ValidateGlobalBalance(tx, []string{"USDC"}); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestBank_TransferRejectsOverdraft(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	bank := ledger.NewBank()
	batch := ledger.NewBatch("cmd-1", 1, 10, 1000)

	err := bank.Transfer(tx, batch, ledger.UserAccount("bob"), ledger.OrderVault(), "USDC", amt(1), ledger.JournalTypeOrderCollateral)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(batch.Journals) != 0 {
		t.Error("failed transfer must not journal")
	}
}

func TestBank_ZeroTransferIsNoop(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	batch := ledger.NewBatch("cmd-1", 1, 10, 1000)
	err := ledger.NewBank().Transfer(tx, batch, ledger.UserAccount("a"), ledger.UserAccount("b"), "USDC", decimal.Zero, ledger.JournalTypeClaimFee)
	if err != nil || len(batch.Journals) != 0 {
		t.Fatalf("expected no-op, got err=%v journals=%d", err, len(batch.Journals))
	}
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_ValidateRejectsMalformed(t *testing.T) {
	batch := ledger.NewBatch("x", 1, 1, 1)
	batch.Journals = []ledger.Journal{{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		DebitAccount:  ledger.UserAccount("a"),
		CreditAccount: ledger.UserAccount("a"),
		Token:         "USDC",
		Amount:        amt(5),
	}}
	if err := batch.Validate(); err == nil {
		t.Error("self transfer should be rejected")
	}

	batch.Journals[0].CreditAccount = ledger.UserAccount("b")
	batch.Journals[0].Amount = decimal.RequireFromString("0.5")
	if err := batch.Validate(); err == nil {
		t.Error("fractional amount should be rejected")
	}

	batch.Journals[0].Amount = amt(5)
	batch.Journals[0].BatchID = uuid.New()
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch id should be rejected")
	}
}

func TestBatch_NetFlows(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	bank := ledger.NewBank()
	batch := ledger.NewBatch("x", 1, 1, 1)
	a, b := ledger.UserAccount("a"), ledger.UserAccount("b")
	_ = bank.Transfer(tx, batch, ledger.ExternalAccount("gw"), a, "ETH", amt(10), ledger.JournalTypeExternalDeposit)
	_ = bank.Transfer(tx, batch, a, b, "ETH", amt(4), ledger.JournalTypeClaimFee)

	flows := batch.NetFlows()
	if !flows[a]["ETH"].Equal(amt(6)) || !flows[b]["ETH"].Equal(amt(4)) {
		t.Errorf("unexpected flows: %+v", flows)
	}
}

// ============================================================================
// Test: CustodyValidator
// ============================================================================

func TestCustodyValidator_DetectsUnassignedTokens(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	bank := ledger.NewBank()
	v := ledger.NewCustodyValidator(bank)
	batch := ledger.NewBatch("x", 1, 1, 1)
	market := "ETH-USD"

	_ = bank.Transfer(tx, batch, ledger.ExternalAccount("gw"), ledger.MarketAccount(market), "USDC", amt(100), ledger.JournalTypeLiquidityDeposit)
	err := v.Validate(tx, market, "WETH", []string{"WETH", "USDC"})
	if !errors.Is(err, ledger.ErrCustodyMismatch) {
		t.Fatalf("expected ErrCustodyMismatch, got %v", err)
	}

	_, _ = tx.AddDecimal(store.PoolAmountKey(market, "USDC"), amt(60))
	_, _ = tx.AddDecimal(store.CollateralSumKey(market, "USDC", false), amt(30))
	_, _ = tx.AddDecimal(store.ClaimableFeeAmountKey(market, "USDC"), amt(10))
	if err := v.Validate(tx, market, "WETH", []string{"WETH", "USDC"}); err != nil {
		t.Fatalf("custody should balance: %v", err)
	}
}

func TestCustodyValidator_PositionImpactPoolIsLongToken(t *testing.T) {
	_, tx := beginTx(t)
	defer tx.Rollback()
	v := ledger.NewCustodyValidator(ledger.NewBank())
	_, _ = tx.AddDecimal(store.PositionImpactPoolAmountKey("m"), amt(7))

	if got := v.Buckets(tx, "m", "WETH", "WETH"); !got.Equal(amt(7)) {
		t.Errorf("long token buckets: got %s", got)
	}
	if got := v.Buckets(tx, "m", "WETH", "USDC"); !got.IsZero() {
		t.Errorf("short token buckets: got %s", got)
	}
}
