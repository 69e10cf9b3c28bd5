package store_test

import (
	"encoding/json"
	"errors"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type note struct {
	Text string `json:"text"`
}

func (n *note) Kind() string { return "test_note" }

func (n *note) Clone() store.Record {
	c := *n
	return &c
}

func init() {
	store.RegisterKind("test_note", func() store.Record { return &note{} })
}

var controller = auth.NewCapability("test", auth.RoleController)

func mustBegin(t *testing.T, s *store.MemoryStore) store.Tx {
	t.Helper()
	tx, err := s.Begin(controller)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

// ============================================================================
// Test: transactions
// ============================================================================

func TestBegin_RequiresController(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.Begin(auth.NewCapability("keeper", auth.RoleOrderKeeper))
	require.True(t, errors.Is(err, auth.ErrUnauthorized))
}

func TestBegin_SingleWriter(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	_, err := s.Begin(controller)
	require.True(t, errors.Is(err, store.ErrTxInProgress))
	tx.Rollback()

	tx = mustBegin(t, s)
	tx.Rollback()
}

func TestTx_ReadYourWritesAndIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)

	_, err := tx.AddDecimal("a", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.True(t, tx.Decimal("a").Equal(decimal.NewFromInt(5)))
	require.True(t, s.Decimal("a").IsZero(), "uncommitted write leaked")

	require.NoError(t, tx.Commit())
	require.True(t, s.Decimal("a").Equal(decimal.NewFromInt(5)))
}

func TestTx_RollbackDiscardsEverything(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	require.NoError(t, tx.SetRecord("n", &note{Text: "x"}))
	require.NoError(t, tx.AddMember("set", "m"))
	require.NoError(t, tx.SetUint64("u", 9))
	tx.Rollback()

	_, ok := s.Record("n")
	require.False(t, ok)
	require.Empty(t, s.Members("set"))
	require.Zero(t, s.Uint64("u"))

	require.True(t, errors.Is(tx.Commit(), store.ErrTxClosed))
}

func TestTx_AddDecimalRejectsNegative(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	defer tx.Rollback()

	_, err := tx.AddDecimal("a", decimal.NewFromInt(-1))
	require.True(t, errors.Is(err, store.ErrNegativeValue))

	v, err := tx.AddSignedDecimal("b", decimal.NewFromInt(-1))
	require.NoError(t, err)
	require.True(t, v.Equal(decimal.NewFromInt(-1)))
}

func TestTx_RecordsAreCopies(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	n := &note{Text: "before"}
	require.NoError(t, tx.SetRecord("n", n))
	n.Text = "mutated"
	require.NoError(t, tx.Commit())

	r, ok := s.Record("n")
	require.True(t, ok)
	require.Equal(t, "before", r.(*note).Text)
}

func TestTx_SetMembership(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	require.NoError(t, tx.AddMember("set", "b"))
	require.NoError(t, tx.AddMember("set", "a"))
	require.NoError(t, tx.Commit())

	tx = mustBegin(t, s)
	require.NoError(t, tx.RemoveMember("set", "b"))
	require.NoError(t, tx.AddMember("set", "c"))
	require.Equal(t, []string{"a", "c"}, tx.Members("set"))
	require.False(t, tx.Contains("set", "b"))
	require.Equal(t, []string{"a", "b"}, s.Members("set"))
	require.NoError(t, tx.Commit())
	require.Equal(t, []string{"a", "c"}, s.Members("set"))
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	tx := mustBegin(t, s)
	_, _ = tx.AddDecimal("pool", decimal.RequireFromString("123456789012345678901234567890123"))
	_ = tx.SetBool("flag", true)
	_ = tx.SetUint64("ts", 42)
	_ = tx.SetRecord("n", &note{Text: "hello"})
	_ = tx.AddMember("set", "m")
	require.NoError(t, tx.Commit())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded store.Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := store.NewMemoryStore()
	require.NoError(t, restored.Restore(&decoded))

	require.True(t, restored.Decimal("pool").Equal(s.Decimal("pool")))
	require.True(t, restored.Bool("flag"))
	require.Equal(t, uint64(42), restored.Uint64("ts"))
	r, ok := restored.Record("n")
	require.True(t, ok)
	require.Equal(t, "hello", r.(*note).Text)
	require.True(t, restored.Contains("set", "m"))
}
