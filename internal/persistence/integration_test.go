package persistence_test

import (
	"context"
	"testing"
	"time"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/market"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, persist chan core.CoreOutput) *core.Engine {
	t.Helper()
	roles, err := auth.ParseDirectory("gw=CONTROLLER;keeper-1=MARKET_KEEPER")
	require.NoError(t, err)
	return core.NewEngine(core.Config{Roles: roles}, persist, nil, nil, zerolog.Nop())
}

// runCommands feeds a short session through an engine and returns its
// outputs in order.
func runCommands(t *testing.T) (*core.Engine, []core.CoreOutput) {
	t.Helper()
	persist := make(chan core.CoreOutput, 16)
	engine := newEngine(t, persist)

	seqs := map[string]int64{}
	header := func(caller string) event.Header {
		h := event.Header{CommandID: uuid.New(), Source: caller, Sequence: seqs[caller], Block: 1, Timestamp: 12, Caller: caller}
		seqs[caller]++
		return h
	}
	for _, cmd := range []event.Event{
		&event.CreateMarket{Header: header("keeper-1"), Market: market.Market{MarketToken: "GM-ETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"}},
		&event.ExternalDeposit{Header: header("gw"), Account: "alice", Token: "USDC", Amount: fpmath.Expand(1000, 6)},
		&event.ExternalDeposit{Header: header("alice"), Account: "alice", Token: "USDC", Amount: fpmath.Expand(1, 6)},
	} {
		_, err := engine.Process(cmd)
		require.NoError(t, err)
	}
	close(persist)

	var outs []core.CoreOutput
	for out := range persist {
		outs = append(outs, out)
	}
	require.Len(t, outs, 3)
	return engine, outs
}

func TestPersistence_WriteAndReplay(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	engine, outs := runCommands(t)

	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)

	var flushed []core.CoreOutput
	worker := persistence.NewPersistenceWorker(db, in, 10, 50*time.Millisecond,
		func(batch []core.CoreOutput) { flushed = append(flushed, batch...) }, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))
	require.Len(t, flushed, 3)

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	envs, err := sm.LoadEventsFrom(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	for i, env := range envs {
		require.Equal(t, outs[i].Envelope.StateHash, env.StateHash)
		require.Equal(t, outs[i].Envelope.Status, env.Status)
	}
	require.Equal(t, event.StatusRejected, envs[2].Status, "alice cannot mint her own deposit")

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate(envs[1].EventType.String(), envs[1].IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)

	keys, err := checker.RecentKeys(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{
		core.CompositeKey(envs[1].EventType.String(), envs[1].IdempotencyKey),
		core.CompositeKey(envs[2].EventType.String(), envs[2].IdempotencyKey),
	}, keys)

	// A fresh engine replaying the log lands on the same hash.
	replayed := newEngine(t, nil)
	for _, env := range envs {
		require.NoError(t, replayed.Replay(env))
	}
	require.Equal(t, engine.GetStateHash(), replayed.GetStateHash())
	require.Equal(t, engine.GetSequence(), replayed.GetSequence())
}

func TestPersistence_SnapshotRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	engine, _ := runCommands(t)
	snap, err := engine.CreateSnapshotState()
	require.NoError(t, err)

	sm := persistence.NewSnapshotManager(db)
	require.NoError(t, sm.SaveSnapshot(ctx, snap))

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, snap.Sequence, loaded.Sequence)
	require.Equal(t, snap.StateHash, loaded.StateHash)

	restored := newEngine(t, nil)
	require.NoError(t, restored.RestoreFromSnapshot(loaded))
	require.Equal(t, engine.GetStateHash(), restored.GetStateHash())
}
