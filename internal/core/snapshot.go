package core

import (
	"fmt"

	"PoolLedger/internal/store"
)

// SnapshotState is the serializable engine state for warm restarts: the
// committed store plus everything the pipeline needs to continue the chain.
type SnapshotState struct {
	// Sequence is the next sequence the engine will assign.
	Sequence        int64            `json:"sequence"`
	StateHash       [32]byte         `json:"state_hash"`
	SequenceState   map[string]int64 `json:"sequence_state"`
	Block           uint64           `json:"block"`
	Timestamp       uint64           `json:"timestamp"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	Store           *store.Snapshot  `json:"store"`
}

// CreateSnapshotState captures the engine between commands.
func (e *Engine) CreateSnapshotState() (*SnapshotState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	block, ts := e.sequenceValidator.Clock()
	return &SnapshotState{
		Sequence:        e.sequence,
		StateHash:       e.hasher.Tip(),
		SequenceState:   e.sequenceValidator.Sources(),
		Block:           block,
		Timestamp:       ts,
		IdempotencyKeys: e.idempotency.lru.Keys(),
		Store:           st,
	}, nil
}

// RestoreFromSnapshot replaces the engine state. Events after
// snap.Sequence-1 are then replayed with Replay.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap.Store == nil {
		return fmt.Errorf("snapshot at %d has no store", snap.Sequence)
	}
	if err := e.store.Restore(snap.Store); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}
	e.sequence = snap.Sequence
	e.hasher.Reset(snap.StateHash)
	for source, next := range snap.SequenceState {
		e.sequenceValidator.SetExpectedSequence(source, next)
	}
	e.sequenceValidator.RestoreClock(snap.Block, snap.Timestamp)
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	e.halted = nil
	return nil
}
