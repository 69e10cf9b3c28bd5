package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"

	"github.com/google/uuid"
)

// SnapshotStore saves and loads engine snapshots. SnapshotManager is the
// durable store; CachedSnapshotStore puts Redis in front of it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
}

// SnapshotManager keeps snapshots in event_log.snapshots and reads the event
// log back for replay. A snapshot row's sequence is the next sequence the
// engine assigns, so replay starts exactly there.
type SnapshotManager struct {
	db *sql.DB
}

const snapshotFormatVersion = 1

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot taken from live state. Such a snapshot is
// consistent by construction and is stored verified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// MarkVerified flags a snapshot whose replay matched the logged hashes.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads envelopes from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, source, source_sequence,
		       caller, block, timestamp, status, error, payload, result, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*event.EventEnvelope
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.MarketID, &r.Source, &r.SourceSequence,
			&r.Caller, &r.Block, &r.Timestamp, &r.Status, &r.Error, &r.Payload, &r.Result,
			&r.StateHash, &r.PrevHash,
		); err != nil {
			return nil, err
		}
		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

func decodeSnapshot(data []byte) (*core.SnapshotState, error) {
	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
