package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes envelopes and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on sequence and journal id.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	MarketID       *string
	Source         string
	SourceSequence int64
	Caller         string
	Block          int64
	Timestamp      int64
	Status         string
	Error          string
	Payload        []byte // JSON-encoded command
	Result         []byte // JSON-encoded result, nil when rejected
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Token         string
	Amount        decimal.Decimal
	JournalType   string
	Block         int64
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewEventRow flattens an envelope into its event_log row.
func NewEventRow(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Source:         env.Source,
		SourceSequence: env.SourceSequence,
		Caller:         env.Caller,
		Block:          int64(env.Block),
		Timestamp:      int64(env.Timestamp),
		Status:         env.Status.String(),
		Error:          env.Error,
		Payload:        env.Payload,
		Result:         env.Result,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
	}
	return row
}

// Envelope rebuilds the envelope a row was written from.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	t, ok := event.ParseEventType(r.EventType)
	if !ok {
		return nil, fmt.Errorf("event %d: unknown event type %q", r.Sequence, r.EventType)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: hash length %d/%d", r.Sequence, len(r.StateHash), len(r.PrevHash))
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      t,
		MarketID:       r.MarketID,
		Source:         r.Source,
		SourceSequence: r.SourceSequence,
		Caller:         r.Caller,
		Block:          uint64(r.Block),
		Timestamp:      uint64(r.Timestamp),
		Error:          r.Error,
		Payload:        r.Payload,
		Result:         r.Result,
	}
	if r.Status == event.StatusRejected.String() {
		env.Status = event.StatusRejected
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// NewJournalRows flattens a batch's journals.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Token:         j.Token,
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Block:         int64(j.Block),
			Timestamp:     int64(j.Timestamp),
		})
	}
	return rows
}

// Record is one engine output in row form.
type Record struct {
	Event    EventRow
	Journals []JournalRow
}

func NewRecord(out core.CoreOutput) Record {
	return Record{Event: NewEventRow(out.Envelope), Journals: NewJournalRows(out.Batch)}
}

const eventColumns = 15

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, q execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*eventColumns)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.MarketID,
			e.Source, e.SourceSequence, e.Caller, e.Block, e.Timestamp,
			e.Status, e.Error, e.Payload, nullableJSON(e.Result), e.StateHash, e.PrevHash,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market_id, source, source_sequence, caller,
		 block, timestamp, status, error, payload, result, state_hash, prev_hash)
		VALUES ` + valuesClause(len(events), eventColumns) +
		" ON CONFLICT (sequence) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

const journalColumns = 11

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, q execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]any, 0, len(journals)*journalColumns)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Token, j.Amount,
			j.JournalType, j.Block, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		 token, amount, journal_type, block, timestamp)
		VALUES ` + valuesClause(len(journals), journalColumns) +
		" ON CONFLICT (journal_id) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// valuesClause renders "($1, $2), ($3, $4)" for rows x cols placeholders.
func valuesClause(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
