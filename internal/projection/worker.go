package projection

import (
	"context"
	"database/sql"
	"fmt"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const workerID = "main"

// BalanceDelta is the net change one output makes to an account's holding of
// a token.
type BalanceDelta struct {
	AccountPath string
	Token       string
	Amount      decimal.Decimal
}

// OutcomeRow is one lifecycle notification in projections.outcomes.
type OutcomeRow struct {
	Sequence  int64
	Ordinal   int
	Kind      string
	Key       string
	Market    string
	Reason    string
	EventType string
	Caller    string
	Timestamp int64
}

// Update is everything the projection tables learn from one output.
type Update struct {
	Sequence int64
	Balances []BalanceDelta
	Outcomes []OutcomeRow
}

// NewUpdate folds a batch into per-account deltas. Debit accounts receive
// tokens, credit accounts release them. Deltas come out in first-touch order
// so writes are deterministic; zero nets are dropped.
func NewUpdate(out core.CoreOutput) Update {
	u := Update{Sequence: out.Envelope.Sequence}

	type slot struct{ account, token string }
	index := map[slot]int{}
	add := func(account ledger.AccountKey, token string, amount decimal.Decimal) {
		s := slot{account.AccountPath(), token}
		i, ok := index[s]
		if !ok {
			i = len(u.Balances)
			index[s] = i
			u.Balances = append(u.Balances, BalanceDelta{AccountPath: s.account, Token: token, Amount: decimal.Zero})
		}
		u.Balances[i].Amount = u.Balances[i].Amount.Add(amount)
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			add(j.DebitAccount, j.Token, j.Amount)
			add(j.CreditAccount, j.Token, j.Amount.Neg())
		}
	}
	kept := u.Balances[:0]
	for _, d := range u.Balances {
		if !d.Amount.IsZero() {
			kept = append(kept, d)
		}
	}
	u.Balances = kept

	for i, o := range out.Events {
		u.Outcomes = append(u.Outcomes, outcomeRow(out.Envelope, i, o))
	}
	return u
}

func outcomeRow(env *event.EventEnvelope, ordinal int, o event.Outcome) OutcomeRow {
	return OutcomeRow{
		Sequence:  env.Sequence,
		Ordinal:   ordinal,
		Kind:      o.Kind,
		Key:       o.Key,
		Market:    o.Market,
		Reason:    o.Reason,
		EventType: env.EventType.String(),
		Caller:    env.Caller,
		Timestamp: int64(env.Timestamp),
	}
}

// ProjectionWorker maintains the read model behind the query API. The
// engine feeds it without blocking, so it can fall behind or miss outputs;
// RebuildProjections restores it from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger.With().Str("component", "projection").Logger(),
	}
}

// Run applies outputs until the channel closes or ctx is cancelled.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil {
				continue
			}
			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).
					Msg("projection gap; rebuild from event log to catch up")
			}
			if err := pw.apply(ctx, NewUpdate(output)); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionDrops.WithLabelValues("write").Inc()
				}
				continue
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, u Update) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, token, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path, token)
			DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
		`, d.AccountPath, d.Token, d.Amount, u.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, o := range u.Outcomes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.outcomes
				(sequence, ordinal, kind, key, market, reason, event_type, caller, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (sequence, ordinal) DO NOTHING
		`, o.Sequence, o.Ordinal, o.Kind, o.Key, o.Market, o.Reason, o.EventType, o.Caller, o.Timestamp); err != nil {
			return fmt.Errorf("outcome projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, u.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// RebuildProjections recomputes balances from event_log.journal. Outcomes
// are not in the event log and survive a rebuild untouched.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT account_path, token, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, token, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, token, -amount AS delta, sequence FROM event_log.journal
		) flows
		GROUP BY account_path, token
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
