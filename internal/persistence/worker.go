package persistence

import (
	"context"
	"database/sql"
	"time"

	"PoolLedger/internal/core"
	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends to it blocking, so a slow worker stalls the engine
// instead of losing envelopes.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	onFlushed    func([]core.CoreOutput)
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPersistenceWorker creates a worker. onFlushed, when set, receives every
// batch after it is committed; outbound publishing hangs off it.
func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	onFlushed func([]core.CoreOutput),
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		onFlushed:    onFlushed,
		metrics:      metrics,
		logger:       logger.With().Str("component", "persistence").Logger(),
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when the channel closes or ctx ends,
// flushing whatever is pending first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(pending) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, pending); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("events", len(pending)).Msg("flush failed")
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}
			pending = append(pending, output)
			if len(pending) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx ends, in which case one last attempt runs without a deadline.
// Envelopes are never dropped while the process lives.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, outputs []core.CoreOutput) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(outputs)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), outputs)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, outputs)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, outputs []core.CoreOutput) error {
	start := time.Now()

	events := make([]EventRow, 0, len(outputs))
	var journals []JournalRow
	for _, out := range outputs {
		rec := NewRecord(out)
		events = append(events, rec.Event)
		journals = append(journals, rec.Journals...)
	}

	// Events and journals commit together.
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}
	if pw.onFlushed != nil {
		pw.onFlushed(append([]core.CoreOutput(nil), outputs...))
	}
	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
