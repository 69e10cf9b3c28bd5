package ingestion

import (
	"context"
	"errors"
	"time"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor applies one command. *core.Engine implements it.
type Processor interface {
	Process(evt event.Event) (*core.CoreOutput, error)
}

// Ingestor feeds raw commands to the engine one at a time and settles each
// message once the engine has decided on it. A command is acked once it is
// sequenced (applied or rejected) or recognised as a duplicate. Ordering
// failures are redelivered so a gap can fill. Malformed payloads are dropped.
type Ingestor struct {
	proc    Processor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIngestor(proc Processor, metrics *observability.Metrics, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		proc:    proc,
		metrics: metrics,
		logger:  logger.With().Str("component", "ingestor").Logger(),
	}
}

// Run drains rawChan until it closes or ctx ends. It returns the engine's
// error once the engine has halted.
func (in *Ingestor) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			if err := in.Handle(raw); err != nil {
				return err
			}
		}
	}
}

// Handle processes a single raw command. Only a halted engine is an error.
func (in *Ingestor) Handle(raw RawEvent) error {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		in.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.TermFunc, raw.AckFunc)
		return nil
	}

	out, err := in.proc.Process(evt)
	switch {
	case out != nil:
		settle(raw.AckFunc)
		if in.metrics != nil && !raw.Timestamp.IsZero() {
			in.metrics.IngestToApply.WithLabelValues(evt.Meta().Source).Observe(time.Since(raw.Timestamp).Seconds())
		}
		if out.Envelope.Status == event.StatusRejected {
			in.logger.Debug().
				Str("event_type", evt.EventType().String()).
				Str("key", evt.IdempotencyKey()).
				Str("error", out.Envelope.Error).
				Msg("command rejected")
		}
		return err

	case err == nil:
		settle(raw.AckFunc)
		return nil

	case errors.Is(err, core.ErrHalted):
		settle(raw.NakFunc)
		return err

	default:
		in.logger.Warn().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("source", evt.Meta().Source).
			Int64("source_sequence", evt.SourceSequence()).
			Msg("command not sequenced, requesting redelivery")
		settle(raw.NakFunc)
		return nil
	}
}

// settle calls the first non-nil callback.
func settle(fns ...func()) {
	for _, f := range fns {
		if f != nil {
			f()
			return
		}
	}
}
