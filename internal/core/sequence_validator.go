package core

import (
	"fmt"

	"PoolLedger/internal/errs"
	"PoolLedger/internal/observability"
)

var ErrClockRegression = errs.New(errs.ErrValidation, "block or timestamp behind previous command")

// SequenceValidator validates source sequences per producer and keeps the
// chain clock monotonic. Not thread-safe; only the engine goroutine uses it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // source -> next expected sequence
	lastBlock       uint64
	lastTimestamp   uint64
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence checks source sequence ordering. Duplicates behind the
// expected sequence pass so the caller can acknowledge them.
func (sv *SequenceValidator) ValidateSequence(source string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[source]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(source).Inc()
		}
		return fmt.Errorf("out-of-order command: source=%s, expected=%d, got=%d",
			source, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[source] = expected + 1
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(source).Inc()
	}
	return fmt.Errorf("sequence gap: source=%s, expected=%d, got=%d",
		source, expected, sourceSequence)
}

// ObserveClock advances the engine clock. Commands may share a block but
// never move block or timestamp backwards.
func (sv *SequenceValidator) ObserveClock(block, timestamp uint64) error {
	if block < sv.lastBlock || timestamp < sv.lastTimestamp {
		return errs.Wrap(ErrClockRegression, "block %d ts %d after block %d ts %d",
			block, timestamp, sv.lastBlock, sv.lastTimestamp)
	}
	sv.lastBlock, sv.lastTimestamp = block, timestamp
	return nil
}

// Clock returns the last observed block and timestamp.
func (sv *SequenceValidator) Clock() (block, timestamp uint64) {
	return sv.lastBlock, sv.lastTimestamp
}

func (sv *SequenceValidator) GetExpectedSequence(source string) int64 {
	return sv.expectedNextSeq[source]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(source string, seq int64) {
	sv.expectedNextSeq[source] = seq
}

// Sources returns a copy of the per-source expected sequences.
func (sv *SequenceValidator) Sources() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestoreClock sets the clock during recovery.
func (sv *SequenceValidator) RestoreClock(block, timestamp uint64) {
	sv.lastBlock, sv.lastTimestamp = block, timestamp
}
