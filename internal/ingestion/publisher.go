package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const outboundPrefix = "pool.ledger"

// OutboundPublisher publishes processed commands and their outcomes to NATS
// for downstream consumers.
// Subjects: pool.ledger.events.{event_type}[.{market}] and
// pool.ledger.outcomes.{kind}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is the outbound view of one sequenced command.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *string         `json:"market_id,omitempty"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Outcomes       []event.Outcome `json:"outcomes,omitempty"`
	Journals       int             `json:"journals"`
	StateHash      string          `json:"state_hash"`
	Block          uint64          `json:"block"`
	Timestamp      uint64          `json:"timestamp"`
}

// NewPublishableEvent flattens an engine output for publishing.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	pe := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Status:         env.Status.String(),
		Error:          env.Error,
		Outcomes:       out.Events,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Block:          env.Block,
		Timestamp:      env.Timestamp,
	}
	if len(env.Result) > 0 {
		pe.Result = json.RawMessage(env.Result)
	}
	if out.Batch != nil {
		pe.Journals = len(out.Batch.Journals)
	}
	return pe
}

// Subject is where the event itself is published.
func (pe PublishableEvent) Subject() string {
	subject := fmt.Sprintf("%s.events.%s", outboundPrefix, pe.EventType)
	if pe.MarketID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *pe.MarketID)
	}
	return subject
}

func OutcomeSubject(o event.Outcome) string {
	return fmt.Sprintf("%s.outcomes.%s", outboundPrefix, o.Kind)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger.With().Str("component", "publisher").Logger(),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			// Non-fatal: downstream consumers can read the event log directly.
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := op.js.Publish(ctx, evt.Subject(), data); err != nil {
		return err
	}

	for _, o := range evt.Outcomes {
		body, err := json.Marshal(struct {
			Sequence int64 `json:"sequence"`
			event.Outcome
		}{evt.Sequence, o})
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		if _, err := op.js.Publish(ctx, OutcomeSubject(o), body); err != nil {
			return err
		}
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "POOL_LEDGER_EVENTS",
		Subjects:  []string{outboundPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "POOL_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
