package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"PoolLedger/internal/errs"
	"PoolLedger/internal/event"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownEventType = errs.New(errs.ErrValidation, "unknown event type")
	ErrMalformedCommand = errs.New(errs.ErrValidation, "malformed command")
)

// IngestService injects commands outside NATS: admin operations and manual
// corrections arriving through the gateway. It is not the high-throughput
// path.
type IngestService struct {
	proc   Processor
	logger zerolog.Logger
}

func NewIngestService(proc Processor, logger zerolog.Logger) *IngestService {
	return &IngestService{proc: proc, logger: logger.With().Str("component", "admin_ingest").Logger()}
}

// SubmitResult reports how the engine sequenced a submitted command.
type SubmitResult struct {
	Duplicate bool            `json:"duplicate"`
	Sequence  int64           `json:"sequence"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	StateHash string          `json:"state_hash,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Outcomes  []event.Outcome `json:"outcomes,omitempty"`
}

// Submit decodes a JSON command named by eventType and applies it
// synchronously. A rejected command is still a successful submission.
func (s *IngestService) Submit(ctx context.Context, eventType string, body []byte) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, errs.Wrap(ErrUnknownEventType, "%q", eventType)
	}
	evt, err := event.Decode(t, body)
	if err != nil {
		return nil, errs.Wrap(ErrMalformedCommand, "%v", err)
	}

	out, err := s.proc.Process(evt)
	if out == nil {
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Duplicate: true}, nil
	}
	env := out.Envelope
	s.logger.Info().
		Str("event_type", eventType).
		Str("caller", env.Caller).
		Int64("sequence", env.Sequence).
		Str("status", env.Status.String()).
		Msg("admin command submitted")

	res := &SubmitResult{
		Sequence:  env.Sequence,
		Status:    env.Status.String(),
		Error:     env.Error,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Outcomes:  out.Events,
	}
	if len(env.Result) > 0 {
		res.Result = json.RawMessage(env.Result)
	}
	return res, err
}
