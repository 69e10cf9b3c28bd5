// Package core sequences commands through the pool engine: dedup, ordering,
// one store transaction per command, custody checks and the state hash chain.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PoolLedger/internal/adl"
	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/event"
	"PoolLedger/internal/fees"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/order"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"

	"github.com/rs/zerolog"
)

// ErrHalted is returned once an invariant violation has stopped the engine.
var ErrHalted = errors.New("engine halted after invariant violation")

// Config wires the engine's collaborators. Zero values fall back to
// defaults: no referrals, no callbacks, an empty role directory.
type Config struct {
	StartSequence int64
	LRUCapacity   int
	Gas           order.GasConfig
	Callbacks     order.Callbacks
	Referrals     fees.Referrals
	Roles         *auth.Directory
	DBChecker     DBIdempotencyChecker
}

// Engine is the single writer of pool state. Process and SimulateOrder are
// serialized; readers use Store, which only exposes committed state.
type Engine struct {
	mu sync.Mutex

	sequence int64
	halted   error

	store     *store.MemoryStore
	roles     *auth.Directory
	bank      *ledger.Bank
	custody   *ledger.CustodyValidator
	registry  *market.Registry
	configs   *market.ConfigStore
	positions *position.Ledger
	pools     *pool.Manager
	orders    *order.Handler
	adl       *adl.Controller
	claims    *fees.Claimer

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one command produced.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Events   []event.Outcome
}

func NewEngine(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	if cfg.Referrals == nil {
		cfg.Referrals = fees.NoReferrals{}
	}
	if cfg.Roles == nil {
		cfg.Roles = auth.NewDirectory()
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.Gas.FeeToken == "" {
		cfg.Gas = order.DefaultGasConfig()
	}

	bank := ledger.NewBank()
	registry := market.NewRegistry()
	configs := market.NewConfigStore()
	positions := position.NewLedger(bank, configs, cfg.Referrals)
	pools := pool.NewManager(bank, registry, configs)

	return &Engine{
		sequence:          cfg.StartSequence,
		store:             store.NewMemoryStore(),
		roles:             cfg.Roles,
		bank:              bank,
		custody:           ledger.NewCustodyValidator(bank),
		registry:          registry,
		configs:           configs,
		positions:         positions,
		pools:             pools,
		orders:            order.NewHandler(bank, registry, positions, pools, cfg.Gas, cfg.Callbacks, logger.With().Str("module", "order").Logger()),
		adl:               adl.NewController(registry, configs, positions, logger.With().Str("module", "adl").Logger()),
		claims:            fees.NewClaimer(bank, registry),
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, metrics, logger),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Process is the main processing pipeline. Duplicates return (nil, nil).
// Ordering failures return an error without consuming a sequence; the
// producer redelivers. Every other command is sequenced and emitted, with
// Status rejected when its entry point failed.
func (e *Engine) Process(evt event.Event) (*CoreOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	output, err := e.process(evt, false)
	if output == nil {
		return nil, err
	}

	// Persistence blocks so nothing is lost; projections drop on a full
	// channel and catch up from the event log.
	if e.persistChan != nil {
		select {
		case e.persistChan <- *output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- *output
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- *output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
	return output, err
}

// Replay re-applies a logged envelope during recovery without emitting it.
// The recomputed state hash must match the logged one.
func (e *Engine) Replay(env *event.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay: envelope sequence %d, engine at %d", env.Sequence, e.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	output, err := e.process(evt, true)
	if output == nil {
		if err == nil {
			err = fmt.Errorf("command %s already applied", env.IdempotencyKey)
		}
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if output.Envelope.StateHash != env.StateHash {
		e.halted = fmt.Errorf("state hash mismatch at sequence %d", env.Sequence)
		return errs.Wrap(errs.ErrInvariant, "replay: %v", e.halted)
	}
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// process runs one command. Replayed commands are already in the persisted
// log, so only the in-memory dedup tier applies to them.
func (e *Engine) process(evt event.Event, replay bool) (*CoreOutput, error) {
	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, e.halted)
	}

	start := time.Now()
	h := evt.Meta()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: idempotency (two-tier)
	var isDuplicate bool
	if replay {
		isDuplicate = e.idempotency.Seen(eventType, idempotencyKey)
	} else {
		isDuplicate = e.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: per-source ordering
	if err := e.sequenceValidator.ValidateSequence(h.Source, h.Sequence, isDuplicate); err != nil {
		e.reject(eventType, "sequence")
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		e.reject(eventType, "duplicate")
		return nil, nil
	}

	payload, err := event.Encode(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}

	// Step 3: apply
	batch := ledger.NewBatch(idempotencyKey, e.sequence, h.Block, h.Timestamp)
	result, outcomes, applyErr := e.run(evt, batch)

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Source:         h.Source,
		SourceSequence: h.Sequence,
		Caller:         h.Caller,
		Block:          h.Block,
		Timestamp:      h.Timestamp,
		Payload:        payload,
	}
	if applyErr != nil {
		envelope.Status = event.StatusRejected
		envelope.Error = applyErr.Error()
	} else if result != nil {
		if envelope.Result, err = json.Marshal(result); err != nil {
			applyErr = errs.Wrap(errs.ErrInvariant, "encode %s result: %v", eventType, err)
			envelope.Status, envelope.Error = event.StatusRejected, applyErr.Error()
		}
	}

	// Step 4: hash chain
	hashStart := time.Now()
	envelope.PrevHash = e.hasher.Tip()
	envelope.StateHash = e.hasher.Advance(e.sequence, commandDigest(envelope, batch, func(acct ledger.AccountKey, token string) string {
		return e.bank.Balance(e.store, acct, token).String()
	}))
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	output := &CoreOutput{Envelope: envelope, Batch: batch, Events: outcomes}
	e.sequence++
	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		if applyErr != nil {
			e.metrics.CommandsRejected.WithLabelValues(eventType, classLabel(applyErr)).Inc()
		} else {
			e.metrics.CommandsApplied.WithLabelValues(eventType).Inc()
		}
		for _, j := range batch.Journals {
			e.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
		e.metrics.CommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
	}

	if errors.Is(applyErr, errs.ErrInvariant) {
		e.halted = applyErr
		e.logger.Error().Err(applyErr).Int64("sequence", envelope.Sequence).Str("event_type", eventType).Msg("invariant violated, engine halted")
		return output, applyErr
	}
	return output, nil
}

func (e *Engine) reject(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func classLabel(err error) string {
	if class := errs.ClassOf(err); class != nil {
		return class.Error()
	}
	return "other"
}

// run applies a command in its own transaction. A failed order execution is
// rolled back and its fate decided in a second transaction, whose journals
// replace the failed attempt's.
func (e *Engine) run(evt event.Event, batch *ledger.Batch) (any, []event.Outcome, error) {
	h := evt.Meta()
	if err := e.sequenceValidator.ObserveClock(h.Block, h.Timestamp); err != nil {
		return nil, nil, err
	}

	result, outcomes, err := e.inTx(h.Caller, batch, func(tx store.Tx) (any, []event.Outcome, error) {
		return e.dispatch(tx, batch, evt)
	})
	if err == nil {
		return result, outcomes, nil
	}

	exec, ok := evt.(*event.ExecuteOrder)
	if !ok || errors.Is(err, errs.ErrInvariant) {
		return nil, nil, err
	}
	_, failOutcomes, failErr := e.inTx(h.Caller, batch, func(tx store.Tx) (any, []event.Outcome, error) {
		return e.handleOrderFailure(tx, batch, exec.Key, err)
	})
	if failErr != nil {
		if errors.Is(failErr, errs.ErrInvariant) {
			return nil, nil, failErr
		}
		e.logger.Warn().Err(failErr).Str("order", exec.Key).Msg("order failure handling rolled back")
	}
	return nil, failOutcomes, err
}

// inTx runs fn in a store transaction holding the caller's directory roles
// plus RoleController, then checks custody and commits. Panics inside fn are
// invariant violations. On failure the batch is emptied.
func (e *Engine) inTx(caller string, batch *ledger.Batch, fn func(store.Tx) (any, []event.Outcome, error)) (result any, outcomes []event.Outcome, err error) {
	tx, err := e.store.Begin(e.roles.Capability(caller, auth.RoleController))
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrInvariant, "begin: %v", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errs.Wrap(errs.ErrInvariant, "panic: %v", r)
		}
		if err != nil {
			tx.Rollback()
			batch.Journals = batch.Journals[:0]
			result, outcomes = nil, nil
		}
	}()

	if result, outcomes, err = fn(tx); err != nil {
		return
	}
	if err = e.postCheck(tx, batch); err != nil {
		return
	}
	if cerr := tx.Commit(); cerr != nil {
		err = errs.Wrap(errs.ErrInvariant, "commit: %v", cerr)
	}
	return
}

// postCheck validates the batch and that every market's custody still
// matches its buckets and every token is zero-sum.
func (e *Engine) postCheck(tx store.Tx, batch *ledger.Batch) error {
	if err := batch.Validate(); err != nil {
		return errs.Wrap(errs.ErrInvariant, "%v", err)
	}
	for _, m := range e.registry.List(tx) {
		if err := e.custody.Validate(tx, m.MarketToken, m.LongToken, m.CollateralTokens()); err != nil {
			return errs.Wrap(errs.ErrInvariant, "%v", err)
		}
	}
	tokens := make(map[string]struct{})
	for _, j := range batch.Journals {
		tokens[j.Token] = struct{}{}
	}
	list := make([]string, 0, len(tokens))
	for t := range tokens {
		list = append(list, t)
	}
	sort.Strings(list)
	if err := e.bank.ValidateGlobalBalance(tx, list); err != nil {
		return errs.Wrap(errs.ErrInvariant, "%v", err)
	}
	return nil
}

// ============================================================================
// Read access, simulation and recovery
// ============================================================================

// Store exposes committed state for queries.
func (e *Engine) Store() store.Reader { return e.store }

func (e *Engine) Registry() *market.Registry  { return e.registry }
func (e *Engine) Configs() *market.ConfigStore { return e.configs }
func (e *Engine) Bank() *ledger.Bank           { return e.bank }
func (e *Engine) Gas() order.GasConfig         { return e.orders.Gas() }

// SimulateOrder runs an order against a price report and discards the
// result. The caller's directory roles decide access to frozen orders.
func (e *Engine) SimulateOrder(caller, key string, report event.PriceReport) (*order.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices, err := report.Build()
	if err != nil {
		return nil, err
	}
	_, now := e.sequenceValidator.Clock()
	tx, err := e.store.Begin(e.roles.Capability(caller, auth.RoleController))
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	batch := ledger.NewBatch("simulate:"+key, e.sequence, report.MaxBlock, now)
	res, err := e.orders.Simulate(tx, batch, order.ExecuteParams{
		Key:    key,
		Prices: prices,
		Block:  report.MaxBlock,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}
	if err := e.validateSolvency(tx, res.Order.Markets(), prices, now); err != nil {
		return nil, err
	}
	return res, nil
}

// ViewMeta tells a reader which point of the log it is looking at.
type ViewMeta struct {
	// Sequence is the next sequence to be assigned; every envelope below it
	// is reflected in the view.
	Sequence  int64
	Block     uint64
	Timestamp uint64
}

// View runs fn against committed state between commands, so multi-key reads
// see a single point of the log.
func (e *Engine) View(fn func(r store.Reader, meta ViewMeta) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	block, ts := e.sequenceValidator.Clock()
	return fn(e.store, ViewMeta{Sequence: e.sequence, Block: block, Timestamp: ts})
}

func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.Tip()
}

// WarmLRU preloads composite "EventType:key" entries.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
