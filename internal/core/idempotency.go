package core

import (
	"container/list"
	"fmt"

	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU in
// front of the persisted event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// DBIdempotencyChecker looks a command up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// CompositeKey is the LRU entry for a command: "EventType:key".
func CompositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// IsDuplicate checks if a command has been processed. A failing database
// lookup counts as not seen; the sequence check still guards replays.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := CompositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			ic.logger.Warn().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("tier-2 dedup lookup failed")
			return false
		}
		if isDup {
			ic.recordDuplicate(eventType, "postgres")
			ic.lru.Add(key)
			return true
		}
	}
	return false
}

// Seen checks the LRU only.
func (ic *IdempotencyChecker) Seen(eventType string, idempotencyKey string) bool {
	return ic.lru.Contains(CompositeKey(eventType, idempotencyKey))
}

// MarkProcessed adds key to LRU after the command was sequenced
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// --- LRU ---

// IdempotencyLRU is an LRU set of composite keys. Not thread-safe.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		lru.lruList.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads recently processed composite keys on restart so recent
// duplicates never reach the database.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns the cached keys from least to most recently used, the order
// WarmFromKeys expects.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.lruList.Len())
	for el := lru.lruList.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.(string))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int { return lru.lruList.Len() }

func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
