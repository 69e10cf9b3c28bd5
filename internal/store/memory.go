package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"PoolLedger/internal/auth"

	"github.com/shopspring/decimal"
)

// MemoryStore is the in-process KeyValueStore. One transaction may be open at a
// time; readers outside the transaction see the last committed state.
type MemoryStore struct {
	mu       sync.RWMutex
	txOpen   bool
	decimals map[string]decimal.Decimal
	bools    map[string]bool
	uints    map[string]uint64
	records  map[string]Record
	sets     map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decimals: make(map[string]decimal.Decimal),
		bools:    make(map[string]bool),
		uints:    make(map[string]uint64),
		records:  make(map[string]Record),
		sets:     make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Decimal(key string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decimals[key]
}

func (s *MemoryStore) Bool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bools[key]
}

func (s *MemoryStore) Uint64(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uints[key]
}

func (s *MemoryStore) Record(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *MemoryStore) Members(setKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMembers(s.sets[setKey])
}

func (s *MemoryStore) Contains(setKey, member string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[setKey][member]
	return ok
}

// Begin opens the single write transaction.
func (s *MemoryStore) Begin(c auth.Capability) (Tx, error) {
	if err := c.Require(auth.RoleController); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txOpen {
		return nil, ErrTxInProgress
	}
	s.txOpen = true
	return &memTx{
		base:     s,
		cap:      c,
		decimals: make(map[string]decimal.Decimal),
		bools:    make(map[string]bool),
		uints:    make(map[string]uint64),
		records:  make(map[string]Record),
		removed:  make(map[string]struct{}),
		setOps:   make(map[string]map[string]bool),
	}, nil
}

func sortedMembers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// Transaction overlay
// ============================================================================

type memTx struct {
	base   *MemoryStore
	cap    auth.Capability
	closed bool

	decimals map[string]decimal.Decimal
	bools    map[string]bool
	uints    map[string]uint64
	records  map[string]Record
	removed  map[string]struct{}
	// setOps[set][member] is true for an add, false for a removal
	setOps map[string]map[string]bool
}

func (t *memTx) Capability() auth.Capability { return t.cap }

func (t *memTx) Decimal(key string) decimal.Decimal {
	if v, ok := t.decimals[key]; ok {
		return v
	}
	return t.base.Decimal(key)
}

func (t *memTx) Bool(key string) bool {
	if v, ok := t.bools[key]; ok {
		return v
	}
	return t.base.Bool(key)
}

func (t *memTx) Uint64(key string) uint64 {
	if v, ok := t.uints[key]; ok {
		return v
	}
	return t.base.Uint64(key)
}

func (t *memTx) Record(key string) (Record, bool) {
	if _, gone := t.removed[key]; gone {
		return nil, false
	}
	if r, ok := t.records[key]; ok {
		return r.Clone(), true
	}
	return t.base.Record(key)
}

func (t *memTx) Members(setKey string) []string {
	t.base.mu.RLock()
	merged := make(map[string]struct{}, len(t.base.sets[setKey]))
	for m := range t.base.sets[setKey] {
		merged[m] = struct{}{}
	}
	t.base.mu.RUnlock()
	for m, add := range t.setOps[setKey] {
		if add {
			merged[m] = struct{}{}
		} else {
			delete(merged, m)
		}
	}
	return sortedMembers(merged)
}

func (t *memTx) Contains(setKey, member string) bool {
	if add, ok := t.setOps[setKey][member]; ok {
		return add
	}
	return t.base.Contains(setKey, member)
}

func (t *memTx) SetDecimal(key string, v decimal.Decimal) error {
	if t.closed {
		return ErrTxClosed
	}
	t.decimals[key] = v
	return nil
}

func (t *memTx) AddDecimal(key string, delta decimal.Decimal) (decimal.Decimal, error) {
	if t.closed {
		return decimal.Zero, ErrTxClosed
	}
	next := t.Decimal(key).Add(delta)
	if next.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: key %s delta %s", ErrNegativeValue, key, delta.String())
	}
	t.decimals[key] = next
	return next, nil
}

func (t *memTx) AddSignedDecimal(key string, delta decimal.Decimal) (decimal.Decimal, error) {
	if t.closed {
		return decimal.Zero, ErrTxClosed
	}
	next := t.Decimal(key).Add(delta)
	t.decimals[key] = next
	return next, nil
}

func (t *memTx) SetBool(key string, v bool) error {
	if t.closed {
		return ErrTxClosed
	}
	t.bools[key] = v
	return nil
}

func (t *memTx) SetUint64(key string, v uint64) error {
	if t.closed {
		return ErrTxClosed
	}
	t.uints[key] = v
	return nil
}

func (t *memTx) SetRecord(key string, r Record) error {
	if t.closed {
		return ErrTxClosed
	}
	delete(t.removed, key)
	t.records[key] = r.Clone()
	return nil
}

func (t *memTx) RemoveRecord(key string) error {
	if t.closed {
		return ErrTxClosed
	}
	delete(t.records, key)
	t.removed[key] = struct{}{}
	return nil
}

func (t *memTx) AddMember(setKey, member string) error {
	return t.setOp(setKey, member, true)
}

func (t *memTx) RemoveMember(setKey, member string) error {
	return t.setOp(setKey, member, false)
}

func (t *memTx) setOp(setKey, member string, add bool) error {
	if t.closed {
		return ErrTxClosed
	}
	ops, ok := t.setOps[setKey]
	if !ok {
		ops = make(map[string]bool)
		t.setOps[setKey] = ops
	}
	ops[member] = add
	return nil
}

// Commit publishes every write at once.
func (t *memTx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	s := t.base
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range t.decimals {
		if v.IsZero() {
			delete(s.decimals, k)
			continue
		}
		s.decimals[k] = v
	}
	for k, v := range t.bools {
		if !v {
			delete(s.bools, k)
			continue
		}
		s.bools[k] = v
	}
	for k, v := range t.uints {
		if v == 0 {
			delete(s.uints, k)
			continue
		}
		s.uints[k] = v
	}
	for k := range t.removed {
		delete(s.records, k)
	}
	for k, r := range t.records {
		s.records[k] = r
	}
	for setKey, ops := range t.setOps {
		set, ok := s.sets[setKey]
		if !ok {
			set = make(map[string]struct{})
			s.sets[setKey] = set
		}
		for m, add := range ops {
			if add {
				set[m] = struct{}{}
			} else {
				delete(set, m)
			}
		}
		if len(set) == 0 {
			delete(s.sets, setKey)
		}
	}
	s.txOpen = false
	return nil
}

// Rollback discards every write. Calling it on a closed transaction is a no-op.
func (t *memTx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.base.mu.Lock()
	t.base.txOpen = false
	t.base.mu.Unlock()
}

// ============================================================================
// Snapshots
// ============================================================================

type snapshotRecord struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Snapshot is the serialisable committed state.
type Snapshot struct {
	Decimals map[string]decimal.Decimal `json:"decimals"`
	Bools    map[string]bool            `json:"bools"`
	Uints    map[string]uint64          `json:"uints"`
	Records  map[string]snapshotRecord  `json:"records"`
	Sets     map[string][]string        `json:"sets"`
}

// Snapshot captures committed state. It fails while a transaction is open.
func (s *MemoryStore) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.txOpen {
		return nil, ErrTxInProgress
	}

	snap := &Snapshot{
		Decimals: make(map[string]decimal.Decimal, len(s.decimals)),
		Bools:    make(map[string]bool, len(s.bools)),
		Uints:    make(map[string]uint64, len(s.uints)),
		Records:  make(map[string]snapshotRecord, len(s.records)),
		Sets:     make(map[string][]string, len(s.sets)),
	}
	for k, v := range s.decimals {
		snap.Decimals[k] = v
	}
	for k, v := range s.bools {
		snap.Bools[k] = v
	}
	for k, v := range s.uints {
		snap.Uints[k] = v
	}
	for k, r := range s.records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal record %s: %w", k, err)
		}
		snap.Records[k] = snapshotRecord{Kind: r.Kind(), Data: data}
	}
	for k, set := range s.sets {
		snap.Sets[k] = sortedMembers(set)
	}
	return snap, nil
}

// Restore replaces committed state with snap.
func (s *MemoryStore) Restore(snap *Snapshot) error {
	records := make(map[string]Record, len(snap.Records))
	for k, sr := range snap.Records {
		r, err := newRecord(sr.Kind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(sr.Data, r); err != nil {
			return fmt.Errorf("unmarshal record %s: %w", k, err)
		}
		records[k] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txOpen {
		return ErrTxInProgress
	}
	s.decimals = make(map[string]decimal.Decimal, len(snap.Decimals))
	for k, v := range snap.Decimals {
		s.decimals[k] = v
	}
	s.bools = make(map[string]bool, len(snap.Bools))
	for k, v := range snap.Bools {
		s.bools[k] = v
	}
	s.uints = make(map[string]uint64, len(snap.Uints))
	for k, v := range snap.Uints {
		s.uints[k] = v
	}
	s.records = records
	s.sets = make(map[string]map[string]struct{}, len(snap.Sets))
	for k, members := range snap.Sets {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		s.sets[k] = set
	}
	return nil
}
