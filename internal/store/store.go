// Package store is the key/value state every engine component reads and writes.
// Mutations happen only inside a Tx that is committed or discarded as a whole.
package store

import (
	"fmt"
	"sync"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"

	"github.com/shopspring/decimal"
)

var (
	ErrTxClosed      = errs.New(errs.ErrInvariant, "transaction already closed")
	ErrTxInProgress  = errs.New(errs.ErrInvariant, "another transaction is in progress")
	ErrNegativeValue = errs.New(errs.ErrInvariant, "value would become negative")
)

// Record is a structured value (a position, an order, a market) stored whole
// under one key. Stores hand out clones so callers never alias stored state.
type Record interface {
	Kind() string
	Clone() Record
}

// Reader exposes point reads. Missing scalars read as their zero value.
type Reader interface {
	Decimal(key string) decimal.Decimal
	Bool(key string) bool
	Uint64(key string) uint64
	Record(key string) (Record, bool)
	// Members returns the members of a set in ascending order.
	Members(setKey string) []string
	Contains(setKey, member string) bool
}

// Tx is a write transaction. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Capability() auth.Capability

	SetDecimal(key string, v decimal.Decimal) error
	// AddDecimal applies delta and rejects a negative result.
	AddDecimal(key string, delta decimal.Decimal) (decimal.Decimal, error)
	// AddSignedDecimal applies delta to a value that may go negative.
	AddSignedDecimal(key string, delta decimal.Decimal) (decimal.Decimal, error)
	SetBool(key string, v bool) error
	SetUint64(key string, v uint64) error
	SetRecord(key string, r Record) error
	RemoveRecord(key string) error
	AddMember(setKey, member string) error
	RemoveMember(setKey, member string) error

	Commit() error
	Rollback()
}

// KeyValueStore is the committed state plus the ability to open a transaction.
// Only callers holding RoleController may open one.
type KeyValueStore interface {
	Reader
	Begin(c auth.Capability) (Tx, error)
}

var (
	kindsMu sync.RWMutex
	kinds   = map[string]func() Record{}
)

// RegisterKind makes a record kind restorable from a snapshot.
func RegisterKind(kind string, factory func() Record) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = factory
}

func newRecord(kind string) (Record, error) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return f(), nil
}
