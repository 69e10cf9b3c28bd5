package order

import (
	"PoolLedger/internal/errs"
)

// ErrCallbackOutOfGas aborts the whole execution. The order is left exactly
// as it was so that a retry sees the original price window.
var ErrCallbackOutOfGas = errs.New(errs.ErrValidation, "callback ran out of gas")

// Callbacks notifies an order's callback contract. Implementations receive
// the order's callback gas limit; any error other than ErrCallbackOutOfGas is
// logged and ignored.
type Callbacks interface {
	AfterOrderExecution(o *Order, res *ExecutionResult, gasLimit uint64) error
	AfterOrderCancellation(o *Order, reason string, gasLimit uint64) error
	AfterOrderFrozen(o *Order, reason string, gasLimit uint64) error
}

// NoCallbacks ignores every notification.
type NoCallbacks struct{}

func (NoCallbacks) AfterOrderExecution(*Order, *ExecutionResult, uint64) error { return nil }
func (NoCallbacks) AfterOrderCancellation(*Order, string, uint64) error        { return nil }
func (NoCallbacks) AfterOrderFrozen(*Order, string, uint64) error              { return nil }
