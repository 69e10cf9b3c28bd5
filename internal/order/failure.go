package order

import (
	"errors"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/oracle"
	"PoolLedger/internal/store"
)

// Action is what happens to an order after a failed execution.
type Action int

const (
	// ActionKeep leaves the order pending for a later attempt.
	ActionKeep Action = iota
	ActionCancel
	ActionFreeze
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionFreeze:
		return "freeze"
	default:
		return "keep"
	}
}

// Classify decides an order's fate from the error its execution returned.
// Errors that say nothing about the order itself keep it, including a
// malformed keeper price report. Errors that will
// not go away on retry cancel it. Anything else cancels a market order and
// freezes a trigger order.
func Classify(o *Order, execErr error) Action {
	switch {
	case execErr == nil,
		errors.Is(execErr, ErrCallbackOutOfGas),
		errors.Is(execErr, ErrTriggerNotReached),
		errors.Is(execErr, ErrOrderNotFound),
		errors.Is(execErr, auth.ErrUnauthorized),
		errors.Is(execErr, errs.ErrInvariant),
		errors.Is(execErr, oracle.ErrFuturePrice),
		errors.Is(execErr, oracle.ErrMissingPrice),
		errors.Is(execErr, oracle.ErrInvalidPrice):
		return ActionKeep
	}
	switch errs.ClassOf(execErr) {
	case errs.ErrInsufficientLiquidity, errs.ErrInsufficientOutput, errs.ErrSolvency, errs.ErrHealthCheck:
		return ActionCancel
	}
	if o.Type.IsMarket() {
		return ActionCancel
	}
	return ActionFreeze
}

// HandleFailure applies Classify to a stored order in a fresh transaction,
// after the failed execution has been rolled back. Requires a keeper role.
func (h *Handler) HandleFailure(tx store.Tx, batch *ledger.Batch, key string, execErr error) (Action, error) {
	if err := tx.Capability().RequireAny(auth.RoleOrderKeeper, auth.RoleFrozenOrderKeeper); err != nil {
		return ActionKeep, err
	}
	o, ok := Get(tx, key)
	if !ok {
		return ActionKeep, nil
	}
	action := Classify(o, execErr)
	reason := ""
	if execErr != nil {
		reason = execErr.Error()
	}
	switch action {
	case ActionCancel:
		if err := h.cancel(tx, batch, o, reason); err != nil {
			return ActionKeep, err
		}
	case ActionFreeze:
		if o.IsFrozen {
			return ActionKeep, nil
		}
		if err := h.freeze(tx, o, reason); err != nil {
			return ActionKeep, err
		}
	}
	return action, nil
}
