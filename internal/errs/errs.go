// Package errs holds the failure classes every engine entry point reports.
// Concrete errors wrap exactly one class so callers can branch with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Failure classes.
var (
	ErrValidation            = errors.New("validation")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientOutput    = errors.New("insufficient output")
	ErrStalePrice            = errors.New("stale price")
	ErrSolvency              = errors.New("solvency")
	ErrHealthCheck           = errors.New("health check failure")
	ErrUnacceptablePrice     = errors.New("unacceptable price")
	ErrInvariant             = errors.New("invariant violation")
)

// Error is a named failure belonging to a class.
type Error struct {
	Class  error
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Unwrap() error { return e.Class }

// New declares a failure of the given class.
func New(class error, reason string) *Error {
	return &Error{Class: class, Reason: reason}
}

// Wrap attaches call-specific context to a declared failure.
func Wrap(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}

// ClassOf returns the class err belongs to, or nil when err carries none.
func ClassOf(err error) error {
	for _, class := range []error{
		ErrInvariant,
		ErrStalePrice,
		ErrSolvency,
		ErrInsufficientLiquidity,
		ErrInsufficientOutput,
		ErrHealthCheck,
		ErrUnacceptablePrice,
		ErrValidation,
	} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
