package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the ledger, the action scheduler and the completion tracker.
// Callers classify failures with errors.Is.
var (
	// ErrTransientIO marks a failed call to the backing store or the messaging transport.
	ErrTransientIO = errors.New("transient i/o failure")
	// ErrValidation marks input rejected at the boundary (quantities, dates, day offsets).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing batch or action.
	ErrNotFound = errors.New("not found")
	// ErrOverSale marks a decrement that would drive Remaining below zero.
	ErrOverSale = errors.New("quantity exceeds remaining stock")
	// ErrAlreadyDone is informational: the action was completed earlier and is left untouched.
	ErrAlreadyDone = errors.New("action already done")
)

// TransientIO wraps a store or transport failure so it matches ErrTransientIO and the cause.
func TransientIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}

// Invalid builds an ErrValidation error with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RowError reports a malformed row read from a table.
type RowError struct {
	Table string
	Row   int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %v", e.Table, e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// IsCorrectable reports whether err is something the operator can fix by
// resubmitting different input.
func IsCorrectable(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrOverSale)
}
