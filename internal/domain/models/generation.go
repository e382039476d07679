package models

import (
	"errors"
	"fmt"
)

// Generation is the outcome of expanding a recipe schedule for one batch.
type Generation struct {
	BatchID int
	Created int
	// NoOp is set when the batch already had its actions.
	NoOp bool
	// Repaired is set when actions existed but the guard flag had not been raised.
	Repaired    bool
	Diagnostics []error
}

// Err joins the diagnostics into one ErrValidation error, or returns nil.
func (g Generation) Err() error {
	if len(g.Diagnostics) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d schedule rows rejected: %w", ErrValidation, len(g.Diagnostics), errors.Join(g.Diagnostics...))
}
