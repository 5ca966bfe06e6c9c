package selection

import (
	"errors"
	"fmt"
)

// The solver surfaces three failure kinds, plus ErrInconsistent for an
// internal consistency failure. They are sentinel values (or wrap one) so
// callers can dispatch with errors.Is instead of string matching.
var (
	// ErrInfeasible: the encoded program has no integer solution that
	// funds target + fee + min_change.
	ErrInfeasible = errors.New("selection infeasible")

	// ErrTimeout: the wall-clock limit expired before any integer
	// feasible solution was found. Distinct from ErrInfeasible — the
	// search was cut short, not exhausted.
	ErrTimeout = errors.New("time limit reached without a feasible selection")

	// ErrInvalidInput: a precondition on the candidate set or the
	// parameters was violated. Wrapped with the offending detail.
	ErrInvalidInput = errors.New("invalid selection input")

	// ErrInconsistent: the reconstructed result failed post-solve
	// validation. Indicates a solver bug, never a bad input.
	ErrInconsistent = errors.New("internal consistency failure")
)

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func inconsistentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
}
