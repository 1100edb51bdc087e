package task

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a broken scheduler contract. It is a programming error in
// the caller, never a condition to retry.
var ErrInvariant = errors.New("task: invariant violated")

// InvariantError describes a single contract violation.
type InvariantError struct {
	Op     string
	Handle Handle
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Handle.IsZero() {
		return fmt.Sprintf("task: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("task: %s %s: %s", e.Op, e.Handle, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }
