package task

import "fmt"

// Kind is the closed set of task variants.
type Kind uint8

const (
	kindInvalid Kind = iota
	KindDelayed
	KindRoutine
	KindWait
	KindInstant
	KindSequence

	kindCount
)

// Kinds lists every task kind in arena order.
var Kinds = [...]Kind{KindDelayed, KindRoutine, KindWait, KindInstant, KindSequence}

func (k Kind) String() string {
	switch k {
	case KindDelayed:
		return "delayed"
	case KindRoutine:
		return "routine"
	case KindWait:
		return "wait"
	case KindInstant:
		return "instant"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool { return k > kindInvalid && k < kindCount }

// Action is fired by Delayed and Instant tasks.
type Action func()

// RoutineFunc is called by a Routine on every frame while elapsed <= duration.
// Both values are in the same unit as the dt passed to Tick.
type RoutineFunc func(elapsed, duration float64)

// Handle refers to a task slot. The generation guards against reuse: once the
// task is retired, the handle stops matching and every operation on it is a
// no-op (or a reported violation where the caller clearly expected a live task).
type Handle struct {
	kind Kind
	gen  uint32
	idx  uint32
}

// Kind reports which arena h belongs to.
func (h Handle) Kind() Kind { return h.kind }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.kind == kindInvalid }

func (h Handle) String() string {
	if h.IsZero() {
		return "task(none)"
	}
	return fmt.Sprintf("%s#%d.%d", h.kind, h.idx, h.gen)
}
