package task

import "frametick/internal/pool"

type slotState uint8

const (
	slotFree     slotState = iota // parked in the free list
	slotAcquired                  // handed out, not yet owned by the scheduler or a sequence
	slotOwned                     // in the active set, the pending buffer, or a sequence queue
)

// slot is the storage shared by every kind; each kind reads the fields it needs.
type slot struct {
	gen     uint32
	state   slotState
	active  bool
	retired bool // deactivated by advance or Cancel, as opposed to built empty
	scope   *Scope

	duration  float64
	elapsed   float64
	action    Action
	routine   RoutineFunc
	onRelease Action

	// Sequence only. Live stages are queue[head:].
	queue []Handle
	head  int
}

// arena is the per-kind pool: a slot array plus a free list of slot indices.
//
// Pointers returned by at are only valid until the arena grows, which happens
// whenever a callback acquires a task. Never hold one across a callback.
type arena struct {
	kind  Kind
	slots []slot
	free  *pool.Pool[uint32]
}

func newArena(kind Kind, prealloc int) *arena {
	a := &arena{kind: kind}
	a.free = pool.New(func() uint32 {
		a.slots = append(a.slots, slot{})
		return uint32(len(a.slots) - 1)
	})
	if prealloc > 0 {
		a.slots = make([]slot, 0, prealloc)
		a.free.Reserve(prealloc)
	}
	return a
}

func (a *arena) acquire(scope *Scope) (Handle, *slot) {
	idx := a.free.Get()
	s := &a.slots[idx]
	s.state = slotAcquired
	s.active = true
	s.scope = scope
	return Handle{kind: a.kind, gen: s.gen, idx: idx}, s
}

// lookup returns the slot for h if h still names a live task.
func (a *arena) lookup(h Handle) (*slot, bool) {
	if int(h.idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.idx]
	if s.gen != h.gen || s.state == slotFree {
		return nil, false
	}
	return s, true
}

func (a *arena) at(idx uint32) *slot { return &a.slots[idx] }

func (s *slot) finish() {
	s.active = false
	s.retired = true
}

// release retires the slot and parks its index. Callers have already
// released any child tasks.
func (a *arena) release(idx uint32) {
	s := &a.slots[idx]
	q := s.queue
	clear(q)
	*s = slot{gen: s.gen + 1, queue: q[:0]}
	a.free.Put(idx)
}

func (a *arena) live() int { return len(a.slots) - a.free.Len() }
