package task

// Scope ties a group of tasks to the lifetime of their owner. Tasks built
// through a scope retire silently on their next advance once the scope is
// cancelled, so a torn-down owner never receives a callback.
//
// Cancelling a scope does not release tasks that were built but never handed
// to Schedule, Sequence or Enqueue. Hand them over anyway (they retire on
// their first advance) or pass them to Scheduler.Cancel.
type Scope struct {
	Factory
	name      string
	cancelled bool
}

// NewScope returns a live scope whose builders allocate from s.
func (s *Scheduler) NewScope(name string) *Scope {
	sc := &Scope{name: name}
	sc.Factory = Factory{s: s, scope: sc}
	return sc
}

// Name is the label given to NewScope.
func (sc *Scope) Name() string { return sc.name }

// Cancel marks the scope dead. It is idempotent.
func (sc *Scope) Cancel() { sc.cancelled = true }

// Alive reports whether Cancel has not been called yet.
func (sc *Scope) Alive() bool { return !sc.cancelled }
