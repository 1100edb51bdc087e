package task

import (
	"math"

	"golang.org/x/time/rate"

	"frametick/pkg/logx"
)

type Config struct {
	// Strict turns every invariant violation into a panic carrying an
	// *InvariantError. Tests and debug builds run strict.
	Strict bool `json:"strict"`
	// Prealloc reserves that many slots per kind up front.
	Prealloc int `json:"prealloc"`
	// ViolationLogRate caps violation log lines per second (default 1).
	ViolationLogRate float64 `json:"violation_log_rate"`
}

// Scheduler drives every task once per frame. It is owned by a single
// goroutine: the one calling Tick. Other goroutines must hand work over to
// that goroutine (see host.Loop.Post).
type Scheduler struct {
	Factory

	cfg    Config
	log    logx.Logger
	arenas [kindCount]*arena

	active  []Handle
	pending []Handle
	ticking bool

	frame      uint64
	violations uint64
	logLimit   *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Prealloc < 0 {
		cfg.Prealloc = 0
	}
	if cfg.ViolationLogRate <= 0 {
		cfg.ViolationLogRate = 1
	}
	burst := int(cfg.ViolationLogRate)
	if burst < 1 {
		burst = 1
	}
	s := &Scheduler{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "task")),
		logLimit: rate.NewLimiter(rate.Limit(cfg.ViolationLogRate), burst),
	}
	s.Factory = Factory{s: s}
	for _, k := range Kinds {
		s.arenas[k] = newArena(k, cfg.Prealloc)
	}
	if cfg.Prealloc > 0 {
		s.active = make([]Handle, 0, cfg.Prealloc)
		s.pending = make([]Handle, 0, cfg.Prealloc)
	}
	return s
}

// Tick advances every active task exactly once, in the order they were
// scheduled, then releases the ones that finished. Tasks scheduled from a
// callback first advance on the next Tick.
//
// A panic escaping a callback propagates to the caller; the active set stays
// consistent and the tasks not yet visited run on the next Tick.
func (s *Scheduler) Tick(dt float64) {
	if s.ticking {
		s.violate("tick", Handle{}, "re-entrant tick")
		return
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		s.violate("tick", Handle{}, "dt must be finite and non-negative")
		dt = 0
	}

	s.ticking = true
	s.frame++
	kept, next := 0, 0
	defer func() {
		if next < len(s.active) {
			kept += copy(s.active[kept:], s.active[next:])
		}
		clear(s.active[kept:])
		s.active = s.active[:kept]
		s.ticking = false

		s.active = append(s.active, s.pending...)
		clear(s.pending)
		s.pending = s.pending[:0]
	}()

	for next < len(s.active) {
		h := s.active[next]
		if s.Active(h) {
			s.advance(h, dt)
		}
		next++
		if s.Active(h) {
			s.active[kept] = h
			kept++
			continue
		}
		s.release(h)
	}
}

// Active reports whether h names a live task that has not finished.
func (s *Scheduler) Active(h Handle) bool {
	if !h.kind.valid() {
		return false
	}
	sl, ok := s.arenas[h.kind].lookup(h)
	return ok && sl.active
}

// Cancel finishes a live task without firing its callback. A task nobody owns
// yet is released right away; otherwise its owner drops it on the next frame.
// Cancelling a stale or finished handle returns false.
func (s *Scheduler) Cancel(h Handle) bool {
	if !h.kind.valid() {
		return false
	}
	sl, ok := s.arenas[h.kind].lookup(h)
	if !ok || !sl.active {
		return false
	}
	sl.finish()
	if sl.state == slotAcquired {
		s.release(h)
	}
	return true
}

// OnRelease registers fn to run once when h's slot goes back to its pool,
// whether the task finished, was cancelled, or was dropped with a parent
// sequence. A later call replaces the earlier fn. It returns false if h is
// stale.
func (s *Scheduler) OnRelease(h Handle, fn Action) bool {
	if !h.kind.valid() {
		return false
	}
	sl, ok := s.arenas[h.kind].lookup(h)
	if !ok {
		return false
	}
	sl.onRelease = fn
	return true
}

// Enqueue appends tasks to a sequence. It is legal from inside a callback of
// the sequence's own last stage; the new stage runs on the next frame.
func (s *Scheduler) Enqueue(seq Handle, tasks ...Handle) {
	if seq.kind != KindSequence {
		s.violate("enqueue", seq, "not a sequence")
		return
	}
	a := s.arenas[KindSequence]
	sl, ok := a.lookup(seq)
	if !ok {
		s.violate("enqueue", seq, "stale sequence")
		return
	}
	if sl.retired {
		s.violate("enqueue", seq, "sequence already finished")
		return
	}
	for _, t := range tasks {
		if t == seq || s.reaches(t, seq) {
			s.violate("enqueue", t, "sequence would contain itself")
			continue
		}
		if !s.take("enqueue", t) {
			continue
		}
		sl = a.at(seq.idx)
		sl.queue = append(sl.queue, t)
		sl.active = true
	}
}

// Len is the number of tasks in the active set plus those waiting to join it.
func (s *Scheduler) Len() int { return len(s.active) + len(s.pending) }

// Frame is the number of Tick calls so far.
func (s *Scheduler) Frame() uint64 { return s.frame }

// take marks a freshly built task as owned. Every task has exactly one owner.
func (s *Scheduler) take(op string, h Handle) bool {
	if !h.kind.valid() {
		s.violate(op, h, "unknown task kind")
		return false
	}
	sl, ok := s.arenas[h.kind].lookup(h)
	if !ok {
		s.violate(op, h, "stale handle")
		return false
	}
	if sl.state == slotOwned {
		s.violate(op, h, "task already owned")
		return false
	}
	sl.state = slotOwned
	return true
}

// reaches reports whether target is somewhere inside from.
func (s *Scheduler) reaches(from, target Handle) bool {
	if from.kind != KindSequence {
		return false
	}
	sl, ok := s.arenas[KindSequence].lookup(from)
	if !ok {
		return false
	}
	for _, c := range sl.queue[sl.head:] {
		if c == target || s.reaches(c, target) {
			return true
		}
	}
	return false
}

func (s *Scheduler) release(h Handle) {
	if !h.kind.valid() {
		s.violate("release", h, "unknown task kind")
		return
	}
	a := s.arenas[h.kind]
	sl, ok := a.lookup(h)
	if !ok {
		s.violate("release", h, "already released")
		return
	}
	fn := sl.onRelease
	if h.kind == KindSequence {
		for _, c := range sl.queue[sl.head:] {
			if !c.IsZero() {
				s.release(c)
			}
		}
	}
	a.release(h.idx)
	if fn != nil {
		fn()
	}
}

func (s *Scheduler) violate(op string, h Handle, reason string) {
	err := &InvariantError{Op: op, Handle: h, Reason: reason}
	s.violations++
	if s.cfg.Strict {
		panic(err)
	}
	if s.logLimit.Allow() {
		s.log.Error("scheduler invariant violated",
			logx.Err(err),
			logx.Uint64("frame", s.frame),
			logx.Uint64("violations", s.violations),
		)
	}
}
