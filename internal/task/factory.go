package task

import "math"

// Factory acquires tasks from the scheduler's pools. The Scheduler itself is a
// Factory; a Scope is a Factory whose tasks are bound to the scope's lifetime.
//
// Builders (Delayed, Routine, Wait, Instant, Sequence) return a handle the
// caller must pass on exactly once: to Schedule, to Sequence, or to Enqueue.
type Factory struct {
	s     *Scheduler
	scope *Scope
}

// Delayed builds a task that fires fn once duration has elapsed.
func (f Factory) Delayed(duration float64, fn Action) Handle {
	h, sl := f.s.arenas[KindDelayed].acquire(f.scope)
	sl.duration = clampDuration(duration)
	sl.action = fn
	return h
}

// Routine builds a task that calls fn every frame while elapsed <= duration.
func (f Factory) Routine(duration float64, fn RoutineFunc) Handle {
	h, sl := f.s.arenas[KindRoutine].acquire(f.scope)
	sl.duration = clampDuration(duration)
	sl.routine = fn
	return h
}

// Wait builds a task that completes once duration has elapsed and does nothing else.
func (f Factory) Wait(duration float64) Handle {
	h, sl := f.s.arenas[KindWait].acquire(f.scope)
	sl.duration = clampDuration(duration)
	return h
}

// Instant builds a task that fires fn on its first advance.
func (f Factory) Instant(fn Action) Handle {
	h, sl := f.s.arenas[KindInstant].acquire(f.scope)
	sl.action = fn
	return h
}

// Sequence builds a task that runs tasks in order and takes ownership of them.
// A sequence with no tasks is finished from the start.
func (f Factory) Sequence(tasks ...Handle) Handle {
	s := f.s
	h, _ := s.arenas[KindSequence].acquire(f.scope)
	for _, t := range tasks {
		if !s.take("sequence", t) {
			continue
		}
		sl := s.arenas[KindSequence].at(h.idx)
		sl.queue = append(sl.queue, t)
	}
	if sl := s.arenas[KindSequence].at(h.idx); len(sl.queue) == 0 {
		sl.active = false
	}
	return h
}

// Schedule adds a built task to the active set. During Tick the task is
// buffered and first advances on the next frame.
func (f Factory) Schedule(h Handle) {
	s := f.s
	if !s.take("schedule", h) {
		return
	}
	if s.ticking {
		s.pending = append(s.pending, h)
		return
	}
	s.active = append(s.active, h)
}

// ScheduleDelayed fires fn once duration has elapsed.
func (f Factory) ScheduleDelayed(duration float64, fn Action) {
	f.Schedule(f.Delayed(duration, fn))
}

// ScheduleRoutine calls fn every frame for duration.
func (f Factory) ScheduleRoutine(duration float64, fn RoutineFunc) {
	f.Schedule(f.Routine(duration, fn))
}

// ScheduleSequence runs tasks one after another.
func (f Factory) ScheduleSequence(tasks ...Handle) {
	f.Schedule(f.Sequence(tasks...))
}

func clampDuration(d float64) float64 {
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}
