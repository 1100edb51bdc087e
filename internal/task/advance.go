package task

// advance moves h forward by dt. Every kind sets its own state before calling
// out, so a callback that schedules, cancels or panics sees a consistent slot.
// The slot pointer is dead once a callback has run.
func (s *Scheduler) advance(h Handle, dt float64) {
	sl, ok := s.arenas[h.kind].lookup(h)
	if !ok {
		s.violate("advance", h, "stale handle")
		return
	}
	if !sl.active {
		s.violate("advance", h, "task already finished")
		return
	}
	if sl.scope != nil && sl.scope.cancelled {
		sl.finish()
		return
	}

	switch h.kind {
	case KindDelayed, KindWait:
		sl.elapsed += dt
		if sl.elapsed >= sl.duration {
			sl.finish()
			if fn := sl.action; fn != nil {
				fn()
			}
		}
	case KindRoutine:
		if sl.duration <= 0 {
			sl.finish()
			return
		}
		sl.elapsed += dt
		if sl.elapsed > sl.duration {
			sl.finish()
			return
		}
		if fn := sl.routine; fn != nil {
			fn(sl.elapsed, sl.duration)
		}
	case KindInstant:
		sl.finish()
		if fn := sl.action; fn != nil {
			fn()
		}
	case KindSequence:
		s.advanceSequence(h, dt)
	default:
		s.violate("advance", h, "unknown task kind")
	}
}

// advanceSequence advances the head stage. A head that is finished, either
// before or after this frame's advance, is dropped from the queue and then
// released, so its release hook sees the sequence already moved on.
func (s *Scheduler) advanceSequence(h Handle, dt float64) {
	a := s.arenas[KindSequence]
	sl := a.at(h.idx)
	if sl.head >= len(sl.queue) {
		sl.finish()
		return
	}
	cur := sl.queue[sl.head]
	if s.Active(cur) {
		s.advance(cur, dt)
		if s.Active(cur) {
			return
		}
	}

	sl = a.at(h.idx)
	sl.queue[sl.head] = Handle{}
	sl.head++
	if sl.head >= len(sl.queue) {
		sl.queue = sl.queue[:0]
		sl.head = 0
		if sl.active {
			sl.finish()
		}
	}
	s.release(cur)
}
