package task

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"frametick/pkg/logx"
)

func newStrict() *Scheduler {
	return New(Config{Strict: true}, logx.Nop())
}

type event struct {
	Frame uint64
	Name  string
}

type recorder struct {
	s      *Scheduler
	events []event
}

func (r *recorder) mark(name string) Action {
	return func() { r.events = append(r.events, event{Frame: r.s.Frame(), Name: name}) }
}

func mustViolate(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatal("expected invariant violation, got none")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvariant) {
			t.Fatalf("panic = %v, want ErrInvariant", r)
		}
	}()
	fn()
}

func TestDelayedFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		duration float64
		dt       float64
	}{
		{0, 0},
		{0, 1},
		{0.5, 0.25},
		{1, 0.25},
		{1, 0.3},
		{2.3, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("d=%v/dt=%v", tt.duration, tt.dt), func(t *testing.T) {
			t.Parallel()
			s := newStrict()
			var firedAt []uint64
			h := s.Delayed(tt.duration, func() { firedAt = append(firedAt, s.Frame()) })
			s.Schedule(h)

			var want uint64
			acc := 0.0
			for frame := uint64(1); ; frame++ {
				acc += tt.dt
				if acc >= tt.duration {
					want = frame
					break
				}
			}
			for i := uint64(0); i < want+3; i++ {
				s.Tick(tt.dt)
				if s.Frame() == want && s.Active(h) {
					t.Fatalf("still active on firing frame %d", want)
				}
			}
			if diff := cmp.Diff([]uint64{want}, firedAt); diff != "" {
				t.Fatalf("fire frames mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestZeroDurationCompletesOnFirstAdvance(t *testing.T) {
	t.Parallel()
	s := newStrict()
	fired := 0
	d := s.Delayed(0, func() { fired++ })
	w := s.Wait(0)
	neg := s.Wait(-5)
	s.Schedule(d)
	s.Schedule(w)
	s.Schedule(neg)

	s.Tick(0)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	for _, h := range []Handle{d, w, neg} {
		if s.Active(h) {
			t.Fatalf("%s still active after first advance", h)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestRoutineInvokedWhileElapsedWithinDuration(t *testing.T) {
	t.Parallel()
	s := newStrict()
	var got []float64
	s.ScheduleRoutine(1, func(elapsed, duration float64) {
		if duration != 1 {
			t.Fatalf("duration = %v, want 1", duration)
		}
		got = append(got, elapsed)
	})
	for range 8 {
		s.Tick(0.25)
	}
	if diff := cmp.Diff([]float64{0.25, 0.5, 0.75, 1}, got); diff != "" {
		t.Fatalf("routine calls mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroDurationRoutineNeverCalls(t *testing.T) {
	t.Parallel()
	s := newStrict()
	calls := 0
	h := s.Routine(0, func(float64, float64) { calls++ })
	s.Schedule(h)
	s.Tick(0)
	s.Tick(1)
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
	if s.Active(h) {
		t.Fatal("zero-duration routine still active")
	}
}

func TestSequenceWaitThenInstant(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	s.ScheduleSequence(s.Wait(1), s.Instant(r.mark("f")))
	for range 4 {
		s.Tick(0.5)
	}
	if diff := cmp.Diff([]event{{Frame: 3, Name: "f"}}, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReleasedSlotsAreReusedBeforeGrowing(t *testing.T) {
	t.Parallel()
	s := newStrict()
	for range 3 {
		s.ScheduleDelayed(0.5, nil)
		s.Tick(0.5)
	}
	st := s.Stats().Pool(KindDelayed)
	if st.Allocs != 1 {
		t.Fatalf("Allocs = %d, want 1", st.Allocs)
	}
	if st.Reuses != 2 || st.Releases != 3 {
		t.Fatalf("Reuses/Releases = %d/%d, want 2/3", st.Reuses, st.Releases)
	}
	if st.Live != 0 || st.Slots != 1 {
		t.Fatalf("Live/Slots = %d/%d, want 0/1", st.Live, st.Slots)
	}
}

func TestWarmSchedulerDoesNotAllocate(t *testing.T) {
	s := newStrict()
	fire := func() {}
	step := func(float64, float64) {}
	cycle := func() {
		s.ScheduleDelayed(0.02, fire)
		s.ScheduleRoutine(0.03, step)
		s.ScheduleSequence(s.Wait(0.01), s.Instant(fire), s.Routine(0.02, step))
		for i := 0; s.Len() > 0 && i < 16; i++ {
			s.Tick(0.01)
		}
	}
	cycle()
	if allocs := testing.AllocsPerRun(100, cycle); allocs != 0 {
		t.Fatalf("allocs per cycle = %v, want 0", allocs)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestPreallocCountsAsAllocations(t *testing.T) {
	t.Parallel()
	s := New(Config{Strict: true, Prealloc: 4}, logx.Nop())
	for range 4 {
		s.ScheduleSequence()
	}
	st := s.Stats().Pool(KindSequence)
	if st.Allocs != 4 || st.Reuses != 4 {
		t.Fatalf("Allocs/Reuses = %d/%d, want 4/4", st.Allocs, st.Reuses)
	}
}

func TestScheduledDuringTickRunsNextFrame(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	s.ScheduleDelayed(0, func() {
		s.Schedule(s.Instant(r.mark("child")))
		if got := s.Stats().Pending; got != 1 {
			t.Fatalf("Pending = %d, want 1", got)
		}
	})
	s.Tick(1)
	if len(r.events) != 0 {
		t.Fatalf("child advanced in the frame it was scheduled: %v", r.events)
	}
	s.Tick(1)
	if diff := cmp.Diff([]event{{Frame: 2, Name: "child"}}, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestFadeSequence(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	fade := func(name string) RoutineFunc {
		return func(elapsed, duration float64) {
			r.events = append(r.events, event{Frame: s.Frame(), Name: fmt.Sprintf("%s %.2f", name, elapsed/duration)})
		}
	}
	s.ScheduleSequence(
		s.Instant(r.mark("show")),
		s.Routine(1, fade("in")),
		s.Wait(2),
		s.Routine(1, fade("out")),
		s.Instant(r.mark("hide")),
	)
	for range 10 {
		s.Tick(1)
	}
	want := []event{
		{Frame: 1, Name: "show"},
		{Frame: 2, Name: "in 1.00"},
		{Frame: 6, Name: "out 1.00"},
		{Frame: 8, Name: "hide"},
	}
	if diff := cmp.Diff(want, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	for _, p := range s.Stats().Pools {
		if p.Live != 0 {
			t.Fatalf("%s pool has %d live slots after completion", p.Kind, p.Live)
		}
	}
}

func TestNestedSequences(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	inner := s.Sequence(s.Instant(r.mark("a")), s.Instant(r.mark("b")))
	s.ScheduleSequence(inner, s.Instant(r.mark("c")))
	for range 5 {
		s.Tick(1)
	}
	want := []event{{1, "a"}, {2, "b"}, {3, "c"}}
	if diff := cmp.Diff(want, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptySequence(t *testing.T) {
	t.Parallel()
	s := newStrict()
	seq := s.Sequence()
	if s.Active(seq) {
		t.Fatal("empty sequence is active")
	}

	fired := 0
	s.Enqueue(seq, s.Instant(func() { fired++ }))
	if !s.Active(seq) {
		t.Fatal("enqueue did not activate a sequence that never ran")
	}
	s.Schedule(seq)
	s.Tick(1)
	s.Tick(1)
	if fired != 1 || s.Active(seq) {
		t.Fatalf("fired = %d, active = %v; want 1, false", fired, s.Active(seq))
	}

	s.ScheduleSequence()
	s.Tick(1)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestEnqueueFromLastStageRepeats(t *testing.T) {
	t.Parallel()
	s := newStrict()
	var frames []uint64
	var seq Handle
	var step Action
	step = func() {
		frames = append(frames, s.Frame())
		if len(frames) < 3 {
			s.Enqueue(seq, s.Instant(step))
		}
	}
	seq = s.Sequence(s.Instant(step))
	s.Schedule(seq)
	for range 6 {
		s.Tick(0.1)
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
	if s.Active(seq) || s.Len() != 0 {
		t.Fatal("chain did not finish")
	}
}

func TestStaleHandlesAreInert(t *testing.T) {
	t.Parallel()
	s := newStrict()
	old := s.Instant(nil)
	s.Schedule(old)
	s.Tick(0)

	fresh := s.Instant(nil)
	if fresh == old {
		t.Fatal("reused slot kept its generation")
	}
	if s.Active(old) {
		t.Fatal("stale handle reports active")
	}
	if s.Cancel(old) {
		t.Fatal("Cancel on stale handle returned true")
	}
	if !s.Active(fresh) {
		t.Fatal("fresh handle not active")
	}
	if s.Active(Handle{}) {
		t.Fatal("zero handle reports active")
	}
}

func TestCancelInsideSequence(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	w := s.Wait(10)
	s.ScheduleSequence(w, s.Instant(r.mark("after")))

	s.Tick(1)
	if !s.Cancel(w) {
		t.Fatal("Cancel returned false for a live task")
	}
	if s.Cancel(w) {
		t.Fatal("second Cancel returned true")
	}
	s.Tick(1) // drops the cancelled head
	s.Tick(1)
	if diff := cmp.Diff([]event{{3, "after"}}, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelUnscheduledTaskReleasesIt(t *testing.T) {
	t.Parallel()
	s := newStrict()
	seq := s.Sequence(s.Wait(1), s.Delayed(1, nil))
	if !s.Cancel(seq) {
		t.Fatal("Cancel returned false")
	}
	st := s.Stats()
	for _, k := range []Kind{KindSequence, KindWait, KindDelayed} {
		if live := st.Pool(k).Live; live != 0 {
			t.Fatalf("%s live = %d, want 0", k, live)
		}
	}
}

func TestReleasingSequenceReleasesQueuedTasks(t *testing.T) {
	t.Parallel()
	s := newStrict()
	seq := s.Sequence(s.Wait(10), s.Wait(10), s.Instant(nil))
	s.Schedule(seq)
	s.Tick(1)
	s.Cancel(seq)
	s.Tick(1)
	st := s.Stats()
	if got := st.Pool(KindWait).Live + st.Pool(KindInstant).Live + st.Pool(KindSequence).Live; got != 0 {
		t.Fatalf("live slots = %d, want 0", got)
	}
}

func TestScopeCancelSuppressesCallbacks(t *testing.T) {
	t.Parallel()
	s := newStrict()
	sc := s.NewScope("title")
	calls := 0
	sc.ScheduleDelayed(1, func() { calls++ })
	sc.ScheduleRoutine(5, func(float64, float64) { calls++ })
	sc.ScheduleSequence(sc.Wait(0.5), sc.Instant(func() { calls++ }))
	other := 0
	s.ScheduleDelayed(1, func() { other++ })

	s.Tick(0.5)
	calls = 0
	sc.Cancel()
	sc.Cancel()
	if sc.Alive() {
		t.Fatal("scope alive after Cancel")
	}
	for range 3 {
		s.Tick(0.5)
	}
	if calls != 0 {
		t.Fatalf("calls after cancel = %d, want 0", calls)
	}
	if other != 1 {
		t.Fatalf("unscoped task fired %d times, want 1", other)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestScopeCancelRetiresUnscheduledTaskOnceHandedOver(t *testing.T) {
	t.Parallel()
	s := newStrict()
	sc := s.NewScope("notice")
	calls := 0
	h := sc.Delayed(1, func() { calls++ })
	sc.Cancel()
	if !s.Active(h) {
		t.Fatal("task retired before it was handed over")
	}
	s.Schedule(h)
	s.Tick(1)
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
	if s.Active(h) || s.Stats().Pool(KindDelayed).Live != 0 {
		t.Fatal("scoped task not released on its first advance")
	}
}

func TestOnReleaseRunsOnEveryRetirement(t *testing.T) {
	t.Parallel()
	s := newStrict()
	var released []string
	hook := func(name string) Action {
		return func() { released = append(released, name) }
	}

	done := s.Delayed(1, nil)
	s.OnRelease(done, hook("done"))
	s.Schedule(done)
	cancelled := s.Wait(10)
	s.OnRelease(cancelled, hook("cancelled"))
	s.Schedule(cancelled)
	child := s.Wait(10)
	s.OnRelease(child, hook("child"))
	parent := s.Sequence(s.Wait(10), child)
	s.OnRelease(parent, hook("parent"))
	s.Schedule(parent)
	unowned := s.Instant(nil)
	s.OnRelease(unowned, hook("unowned"))

	s.Cancel(unowned)
	s.Tick(1)
	s.Cancel(cancelled)
	s.Cancel(parent)
	s.Tick(1)

	if diff := cmp.Diff([]string{"unowned", "done", "cancelled", "child", "parent"}, released); diff != "" {
		t.Fatalf("release order mismatch (-want +got):\n%s", diff)
	}
	if s.OnRelease(done, hook("late")) {
		t.Fatal("OnRelease accepted a stale handle")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestOnReleaseCanScheduleDuringTick(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	h := s.Instant(nil)
	s.OnRelease(h, func() { s.Schedule(s.Instant(r.mark("follow-up"))) })
	s.Schedule(h)
	s.Tick(1)
	s.Tick(1)
	if diff := cmp.Diff([]event{{2, "follow-up"}}, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPanickingCallbackKeepsActiveSet(t *testing.T) {
	t.Parallel()
	s := newStrict()
	r := &recorder{s: s}
	s.Schedule(s.Instant(func() { panic("boom") }))
	s.Schedule(s.Delayed(1, r.mark("survivor")))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic did not propagate")
			}
		}()
		s.Tick(1)
	}()
	if s.Len() != 2 {
		t.Fatalf("Len() after panic = %d, want 2", s.Len())
	}

	s.Tick(1)
	if diff := cmp.Diff([]event{{2, "survivor"}}, r.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestStrictViolations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func(s *Scheduler)
	}{
		{"negative dt", func(s *Scheduler) { s.Tick(-1) }},
		{"nan dt", func(s *Scheduler) { s.Tick(math.NaN()) }},
		{"schedule twice", func(s *Scheduler) {
			h := s.Wait(1)
			s.Schedule(h)
			s.Schedule(h)
		}},
		{"reuse sequenced task", func(s *Scheduler) {
			h := s.Wait(1)
			s.Sequence(h)
			s.Schedule(h)
		}},
		{"schedule retired", func(s *Scheduler) {
			h := s.Instant(nil)
			s.Schedule(h)
			s.Tick(0)
			s.Schedule(h)
		}},
		{"re-entrant tick", func(s *Scheduler) {
			s.ScheduleDelayed(0, func() { s.Tick(0) })
			s.Tick(0)
		}},
		{"enqueue on non-sequence", func(s *Scheduler) { s.Enqueue(s.Wait(1), s.Wait(1)) }},
		{"sequence contains itself", func(s *Scheduler) {
			outer := s.Sequence()
			inner := s.Sequence()
			s.Enqueue(outer, inner)
			s.Enqueue(inner, outer)
		}},
		{"enqueue on finished sequence", func(s *Scheduler) {
			seq := s.Sequence(s.Wait(1))
			s.Cancel(seq)
			s.Enqueue(seq, s.Wait(1))
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mustViolate(t, func() { tt.fn(newStrict()) })
		})
	}
}

func TestLenientViolationsAreCounted(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.NewWriter(io.Discard, "debug"))
	h := s.Delayed(1, nil)
	s.Schedule(h)
	s.Schedule(h)
	s.Tick(-3)
	if !s.Active(h) {
		t.Fatal("negative dt was not clamped to zero")
	}
	st := s.Stats()
	if st.Violations != 2 {
		t.Fatalf("Violations = %d, want 2", st.Violations)
	}
	if st.Active != 1 {
		t.Fatalf("Active = %d, want 1", st.Active)
	}
	s.Tick(1)
	if s.Active(h) {
		t.Fatal("task did not finish after clamped frame")
	}
}

func TestInvariantErrorMessage(t *testing.T) {
	t.Parallel()
	err := error(&InvariantError{Op: "tick", Reason: "re-entrant tick"})
	if got, want := err.Error(), "task: tick: re-entrant tick"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvariant) {
		t.Fatal("errors.Is(err, ErrInvariant) = false")
	}
}
