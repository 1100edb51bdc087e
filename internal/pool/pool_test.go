package pool

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type widget struct {
	id     int
	active bool
}

func TestGetReusesReleasedBeforeBuilding(t *testing.T) {
	t.Parallel()
	built := 0
	p := New(func() *widget {
		built++
		return &widget{id: built}
	})

	a := p.Get()
	b := p.Get()
	p.Put(a)
	p.Put(b)

	// LIFO: the last released comes back first.
	if got := p.Get(); got != b {
		t.Fatalf("Get() = widget %d, want widget %d", got.id, b.id)
	}
	if got := p.Get(); got != a {
		t.Fatalf("Get() = widget %d, want widget %d", got.id, a.id)
	}
	if built != 2 {
		t.Fatalf("built = %d, want 2", built)
	}

	want := Stats{Allocs: 2, Reuses: 2, Releases: 2, Free: 0}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Fatalf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestHooksToggleActivity(t *testing.T) {
	t.Parallel()
	p := New(
		func() *widget { return &widget{} },
		OnGet(func(w *widget) { w.active = true }),
		OnPut(func(w *widget) { w.active = false }),
	)

	w := p.Get()
	if !w.active {
		t.Fatal("expected object to be active after Get")
	}
	p.Put(w)
	if w.active {
		t.Fatal("expected object to be inactive after Put")
	}
	if again := p.Get(); again != w || !again.active {
		t.Fatal("expected the same object back, active again")
	}
}

func TestReserve(t *testing.T) {
	t.Parallel()
	p := New(func() int { return 7 })
	p.Reserve(4)
	if p.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", p.Len())
	}
	p.Reserve(2)
	if p.Len() != 4 {
		t.Fatalf("Reserve must not shrink: Len() = %d", p.Len())
	}
	for i := 0; i < 4; i++ {
		_ = p.Get()
	}
	st := p.Stats()
	if st.Allocs != 4 || st.Reuses != 4 || st.Free != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	_ = p.Get()
	if p.Stats().Allocs != 5 {
		t.Fatalf("expected a fresh build once the free list is empty")
	}
}
