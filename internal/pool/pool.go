// Package pool provides a LIFO free list for reusing objects that are
// expensive to build or that must not churn the allocator once a frame
// loop reaches steady state.
//
// A Pool is owned by a single goroutine (the frame thread) and does no
// locking. Use sync.Pool when objects cross goroutines.
package pool

// Stats is a best-effort view of pool traffic.
type Stats struct {
	Allocs   uint64 `json:"allocs"`   // objects built by New
	Reuses   uint64 `json:"reuses"`   // Get calls served from the free list
	Releases uint64 `json:"releases"` // Put calls
	Free     int    `json:"free"`     // objects currently parked
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// OnGet runs fn on every object handed out, fresh or reused.
func OnGet[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) { p.onGet = fn }
}

// OnPut runs fn on every object before it is parked.
func OnPut[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) { p.onPut = fn }
}

type Pool[T any] struct {
	free  []T
	newFn func() T
	onGet func(T)
	onPut func(T)

	allocs   uint64
	reuses   uint64
	releases uint64
}

// New returns a pool that builds objects with newFn when the free list is empty.
func New[T any](newFn func() T, opts ...Option[T]) *Pool[T] {
	if newFn == nil {
		panic("pool: nil constructor")
	}
	p := &Pool[T]{newFn: newFn}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get pops the most recently released object, or builds a new one.
func (p *Pool[T]) Get() T {
	var v T
	if n := len(p.free); n > 0 {
		v = p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.reuses++
	} else {
		v = p.newFn()
		p.allocs++
	}
	if p.onGet != nil {
		p.onGet(v)
	}
	return v
}

// Put parks v for reuse. Releasing the same object twice is the caller's bug;
// the pool cannot detect it.
func (p *Pool[T]) Put(v T) {
	if p.onPut != nil {
		p.onPut(v)
	}
	p.free = append(p.free, v)
	p.releases++
}

// Reserve builds objects until at least n are parked.
// Reserved objects count as allocations but not as releases.
func (p *Pool[T]) Reserve(n int) {
	if n <= len(p.free) {
		return
	}
	if cap(p.free) < n {
		grown := make([]T, len(p.free), n)
		copy(grown, p.free)
		p.free = grown
	}
	for len(p.free) < n {
		p.free = append(p.free, p.newFn())
		p.allocs++
	}
}

// Len reports how many objects are parked.
func (p *Pool[T]) Len() int { return len(p.free) }

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Allocs:   p.allocs,
		Reuses:   p.reuses,
		Releases: p.releases,
		Free:     len(p.free),
	}
}
