// Package task is the frame-driven task scheduler.
//
// Work is expressed as tasks of a fixed set of kinds:
//   - Delayed: fires an Action once its duration has elapsed
//   - Routine: calls a RoutineFunc every frame until its duration has elapsed
//   - Wait: occupies time and does nothing (a gate between sequence stages)
//   - Instant: fires an Action on its first advance
//   - Sequence: runs an ordered queue of tasks, one at a time
//
// A Scheduler owns one arena per kind. Acquiring a task pops a retired slot
// before growing the arena, so a scene that keeps scheduling the same shapes
// of work stops allocating once it is warm. Tasks are addressed by Handle
// (kind, slot index, generation); a handle outlives its task harmlessly.
//
// The host calls Scheduler.Tick once per frame from a single goroutine.
// Nothing in this package is safe for concurrent use; other goroutines hand
// work to the frame thread (see internal/host).
package task
