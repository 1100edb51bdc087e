// Package storage persists periodic frame snapshots so a run can be
// inspected after the fact. It never stores scheduled work: tasks are
// in-memory only and do not survive a restart.
//
// Drivers:
//   - "file": JSON Lines appended to <path>.snapshots.jsonl
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
