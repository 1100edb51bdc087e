package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage: closed")

// Config selects a driver. An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain keeps at most this many records (sqlite only); 0 keeps all.
	Retain int
}

// Record is one persisted snapshot. Payload is the full snapshot JSON; the
// other fields are copied out of it for querying.
type Record struct {
	RunID      string          `json:"run_id"`
	At         time.Time       `json:"at"`
	Frame      uint64          `json:"frame"`
	Active     int             `json:"active"`
	Violations uint64          `json:"violations"`
	Payload    json.RawMessage `json:"payload"`
}

type Store interface {
	AppendSnapshot(ctx context.Context, r Record) error
	// Recent returns up to limit records, newest first. An empty runID
	// matches every run.
	Recent(ctx context.Context, runID string, limit int) ([]Record, error)
	Close() error
}
