package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"frametick/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const pruneEvery = 100

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	ctx := context.Background()
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retain: cfg.Retain}, nil
}

func (s *sqliteStore) AppendSnapshot(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	payload := string(r.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(run_id, at, frame, active, violations, payload) VALUES(?,?,?,?,?,?)`,
		r.RunID, r.At.UTC().Format(time.RFC3339Nano), int64(r.Frame), r.Active, int64(r.Violations), payload,
	)
	if err != nil {
		return err
	}
	if s.retain > 0 && s.appends.Add(1)%pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Debug("snapshot prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id <= (SELECT MAX(id) FROM snapshots) - ?`, s.retain)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, runID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := `SELECT run_id, at, frame, active, violations, payload FROM snapshots`
	args := []any{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			at         string
			frame      int64
			violations int64
			payload    string
		)
		if err := rows.Scan(&r.RunID, &at, &frame, &r.Active, &violations, &payload); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Frame = uint64(frame)
		r.Violations = uint64(violations)
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
