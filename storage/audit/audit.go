// Package audit persists every emitted engine event into a sqlite table for
// offline inspection and reconciliation.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/sqlite"

	"fusiond/core/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    type        TEXT NOT NULL,
    attributes  TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Store is a sqlite-backed audit log. It implements events.Emitter so it can
// be fanned out alongside the live subscribers; insert failures are counted
// rather than propagated since emission must never block a state transition.
type Store struct {
	db      *sql.DB
	nowFn   func() int64
	dropped atomic.Uint64
}

// Open opens (or creates) the audit database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &Store{db: db, nowFn: func() int64 { return time.Now().Unix() }}, nil
}

// SetNowFunc overrides the timestamp source. Intended for tests.
func (s *Store) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	s.nowFn = now
}

// Emit implements the events.Emitter interface.
func (s *Store) Emit(evt *events.Event) {
	if s == nil || evt == nil {
		return
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		s.dropped.Add(1)
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO events (type, attributes, recorded_at) VALUES (?, ?, ?)`,
		evt.Type, string(attrs), s.nowFn(),
	); err != nil {
		s.dropped.Add(1)
	}
}

// Dropped reports how many events could not be persisted.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Record is one persisted audit entry.
type Record struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

// Recent returns up to limit most recent entries, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, type, attributes, recorded_at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var attrs string
		if err := rows.Scan(&rec.ID, &rec.Type, &attrs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("audit: decode attributes: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByType aggregates persisted entries per event type.
func (s *Store) CountByType() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("audit: count events: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("audit: scan count: %w", err)
		}
		out[eventType] = count
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }
