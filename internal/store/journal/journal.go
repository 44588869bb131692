// Package journal is an append-only audit log of signal and position transitions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	EntitySignal   = "signal"
	EntityPosition = "position"
)

// Entry is one recorded transition.
type Entry struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Recorder is the write side state machines depend on.
type Recorder interface {
	Append(ctx context.Context, e Entry) error
}

// Nop drops entries.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }

type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			from_state TEXT,
			to_state TEXT NOT NULL,
			actor TEXT,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_entity ON transitions(entity, entity_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return fmt.Errorf("journal closed")
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transitions (ts, entity, entity_id, from_state, to_state, actor, reason) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.Entity, e.EntityID, e.From, e.To, e.Actor, e.Reason)
	return err
}

// List returns an entity's transitions oldest first.
func (j *Journal) List(ctx context.Context, entity, id string) ([]Entry, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal closed")
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, ts, entity, entity_id, COALESCE(from_state, ''), to_state, COALESCE(actor, ''), COALESCE(reason, '')
		 FROM transitions WHERE entity = ? AND entity_id = ? ORDER BY id ASC`, entity, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Entity, &e.EntityID, &e.From, &e.To, &e.Actor, &e.Reason); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
