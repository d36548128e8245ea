// Package audit persists coordinator events to a local SQLite database so
// operators can reconstruct activation history after the fact. The log is
// append-only; rows are never updated.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"crewd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	agent_id   TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '',
	occurred   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, occurred);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, occurred);
`

// Entry is one persisted audit row.
type Entry struct {
	ID       string
	Type     domain.EventType
	AgentID  string
	Payload  string
	Occurred time.Time
}

// Log is the SQLite-backed audit trail.
type Log struct {
	db     *sql.DB
	logger *slog.Logger

	// entropy is not safe for concurrent use; bus handlers run in
	// parallel, so id generation takes the mutex.
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens (or creates) the audit database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// The log is written by a single process; one connection avoids
	// SQLITE_BUSY under concurrent event bursts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	t := time.Now()
	return &Log{
		db:      db,
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}, nil
}

// Attach subscribes the log to every event on the bus and returns the
// unsubscribe function.
func (l *Log) Attach(bus domain.EventBus) func() {
	return bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		if err := l.Record(ctx, event); err != nil {
			l.logger.Warn("audit record failed",
				"event_type", string(event.Type),
				"agent_id", event.AgentID,
				"error", err,
			)
		}
	})
}

// Record appends one event to the log.
func (l *Log) Record(ctx context.Context, event domain.Event) error {
	l.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), l.entropy).String()
	l.mu.Unlock()

	occurred := event.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO events (id, event_type, agent_id, payload, occurred) VALUES (?, ?, ?, ?, ?)",
		id, string(event.Type), event.AgentID, string(event.Payload), occurred,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT id, event_type, agent_id, payload, occurred FROM events ORDER BY occurred DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.AgentID, &e.Payload, &e.Occurred); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ByAgent returns the newest entries for one agent, most recent first.
func (l *Log) ByAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT id, event_type, agent_id, payload, occurred FROM events WHERE agent_id = ? ORDER BY occurred DESC, id DESC LIMIT ?",
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query agent events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.AgentID, &e.Payload, &e.Occurred); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
