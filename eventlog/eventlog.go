// Package eventlog keeps a durable trail of pipeline events: movements
// submitted, queue drains, dead-lettered transactions, report triggers.
// The trail lives in the same SQLite database as the local store, so it
// survives restarts and is inspectable offline.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/vizionmakeit-commits/stockflow/idgen"
)

// Schema creates the event table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
	event_id   TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	entity_id  TEXT NOT NULL DEFAULT '',
	actor_id   TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_created
	ON pipeline_events(created_at);
`

// Event types recorded by the pipeline.
const (
	TypeTransactionSubmitted = "transaction_submitted"
	TypeTransactionQueued    = "transaction_queued"
	TypeSyncCompleted        = "sync_completed"
	TypeDeadLettered         = "dead_lettered"
	TypeCacheRefreshed       = "cache_refreshed"
	TypeReportTriggered      = "report_triggered"
)

// Event is one recorded pipeline event.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	EntityID  string    `json:"entity_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Details   string    `json:"details,omitempty"` // optional JSON
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// Logger writes pipeline events and manages retention cleanup.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
	slog  *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) { l.now = fn }
}

// WithLogger sets the fallback slog logger. Default: slog.Default().
func WithLogger(sl *slog.Logger) Option {
	return func(l *Logger) { l.slog = sl }
}

// New creates an event logger on db and ensures the schema exists.
func New(db *sql.DB, opts ...Option) (*Logger, error) {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
		slog:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return l, nil
}

// Record writes one event. Non-blocking failure mode: errors go to slog but
// never propagate, so a failing trail cannot stall the pipeline.
func (l *Logger) Record(ctx context.Context, e Event) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			event_id, event_type, entity_id, actor_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?)`,
		e.EventID, e.EventType, e.EntityID, e.ActorID, e.Details, e.Success,
		l.now().Unix())
	if err != nil {
		l.slog.Error("eventlog: record failed", "error", err, "event_type", e.EventType)
	}
}

// Recent returns the newest events, most recent first, up to limit.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, entity_id, actor_id, details, success, created_at
		FROM pipeline_events
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.EventID, &e.EventType, &e.EntityID, &e.ActorID,
			&e.Details, &e.Success, &created); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than the retention window. days <= 0 is a
// no-op. Returns the number of rows removed.
func (l *Logger) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -days).Unix()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM pipeline_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventlog: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
