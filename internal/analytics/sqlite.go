package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	categories TEXT NOT NULL,
	total INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_recorded_at ON usage_events (recorded_at);`

// SQLiteSink persists events to a local SQLite database file.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens or creates the database at path and prepares the
// events table. The connection is capped at one writer; WAL keeps readers
// from blocking on it.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Record inserts the event.
func (s *SQLiteSink) Record(ctx context.Context, event Event) error {
	categories, err := json.Marshal(event.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, categories, total, recorded_at) VALUES (?, ?, ?, ?)`,
		event.ID.String(), string(categories), event.Total, event.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns events within [from, to) ordered by timestamp. RFC3339 UTC
// strings sort lexicographically, so the comparisons run on the raw column.
func (s *SQLiteSink) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := `SELECT id, categories, total, recorded_at FROM usage_events`

	var (
		conditions []string
		args       []any
	)
	if !from.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		conditions = append(conditions, "recorded_at < ?")
		args = append(args, to.UTC().Format(time.RFC3339))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY recorded_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			id         string
			categories string
			total      int
			recordedAt string
		)
		if err := rows.Scan(&id, &categories, &total, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		event := Event{Total: total}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(categories), &event.Categories); err != nil {
			return nil, fmt.Errorf("parse categories for %s: %w", id, err)
		}
		if event.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parse timestamp for %s: %w", id, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
