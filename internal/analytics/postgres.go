package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id UUID PRIMARY KEY,
	categories TEXT[] NOT NULL,
	total BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_recorded_at ON usage_events (recorded_at)`

// PostgresSink persists events to a PostgreSQL database shared by several
// service instances.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the database behind dsn, verifies the
// connection, and creates the events table if it does not exist.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "cliamapp"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	return &PostgresSink{pool: pool}, nil
}

// Record inserts the event.
func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (id, categories, total, recorded_at) VALUES ($1, $2, $3, $4)`,
		event.ID.String(), event.Categories, event.Total, event.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns events within [from, to) ordered by timestamp.
func (s *PostgresSink) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := `SELECT id::text, categories, total, recorded_at FROM usage_events
		WHERE ($1::timestamptz IS NULL OR recorded_at >= $1)
		AND ($2::timestamptz IS NULL OR recorded_at < $2)
		ORDER BY recorded_at, id`

	var fromArg, toArg *time.Time
	if !from.IsZero() {
		utc := from.UTC()
		fromArg = &utc
	}
	if !to.IsZero() {
		utc := to.UTC()
		toArg = &utc
	}

	rows, err := s.pool.Query(ctx, query, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			id    string
			event Event
		)
		if err := rows.Scan(&id, &event.Categories, &event.Total, &event.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		event.RecordedAt = event.RecordedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
