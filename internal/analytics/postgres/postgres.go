// Package postgres persists analytics events in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/labiium/routiium/internal/analytics"
)

// Store implements analytics.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects using a pgx connection string and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id TEXT PRIMARY KEY,
	ts BIGINT NOT NULL,
	model TEXT,
	endpoint TEXT,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_events_ts ON analytics_events(ts);
CREATE INDEX IF NOT EXISTS idx_analytics_events_model ON analytics_events(model, ts);
CREATE INDEX IF NOT EXISTS idx_analytics_events_endpoint ON analytics_events(endpoint, ts);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, ev *analytics.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO analytics_events(id, ts, model, endpoint, payload) VALUES($1, $2, $3, $4, $5)`,
		ev.ID, ev.Timestamp, ev.Request.Model, ev.Request.Endpoint, string(payload))
	return err
}

func (s *Store) Query(ctx context.Context, start, end int64, limit int) ([]*analytics.Event, error) {
	query := `SELECT payload FROM analytics_events WHERE ts >= $1 AND ts <= $2 ORDER BY ts ASC`
	args := []any{start, end}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analytics.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev analytics.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analytics_events`)
	return err
}

func (s *Store) Stats(ctx context.Context) (analytics.StoreStats, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_events`).Scan(&count); err != nil {
		return analytics.StoreStats{}, err
	}
	return analytics.StoreStats{Backend: "postgres", TotalEvents: count}, nil
}
