// Package postgres persists API keys in PostgreSQL via database/sql and the
// pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/labiium/routiium/internal/auth"
)

// Store implements auth.Store backed by PostgreSQL.
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
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	label TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ,
	salt_hex TEXT NOT NULL,
	hash_hex TEXT NOT NULL,
	scopes JSONB
);
CREATE INDEX IF NOT EXISTS idx_api_keys_expires ON api_keys(expires_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, rec *auth.Record) error {
	var scopes any
	if len(rec.Scopes) > 0 {
		b, err := json.Marshal(rec.Scopes)
		if err != nil {
			return fmt.Errorf("encode scopes: %w", err)
		}
		scopes = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, label, created_at, expires_at, revoked_at, salt_hex, hash_hex, scopes)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT(id) DO UPDATE SET
	label = EXCLUDED.label,
	expires_at = EXCLUDED.expires_at,
	revoked_at = EXCLUDED.revoked_at,
	scopes = EXCLUDED.scopes`,
		rec.ID, rec.Label, rec.CreatedAt, rec.ExpiresAt, rec.RevokedAt, rec.SaltHex, rec.HashHex, scopes,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*auth.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, label, created_at, expires_at, revoked_at, salt_hex, hash_hex, scopes
FROM api_keys WHERE id = $1`, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *Store) List(ctx context.Context) ([]*auth.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, label, created_at, expires_at, revoked_at, salt_hex, hash_hex, scopes
FROM api_keys`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM api_keys
WHERE (expires_at IS NOT NULL AND expires_at <= $1)
   OR (revoked_at IS NOT NULL AND revoked_at <= $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanRecord(scan func(dest ...any) error) (*auth.Record, error) {
	var rec auth.Record
	var label sql.NullString
	var expiresAt, revokedAt sql.NullTime
	var scopes sql.NullString
	if err := scan(&rec.ID, &label, &rec.CreatedAt, &expiresAt, &revokedAt, &rec.SaltHex, &rec.HashHex, &scopes); err != nil {
		return nil, err
	}
	if label.Valid {
		rec.Label = &label.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		rec.RevokedAt = &t
	}
	if scopes.Valid && scopes.String != "" {
		if err := json.Unmarshal([]byte(scopes.String), &rec.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
