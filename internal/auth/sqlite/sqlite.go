// Package sqlite persists API keys in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labiium/routiium/internal/auth"
)

// Store implements auth.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the key database at the supplied path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	label TEXT,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP,
	revoked_at TIMESTAMP,
	salt_hex TEXT NOT NULL,
	hash_hex TEXT NOT NULL,
	scopes TEXT
);
CREATE INDEX IF NOT EXISTS idx_api_keys_expires ON api_keys(expires_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the record for rec.ID.
func (s *Store) Put(ctx context.Context, rec *auth.Record) error {
	scopes, err := encodeScopes(rec.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, label, created_at, expires_at, revoked_at, salt_hex, hash_hex, scopes)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	label = excluded.label,
	expires_at = excluded.expires_at,
	revoked_at = excluded.revoked_at,
	scopes = excluded.scopes`,
		rec.ID, rec.Label, rec.CreatedAt, rec.ExpiresAt, rec.RevokedAt, rec.SaltHex, rec.HashHex, scopes,
	)
	return err
}

// Get returns the record for id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*auth.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, label, created_at, expires_at, revoked_at, salt_hex, hash_hex, scopes
FROM api_keys WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns all records.
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

// Purge deletes rows expired or revoked at or before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM api_keys
WHERE (expires_at IS NOT NULL AND expires_at <= ?)
   OR (revoked_at IS NOT NULL AND revoked_at <= ?)`, cutoff, cutoff)
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

func encodeScopes(scopes []string) (any, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}
	return string(b), nil
}
