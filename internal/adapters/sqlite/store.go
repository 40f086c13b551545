// Package sqlite persists API key credentials and best-effort usage events.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	key_hash     TEXT NOT NULL,
	key_prefix   TEXT NOT NULL,
	tier         TEXT NOT NULL DEFAULT 'free',
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS usage_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key_id      TEXT,
	service     TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	input       TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);
`

// Store implements ports.CredentialStore and ports.UsageRecorder on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at the given path (":memory:" works for
// tests), verifies the connection and bootstraps the schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// ListActive returns every active API key record. Verification walks this
// set, so deactivated keys fall out of the scan immediately.
func (s *Store) ListActive(ctx context.Context) ([]domain.APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, tier, active, created_at, last_used_at
		FROM api_keys WHERE active = 1
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active keys: %w", err)
	}
	defer rows.Close()

	var records []domain.APIKeyRecord
	for rows.Next() {
		var rec domain.APIKeyRecord
		var lastUsed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.KeyHash, &rec.KeyPrefix,
			&rec.Tier, &rec.Active, &rec.CreatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("sqlite: scan key record: %w", err)
		}
		if lastUsed.Valid {
			rec.LastUsedAt = &lastUsed.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert stores a new API key record.
func (s *Store) Insert(ctx context.Context, rec domain.APIKeyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, tier, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.KeyHash, rec.KeyPrefix, rec.Tier, rec.Active, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert key %s: %w", rec.ID, err)
	}
	return nil
}

// Touch updates a key's last-used timestamp.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("sqlite: touch key %s: %w", id, err)
	}
	return nil
}

// Deactivate soft-deletes a key. The hash stays on disk but the key stops
// verifying on the next request.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deactivate key %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// RecordUsage appends a usage event.
func (s *Store) RecordUsage(ctx context.Context, ev domain.UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (key_id, service, entity_type, input, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.KeyID, ev.Service, ev.EntityType, ev.Input, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("sqlite: record usage: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
