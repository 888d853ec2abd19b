// Package postgres is a tilestore.Backend on PostgreSQL, for deployments where
// several proxy instances share one tile cache.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/sadaksathi/pkg/tilestore"
)

// Schema is the SQL DDL for the map_tiles table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS map_tiles (
    url        TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    stored_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [tilestore.Backend] backed by PostgreSQL.
type Store struct {
	db DB
}

var _ tilestore.Backend = (*Store)(nil)

// New returns a Store using db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the map_tiles table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Load implements [tilestore.Backend].
func (s *Store) Load(ctx context.Context, url string) (string, bool, error) {
	var payload string
	err := s.db.QueryRow(ctx, `SELECT payload FROM map_tiles WHERE url = $1`, url).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: load: %w", err)
	}
	return payload, true, nil
}

// Save implements [tilestore.Backend].
func (s *Store) Save(ctx context.Context, url, payload string) error {
	const query = `
		INSERT INTO map_tiles (url, payload) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET payload = EXCLUDED.payload, stored_at = now()`
	if _, err := s.db.Exec(ctx, query, url, payload); err != nil {
		return fmt.Errorf("postgres: save: %w", err)
	}
	return nil
}

// Remove implements [tilestore.Backend].
func (s *Store) Remove(ctx context.Context, url string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM map_tiles WHERE url = $1`, url); err != nil {
		return fmt.Errorf("postgres: remove: %w", err)
	}
	return nil
}

// Count returns the number of cached tiles.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM map_tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
