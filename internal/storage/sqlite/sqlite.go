// Package sqlite is the embedded storage engine: a single SQLite file holding
// the offline tile cache and the preference records.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary. [DB] implements both tilestore.Backend and prefs.Store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/sadaksathi/internal/prefs"
	"github.com/MrWong99/sadaksathi/pkg/tilestore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the SQLite connection pool.
type DB struct {
	*sql.DB
}

var (
	_ tilestore.Backend = (*DB)(nil)
	_ prefs.Store       = (*DB)(nil)
)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp applies all pending migrations.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version. A fresh database reports
// 0, false.
func (db *DB) MigrateVersion() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("sqlite: migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf("sqlite: migrate: "+format, v...))
}

func (migrateLogger) Verbose() bool { return false }

// ── Tiles ────────────────────────────────────────────────────────────────────

// Load implements tilestore.Backend.
func (db *DB) Load(ctx context.Context, tileURL string) (string, bool, error) {
	var payload string
	err := db.QueryRowContext(ctx, `SELECT payload FROM map_tiles WHERE url = ?`, tileURL).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: load tile: %w", err)
	}
	return payload, true, nil
}

// Save implements tilestore.Backend.
func (db *DB) Save(ctx context.Context, tileURL, payload string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO map_tiles (url, payload) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET payload = excluded.payload, stored_at = unixepoch()`,
		tileURL, payload)
	if err != nil {
		return fmt.Errorf("sqlite: save tile: %w", err)
	}
	return nil
}

// Remove implements tilestore.Backend.
func (db *DB) Remove(ctx context.Context, tileURL string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM map_tiles WHERE url = ?`, tileURL); err != nil {
		return fmt.Errorf("sqlite: remove tile: %w", err)
	}
	return nil
}

// TileCount returns the number of cached tiles.
func (db *DB) TileCount(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM map_tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count tiles: %w", err)
	}
	return n, nil
}

// ── Preferences ──────────────────────────────────────────────────────────────

// Get implements prefs.Store.
func (db *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get preference %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements prefs.Store.
func (db *DB) Set(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = unixepoch()`,
		key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set preference %q: %w", key, err)
	}
	return nil
}
