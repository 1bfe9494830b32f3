// Package sqlite is the durable document store. The store server uses it as
// the source of truth, and the CLI uses it directly in offline mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// FileName is the database file created inside the data directory.
const FileName = "salah.db"

// DB wraps the SQLite connection.
type DB struct {
	db  *sql.DB
	now func() time.Time

	// MaxAttempts bounds transaction re-runs on conflict.
	MaxAttempts int
}

// Open creates or opens dir/salah.db and brings its schema up to date.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenFile(filepath.Join(dir, FileName))
}

// OpenFile opens the database at path.
func OpenFile(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; a single connection also keeps pragmas applied.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{db: sqlDB, now: time.Now, MaxAttempts: docstore.DefaultMaxAttempts}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// SetClock replaces the server-time source.
func (db *DB) SetClock(now func() time.Time) { db.now = now }

// Ping verifies the connection.
func (db *DB) Ping(ctx context.Context) error { return db.db.PingContext(ctx) }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// migrations[i] brings the schema from user_version i to i+1.
// Each string is a single SQL statement (SQLite executes one at a time).
var migrations = [][]string{
	// 1: keyed JSON documents with an optimistic version counter
	{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	},
	// 2: audit trail of running-total changes
	{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   TEXT NOT NULL,
			type        TEXT NOT NULL CHECK(type IN ('EARN','DEDUCT')),
			entry_type  TEXT NOT NULL CHECK(entry_type IN ('DEBIT','CREDIT')),
			account     TEXT NOT NULL,
			amount      INTEGER NOT NULL CHECK(amount > 0),
			mutation_id TEXT,
			description TEXT,
			balance     INTEGER NOT NULL CHECK(balance >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account, id)`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int { return len(migrations) }

func (db *DB) migrate() error {
	var version int
	if err := db.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", v+1, err)
			}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
