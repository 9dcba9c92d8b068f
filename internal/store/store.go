package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Replica identity, change history and records (schema.sql)
// 1 - Index on change_history(article_id, entity_key) for per-entity history
const currentSchemaVersion = 1

// migration upgrades a database from version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order for every step above the stored user_version.
// Databases created at the current version already hold the same objects
// through IF NOT EXISTS, so each statement must be safe to repeat.
var migrations = []migration{
	{
		version: 1,
		name:    "index history by entity",
		// Merge looks up the newest entry of one entity per incoming change;
		// without this index that is a scan of the whole article.
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_change_history_entity
			ON change_history(article_id, entity_key)
		`,
	},
}

// Store is one replica's durable state: its identity, its change history
// and its records, in a single SQLite file.
// Uses SQLite with WAL mode so anchors and deltas can be read while a
// sync applies changes.
type Store struct {
	db *sql.DB
}

// Open creates or opens the replica database at path.
// Pragmas and migrations are applied on every open.
//
// The database is configured with:
//   - WAL mode so ResolveDelta readers do not block AcceptChanges
//   - NORMAL synchronous mode (history survives a process crash, not
//     necessarily a power loss)
//   - 5-second busy timeout when another process holds the file
//   - Foreign key enforcement
//
// Opening an existing replica leaves its identity and history untouched.
func Open(path string) (*Store, error) {
	// The driver creates the file on first use
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sql.Open is lazy; fail here on an unreadable path
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: the engine serializes writers with its own locks,
	// and a second connection would only meet SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1) // Reused across sync rounds

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
// Providers built on the store must not be used afterwards.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
// Writing to change_history directly bypasses the ledger's revision counter.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
// journal_mode must come first; it cannot change inside a transaction.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the replica tables if missing and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies every migration newer than user_version, then
// records currentSchemaVersion.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		version = m.version
	}

	// PRAGMA does not take bind parameters
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // No-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
