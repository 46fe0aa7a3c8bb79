// Package sqlite persists route definitions registered by services.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// Numbered schema files, applied in name order. The number of applied files
// is tracked in PRAGMA user_version.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a SQLite handle holding the route table.
type DB struct {
	*sql.DB
}

// Open opens the database at path, creating it if needed. ":memory:" opens
// a shared in-memory database limited to one connection.
func Open(path string) (*DB, error) {
	memory := path == ":memory:"

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	if memory {
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DB{DB: db}, nil
}

// Version returns the number of schema files applied.
func (db *DB) Version(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies the schema files not yet recorded in user_version. Each
// file runs in its own transaction together with the version bump.
func (db *DB) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	current, err := db.Version(ctx)
	if err != nil {
		return err
	}
	if current > len(files) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(files))
	}

	for i := current; i < len(files); i++ {
		if err := db.migrate(ctx, files[i], i+1); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) migrate(ctx context.Context, file string, version int) error {
	script, err := migrationsFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("migrate %s: %w", file, err)
	}
	// PRAGMA does not accept bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("migrate %s: set version: %w", file, err)
	}
	return tx.Commit()
}
