package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is kept in PRAGMA user_version. Bump it when schema.sql
// changes in a way older binaries cannot read.
const schemaVersion = 1

// connParams are go-sqlite3 DSN parameters. They are applied to every
// connection the pool opens.
const connParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// ErrSchemaVersion is returned by Open for a database this build cannot
// use: one written by a newer schema, or an unrelated SQLite file.
var ErrSchemaVersion = errors.New("incompatible database schema")

// Store persists the event logs of rulebook activations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and makes sure it
// carries the current schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; the event log is the only producer.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Calling it on a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ensureSchema installs the schema into an empty database and checks the
// version of an existing one.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("%w: version %d is newer than %d", ErrSchemaVersion, version, schemaVersion)
	case version != 0:
		return fmt.Errorf("%w: unknown version %d", ErrSchemaVersion, version)
	}

	var tables int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'",
	).Scan(&tables); err != nil {
		return fmt.Errorf("inspect database: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("%w: database has %d tables but no schema version", ErrSchemaVersion, tables)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}
