// ABOUTME: SQLite backend keeping each connection's unit as one row using modernc.org/sqlite
// ABOUTME: The row body is the same JSON record the file backend writes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores units in a single SQLite database
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteBackend(path string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlite_backend")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS saved_doc_units (
			connection_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite backend initialized", "path", path)
	return &SQLiteBackend{db: db, logger: logger}, nil
}

// Load returns the unit for connectionID, or an empty unit if there is no row
func (b *SQLiteBackend) Load(ctx context.Context, connectionID string) (*Unit, error) {
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM saved_doc_units WHERE connection_id = ?`, connectionID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return (&Unit{}).clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading unit %s: %w", ErrStorageIO, connectionID, err)
	}

	unit, err := decodeUnit([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("%w: unit %s: %w", ErrCorruptUnit, connectionID, err)
	}
	return unit, nil
}

// Save replaces the unit row in a single statement
func (b *SQLiteBackend) Save(ctx context.Context, connectionID string, unit *Unit) error {
	data, err := encodeUnit(unit)
	if err != nil {
		return fmt.Errorf("%w: encoding unit: %w", ErrStorageIO, err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO saved_doc_units (connection_id, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, connectionID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: saving unit %s: %w", ErrStorageIO, connectionID, err)
	}
	return nil
}

// Delete removes the unit row. A missing row is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, connectionID string) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM saved_doc_units WHERE connection_id = ?`, connectionID)
	if err != nil {
		return false, fmt.Errorf("%w: deleting unit %s: %w", ErrStorageIO, connectionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: deleting unit %s: %w", ErrStorageIO, connectionID, err)
	}
	if n == 0 {
		b.logger.Warn("saved docs unit not found", "connection_id", connectionID)
	}
	return n > 0, nil
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
