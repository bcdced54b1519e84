// ABOUTME: JSON file backend storing one saved-docs-<connection>.json per connection
// ABOUTME: Writes go to a temp file in the same directory and are renamed into place

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend keeps each connection's unit in its own JSON file under Dir
type FileBackend struct {
	dir    string
	logger *slog.Logger
}

// NewFileBackend creates a file backend rooted at dir. The directory is
// created on first save.
func NewFileBackend(dir string, logger *slog.Logger) *FileBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBackend{
		dir:    dir,
		logger: logger.With("component", "file_backend"),
	}
}

// Path returns the file that holds the unit for connectionID
func (b *FileBackend) Path(connectionID string) string {
	return filepath.Join(b.dir, "saved-docs-"+connectionID+".json")
}

// Load reads and decodes the unit. A missing file yields an empty unit.
func (b *FileBackend) Load(_ context.Context, connectionID string) (*Unit, error) {
	path := b.Path(connectionID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return (&Unit{}).clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageIO, path, err)
	}

	unit, err := decodeUnit(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptUnit, path, err)
	}
	return unit, nil
}

// Save encodes the unit and atomically replaces the connection's file
func (b *FileBackend) Save(_ context.Context, connectionID string, unit *Unit) error {
	data, err := encodeUnit(unit)
	if err != nil {
		return fmt.Errorf("%w: encoding unit: %w", ErrStorageIO, err)
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating storage directory: %w", ErrStorageIO, err)
	}

	path := b.Path(connectionID)
	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrStorageIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %w", ErrStorageIO, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: syncing %s: %w", ErrStorageIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing %s: %w", ErrStorageIO, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing %s: %w", ErrStorageIO, path, err)
	}
	// The rename is only durable once the directory entry is on disk
	if err := syncDir(b.dir); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return nil
}

// Delete removes the connection's file. A missing file is not an error.
func (b *FileBackend) Delete(_ context.Context, connectionID string) (bool, error) {
	path := b.Path(connectionID)
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Warn("saved docs file not found", "path", path)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: deleting %s: %w", ErrStorageIO, path, err)
	}
	if err := syncDir(b.dir); err != nil {
		return true, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return true, nil
}

// syncDir flushes the directory so renames and removals inside it survive a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}

// encodeUnit renders the unit the way it is stored on disk: two-space
// indented JSON with empty lists rather than null.
func encodeUnit(unit *Unit) ([]byte, error) {
	return json.MarshalIndent(unit.clone(), "", "  ")
}

func decodeUnit(data []byte) (*Unit, error) {
	var unit Unit
	if err := json.Unmarshal(data, &unit); err != nil {
		return nil, err
	}
	return unit.clone(), nil
}
