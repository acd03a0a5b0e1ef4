// Package storage provides the durable key-value store that backs the cache
// snapshot, the pending-action queue, and the sync status. Values are
// JSON-encoded strings; one logical domain owns each key.
//
// Only this package may touch the underlying database. All other packages
// receive a [Store] and call its methods.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Driver selects the on-disk backend.
type Driver string

const (
	// DriverSQLite stores keys in a single-table SQLite database. Default.
	DriverSQLite Driver = "sqlite"

	// DriverBadger stores keys in a BadgerDB LSM tree.
	DriverBadger Driver = "badger"
)

// Store is a durable string key-value store. Every operation is fallible:
// callers must not assume a write persisted unless Set returned nil.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value under key, replacing any previous value. The write is
	// atomic: a concurrent Get sees either the old or the new value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveMany deletes all given keys in one atomic batch.
	RemoveMany(ctx context.Context, keys []string) error

	// Close releases the underlying database.
	Close() error
}

// Open creates or opens a store at path using the given driver.
func Open(driver Driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path)
	case DriverBadger:
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// DefaultPath returns the default location of the local database:
// ~/.local/share/courserelay/<name>.
func DefaultPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "courserelay", name), nil
}
