// Package cache holds one versioned, timestamped snapshot of a remote
// collection in the durable store. Reads are validity-checked (format version
// plus age); writes replace the snapshot wholesale. The sync engine is the
// only writer.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/courserelay/courserelay/internal/storage"
)

// DefaultTTL is how long a snapshot stays valid after its last write.
const DefaultTTL = 24 * time.Hour

// Snapshot is the stored form of a cached collection. Items preserve server
// order; Page/Limit/Total echo the last successful fetch's pagination and are
// treated as opaque (Total is never cross-checked against len(Items) — an
// upserted snapshot may hold more items than one page).
type Snapshot[T any] struct {
	Items       []T       `json:"items"`
	LastUpdated time.Time `json:"last_updated"`
	Version     string    `json:"version"`
	Page        int       `json:"page"`
	Limit       int       `json:"limit"`
	Total       int       `json:"total"`
}

// Store reads and writes the snapshot for one collection domain.
type Store[T any] struct {
	kv      storage.Store
	key     string
	version string
	ttl     time.Duration
	keyFn   func(T) string
	log     *slog.Logger

	now func() time.Time // swappable in tests
}

// New creates a Store for the given domain. version tags the snapshot format:
// a stored snapshot with a different version is invalid regardless of age.
// keyFn extracts the identity used by [Store.UpsertOne]. A zero ttl means
// [DefaultTTL].
func New[T any](kv storage.Store, domain, version string, ttl time.Duration, keyFn func(T) string, logger *slog.Logger) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[T]{
		kv:      kv,
		key:     "cache:" + domain,
		version: version,
		ttl:     ttl,
		keyFn:   keyFn,
		log:     logger,
		now:     time.Now,
	}
}

// Key returns the durable-store key this Store owns.
func (s *Store[T]) Key() string { return s.key }

// TTL returns the configured snapshot lifetime.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

// Read returns the stored snapshot, or nil when none exists. Storage failures
// and undecodable snapshots are logged and reported as absent — a broken
// cache must never take down a read path that could still reach the network.
func (s *Store[T]) Read(ctx context.Context) *Snapshot[T] {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.log.Warn("cache read failed, treating as absent", "key", s.key, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var snap Snapshot[T]
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.log.Warn("cache snapshot corrupt, treating as absent", "key", s.key, "error", err)
		return nil
	}
	return &snap
}

// Write replaces the stored snapshot with snap, stamping the current format
// version and refreshing LastUpdated. The underlying Set is atomic, so a
// concurrent Read sees either the previous snapshot or this one in full.
func (s *Store[T]) Write(ctx context.Context, snap Snapshot[T]) error {
	snap.Version = s.version
	snap.LastUpdated = s.now().UTC()

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	return nil
}

// IsValid reports whether snap can still be served: the format version must
// match and the snapshot must be younger than the TTL at the given time.
func (s *Store[T]) IsValid(snap *Snapshot[T], now time.Time) bool {
	if snap == nil {
		return false
	}
	if snap.Version != s.version {
		return false
	}
	return now.Sub(snap.LastUpdated) < s.ttl
}

// UpsertOne replaces the stored item with the same key as item, or appends it
// if absent, and refreshes the whole snapshot's LastUpdated. When no snapshot
// exists yet, a single-item snapshot is created.
func (s *Store[T]) UpsertOne(ctx context.Context, item T) error {
	snap := s.Read(ctx)
	if snap == nil {
		snap = &Snapshot[T]{Items: []T{item}, Total: 1}
		return s.Write(ctx, *snap)
	}

	id := s.keyFn(item)
	replaced := false
	for i := range snap.Items {
		if s.keyFn(snap.Items[i]) == id {
			snap.Items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Items = append(snap.Items, item)
	}
	return s.Write(ctx, *snap)
}

// Clear removes the stored snapshot.
func (s *Store[T]) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}
