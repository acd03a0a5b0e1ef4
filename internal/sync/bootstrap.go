package sync

import (
	"context"
	"fmt"
)

// Warmup ensures a usable catalog snapshot exists before the scheduling loop
// starts, so the first read after install does not fail with an empty cache.
// A still-valid snapshot makes it a no-op; offline with no snapshot is logged
// and tolerated — the connectivity watcher fills the cache once the network
// appears.
func (e *Engine) Warmup(ctx context.Context) error {
	if snap := e.cache.Read(ctx); e.cache.IsValid(snap, e.now()) {
		e.log.Debug("warmup skipped, cached snapshot still valid",
			"items", len(snap.Items), "last_updated", snap.LastUpdated)
		return nil
	}

	if !e.net.Current() {
		e.log.Warn("offline with no usable cache, reads will fail until connectivity returns")
		return nil
	}

	if _, err := e.ForceRefresh(ctx); err != nil {
		return fmt.Errorf("warming up catalog cache: %w", err)
	}
	e.log.Info("catalog cache warmed up")
	return nil
}
