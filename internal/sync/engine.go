package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/courserelay/courserelay/internal/cache"
	"github.com/courserelay/courserelay/internal/model"
	"github.com/courserelay/courserelay/internal/queue"
	"github.com/courserelay/courserelay/internal/storage"
)

const (
	otelScope       = "courserelay/sync"
	spanReplay      = "sync.replay"
	metricReplayed  = "courserelay.sync.actions.replayed"
	metricFailed    = "courserelay.sync.actions.failed"
	metricDropped   = "courserelay.sync.actions.dropped"
	metricFetches   = "courserelay.fetch.remote"
	metricFallbacks = "courserelay.fetch.cache_fallback"
)

const (
	defaultRemoteTimeout = 30 * time.Second
	defaultPollInterval  = time.Minute
)

// Config wires an [Engine]'s collaborators and tuning knobs. Source,
// Dispatcher, Net, Cache, Queue, KV, and Logger are required.
type Config struct {
	Source     Source
	Dispatcher Dispatcher
	Net        Reachability
	Cache      *cache.Store[model.Module]
	Queue      *queue.Queue
	KV         storage.Store

	// Domain names the persisted status key, so multiple engines can share
	// one store without colliding.
	Domain string

	// RemoteTimeout bounds each remote call during reads and replay, so a
	// hung request cannot hold the replay guard indefinitely. Defaults to 30s.
	RemoteTimeout time.Duration

	// PollInterval is the [Engine.Run] cadence. Defaults to 1m.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Engine is the sync orchestrator. It owns the cache store and the pending
// queue exclusively; the host application owns the Engine and may run several
// isolated instances (e.g. in tests). Create one with [New].
type Engine struct {
	source        Source
	dispatcher    Dispatcher
	net           Reachability
	cache         *cache.Store[model.Module]
	queue         *queue.Queue
	kv            storage.Store
	statusKey     string
	remoteTimeout time.Duration
	pollInterval  time.Duration
	log           *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntReplayed  metric.Int64Counter
	cntFailed    metric.Int64Counter
	cntDropped   metric.Int64Counter
	cntFetches   metric.Int64Counter
	cntFallbacks metric.Int64Counter

	// syncing is the replay re-entrancy guard: a trigger that arrives while
	// a cycle runs is dropped, not queued.
	syncing atomic.Bool

	mu     sync.Mutex
	status model.SyncStatus

	now func() time.Time // swappable in tests
}

// Collection is a read result annotated with provenance, so the UI can render
// a "showing cached data" indicator when FromCache is true.
type Collection struct {
	Items       []model.Module
	Total       int
	Page        int
	Limit       int
	FromCache   bool
	LastUpdated time.Time
}

// New creates an Engine and loads its persisted status from the durable
// store. A status left with SyncInProgress=true by a crash is reset — the
// queue still holds everything that was not committed, so nothing is lost.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Dispatcher == nil || cfg.Net == nil ||
		cfg.Cache == nil || cfg.Queue == nil || cfg.KV == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("sync.New: missing required collaborator")
	}
	if cfg.Domain == "" {
		cfg.Domain = "modules"
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			cfg.Logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	e := &Engine{
		source:        cfg.Source,
		dispatcher:    cfg.Dispatcher,
		net:           cfg.Net,
		cache:         cfg.Cache,
		queue:         cfg.Queue,
		kv:            cfg.KV,
		statusKey:     "status:" + cfg.Domain,
		remoteTimeout: cfg.RemoteTimeout,
		pollInterval:  cfg.PollInterval,
		log:           cfg.Logger,

		tracer:       otel.Tracer(otelScope),
		cntReplayed:  mustCounter(metricReplayed, "Number of pending actions replayed successfully"),
		cntFailed:    mustCounter(metricFailed, "Number of pending actions that failed replay and were kept"),
		cntDropped:   mustCounter(metricDropped, "Number of pending actions dropped after permanent rejection"),
		cntFetches:   mustCounter(metricFetches, "Number of successful remote catalog fetches"),
		cntFallbacks: mustCounter(metricFallbacks, "Number of reads served from cache after a remote failure"),

		now: time.Now,
	}

	e.status = e.loadStatus(ctx)
	e.status.IsOnline = cfg.Net.Current()
	e.status.SyncInProgress = false
	if n, err := e.queue.Size(ctx); err == nil {
		e.status.PendingChanges = n
	}
	e.persistStatus(ctx, e.status)

	return e, nil
}

// GetCollection returns the module catalog. Online, it fetches fresh data and
// replaces the cached snapshot; if the fetch fails — or the device is offline
// — it degrades to the cached snapshot when one is still valid. With neither
// source available the error names both facts: it wraps
// [model.ErrNetworkUnavailable] and [model.ErrNoCachedData].
func (e *Engine) GetCollection(ctx context.Context, filters map[string]string) (*Collection, error) {
	if e.net.Current() {
		page, err := e.fetchAndCache(ctx, filters)
		if err == nil {
			return freshCollection(page, e.now().UTC()), nil
		}

		if snap := e.cache.Read(ctx); e.cache.IsValid(snap, e.now()) {
			e.log.Warn("remote fetch failed, serving cached data", "error", err)
			e.cntFallbacks.Add(ctx, 1)
			return cachedCollection(snap), nil
		}
		return nil, err
	}

	if snap := e.cache.Read(ctx); e.cache.IsValid(snap, e.now()) {
		return cachedCollection(snap), nil
	}
	return nil, fmt.Errorf("get modules: %w: %w", model.ErrNetworkUnavailable, model.ErrNoCachedData)
}

// GetModule returns a single module by ID, with the same online/offline
// branching as [Engine.GetCollection] at item granularity. fromCache is true
// when the result was served locally. An offline miss on an existing snapshot
// returns [model.ErrNotFound], distinct from the no-snapshot-at-all case.
func (e *Engine) GetModule(ctx context.Context, id string) (m *model.Module, fromCache bool, err error) {
	if e.net.Current() {
		fctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
		m, err := e.source.FetchByID(fctx, id)
		cancel()
		if err == nil {
			if cacheErr := e.cache.UpsertOne(ctx, *m); cacheErr != nil {
				e.log.Error("caching fetched module failed", "id", id, "error", cacheErr)
			}
			return m, false, nil
		}

		if snap := e.cache.Read(ctx); e.cache.IsValid(snap, e.now()) {
			if found := findModule(snap.Items, id); found != nil {
				e.log.Warn("remote fetch failed, serving cached module", "id", id, "error", err)
				e.cntFallbacks.Add(ctx, 1)
				return found, true, nil
			}
		}
		return nil, false, fmt.Errorf("get module %q: %w", id, err)
	}

	snap := e.cache.Read(ctx)
	if !e.cache.IsValid(snap, e.now()) {
		return nil, false, fmt.Errorf("get module %q: %w: %w", id, model.ErrNetworkUnavailable, model.ErrNoCachedData)
	}
	if found := findModule(snap.Items, id); found != nil {
		return found, true, nil
	}
	return nil, false, fmt.Errorf("get module %q: %w", id, model.ErrNotFound)
}

// RecordPendingAction durably queues a write intent whose remote call failed
// or was never attempted because the device is offline. It returns only after
// the append is persisted; a storage failure propagates, because claiming
// "queued for later" without persistence would silently lose the write.
func (e *Engine) RecordPendingAction(ctx context.Context, action model.PendingAction) error {
	if err := e.queue.Enqueue(ctx, action); err != nil {
		return fmt.Errorf("recording pending action: %w", err)
	}
	pending := e.queueSize(ctx)
	e.setStatus(ctx, func(s *model.SyncStatus) { s.PendingChanges = pending })
	return nil
}

// ForceRefresh fetches the catalog unconditionally, bypassing cache validity.
// Unlike [Engine.GetCollection] it never degrades to the cache: an offline
// failure surfaces as [model.ErrNetworkUnavailable] even when a valid
// snapshot exists.
func (e *Engine) ForceRefresh(ctx context.Context) (*Collection, error) {
	page, err := e.fetchAndCache(ctx, nil)
	if err != nil {
		if !e.net.Current() {
			return nil, fmt.Errorf("force refresh: %w: %w", model.ErrNetworkUnavailable, err)
		}
		return nil, fmt.Errorf("force refresh: %w", err)
	}
	return freshCollection(page, e.now().UTC()), nil
}

// IsDataStale reports whether the last successful sync is older than the
// cache TTL. Callers use it to decide when to call [Engine.ForceRefresh]
// proactively.
func (e *Engine) IsDataStale() bool {
	e.mu.Lock()
	last := e.status.LastSync
	e.mu.Unlock()

	if last.IsZero() {
		return true
	}
	return e.now().Sub(last) >= e.cache.TTL()
}

// ClearCache removes the cached snapshot, the pending-action queue, and the
// persisted status in one batch. Irreversible; intended for logout and
// privacy-reset flows.
func (e *Engine) ClearCache(ctx context.Context) error {
	keys := []string{e.cache.Key(), e.queue.Key(), e.statusKey}
	if err := e.kv.RemoveMany(ctx, keys); err != nil {
		return fmt.Errorf("clearing engine state: %w", err)
	}

	e.mu.Lock()
	e.status = model.SyncStatus{IsOnline: e.net.Current()}
	e.mu.Unlock()

	e.log.Info("cache, queue, and sync status cleared")
	return nil
}

// Status returns a copy of the current sync status for UI indicators.
func (e *Engine) Status() model.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Run starts the scheduling loop: an immediate pass, then one per poll
// interval, plus a replay whenever reachability flips to online. It blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.net.OnChange(func(online bool) {
		e.setStatus(ctx, func(s *model.SyncStatus) { s.IsOnline = online })
		if !online {
			return
		}
		e.log.Info("connectivity restored, replaying pending actions")
		go func() {
			if _, err := e.Sync(ctx); err != nil {
				e.log.Error("connectivity-triggered replay failed", "error", err)
			}
		}()
	})

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one scheduled pass: replay the queue if anything is pending,
// then refresh the catalog if it has gone stale.
func (e *Engine) tick(ctx context.Context) {
	if !e.net.Current() {
		return
	}
	if e.queueSize(ctx) > 0 {
		if _, err := e.Sync(ctx); err != nil {
			e.log.Error("scheduled replay failed", "error", err)
		}
	}
	if e.IsDataStale() {
		if _, err := e.ForceRefresh(ctx); err != nil {
			e.log.Warn("scheduled refresh failed", "error", err)
		}
	}
}

// --- internals ---------------------------------------------------------------

// fetchAndCache performs one bounded remote catalog fetch and, on success,
// replaces the cached snapshot and refreshes the status.
func (e *Engine) fetchAndCache(ctx context.Context, filters map[string]string) (*model.ModulePage, error) {
	fctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	page, err := e.source.FetchPage(fctx, filters)
	if err != nil {
		return nil, fmt.Errorf("fetching modules: %w", err)
	}
	e.cntFetches.Add(ctx, 1)

	snap := cache.Snapshot[model.Module]{
		Items: page.Items,
		Page:  page.Page,
		Limit: page.Limit,
		Total: page.Total,
	}
	if err := e.cache.Write(ctx, snap); err != nil {
		// The fresh data is still good for the caller; only the next offline
		// read suffers.
		e.log.Error("caching fetched modules failed", "error", err)
	}

	pending := e.queueSize(ctx)
	e.setStatus(ctx, func(s *model.SyncStatus) {
		s.LastSync = e.now().UTC()
		s.IsOnline = true
		s.PendingChanges = pending
	})
	return page, nil
}

func (e *Engine) queueSize(ctx context.Context) int {
	n, err := e.queue.Size(ctx)
	if err != nil {
		e.log.Warn("reading queue size failed", "error", err)
		e.mu.Lock()
		n = e.status.PendingChanges
		e.mu.Unlock()
	}
	return n
}

// setStatus applies the mutation and persists the result. Persistence
// failures are logged, not propagated: the in-memory status stays correct and
// is re-persisted on the next mutation.
func (e *Engine) setStatus(ctx context.Context, mutate func(*model.SyncStatus)) {
	e.mu.Lock()
	mutate(&e.status)
	snapshot := e.status
	e.mu.Unlock()

	e.persistStatus(ctx, snapshot)
}

func (e *Engine) persistStatus(ctx context.Context, status model.SyncStatus) {
	b, err := json.Marshal(status)
	if err != nil {
		e.log.Error("encoding sync status", "error", err)
		return
	}
	if err := e.kv.Set(ctx, e.statusKey, string(b)); err != nil {
		e.log.Warn("persisting sync status failed", "error", err)
	}
}

func (e *Engine) loadStatus(ctx context.Context) model.SyncStatus {
	var status model.SyncStatus
	raw, found, err := e.kv.Get(ctx, e.statusKey)
	if err != nil {
		e.log.Warn("loading sync status failed, starting fresh", "error", err)
		return status
	}
	if !found {
		return status
	}
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		e.log.Warn("sync status corrupt, starting fresh", "error", err)
		return model.SyncStatus{}
	}
	return status
}

func freshCollection(page *model.ModulePage, fetchedAt time.Time) *Collection {
	return &Collection{
		Items:       page.Items,
		Total:       page.Total,
		Page:        page.Page,
		Limit:       page.Limit,
		FromCache:   false,
		LastUpdated: fetchedAt,
	}
}

func cachedCollection(snap *cache.Snapshot[model.Module]) *Collection {
	return &Collection{
		Items:       snap.Items,
		Total:       snap.Total,
		Page:        snap.Page,
		Limit:       snap.Limit,
		FromCache:   true,
		LastUpdated: snap.LastUpdated,
	}
}

func findModule(items []model.Module, id string) *model.Module {
	for i := range items {
		if items[i].ID == id {
			m := items[i]
			return &m
		}
	}
	return nil
}
