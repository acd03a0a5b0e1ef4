// CourseRelay keeps a learning platform's course catalog usable offline: it
// caches the module list locally, queues writes made while disconnected, and
// replays them against the API when connectivity returns.
//
// Usage:
//
//	courserelay setup                      # interactive first-run wizard
//	courserelay daemon [--config <path>]   # background sync loop
//	courserelay sync [--config <path>]     # single replay + refresh pass
//	courserelay status                     # show config & sync state
//	courserelay clear-cache                # wipe cached data, queue, and status
//	courserelay version                    # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courserelay/courserelay/internal/cache"
	"github.com/courserelay/courserelay/internal/config"
	"github.com/courserelay/courserelay/internal/model"
	"github.com/courserelay/courserelay/internal/netmon"
	"github.com/courserelay/courserelay/internal/queue"
	"github.com/courserelay/courserelay/internal/remote"
	"github.com/courserelay/courserelay/internal/setup"
	"github.com/courserelay/courserelay/internal/storage"
	syncp "github.com/courserelay/courserelay/internal/sync"
	"github.com/courserelay/courserelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// catalogDomain names the stored cache, queue, and status keys.
const catalogDomain = "modules"

// catalogSchemaVersion invalidates cached snapshots when the module shape
// changes between releases.
const catalogSchemaVersion = "1"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup()
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus()
	case "clear-cache":
		return runClearCache(os.Args[2:])
	case "version":
		fmt.Println("courserelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'courserelay' for usage", cmd)
	}
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "CourseRelay — offline-first sync for your course catalog")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  courserelay setup                    Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  courserelay daemon [--config ...]    Run the background sync loop")
	fmt.Fprintln(os.Stderr, "  courserelay sync [--config ...]      Single replay + refresh pass")
	fmt.Fprintln(os.Stderr, "  courserelay status                   Show config & sync state")
	fmt.Fprintln(os.Stderr, "  courserelay clear-cache              Wipe cached data, queue, and status")
	fmt.Fprintln(os.Stderr, "  courserelay version                  Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'courserelay setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runSync handles both "daemon" and "sync" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and sync state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("CourseRelay Status")
	fmt.Println("──────────────────")

	cfg, loadErr := loadConfigForStatus(cfgPath)
	if cfg == nil {
		return loadErr
	}

	if info, err := os.Stat(cfg.Storage.Path); err == nil {
		fmt.Printf("  Local DB:  %s (%s, %s)\n", cfg.Storage.Path, driverName(cfg), humanSize(dbSize(cfg.Storage.Path, info)))
	} else {
		fmt.Printf("  Local DB:  not created yet (%s)\n", cfg.Storage.Path)
		return nil
	}

	// Read the persisted sync state directly, without touching the network.
	engine, cleanup, err := buildEngine(context.Background(), cfg,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})), false)
	if err != nil {
		fmt.Printf("  State:     unreadable (%v)\n", err)
		return nil
	}
	defer cleanup()

	status := engine.Status()
	if status.LastSync.IsZero() {
		fmt.Println("  Last sync: never")
	} else {
		fmt.Printf("  Last sync: %s (%s ago)\n", status.LastSync.Format(time.RFC3339), time.Since(status.LastSync).Round(time.Second))
	}
	fmt.Printf("  Pending:   %d queued action(s)\n", status.PendingChanges)
	if engine.IsDataStale() {
		fmt.Println("  Catalog:   stale — run 'courserelay sync'")
	} else {
		fmt.Println("  Catalog:   fresh")
	}

	return nil
}

func loadConfigForStatus(cfgPath string) (*config.Config, error) {
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Printf("  Config:    not found (%s)\n", cfgPath)
		return nil, nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, err)
		return nil, nil
	}
	fmt.Printf("  Config:    %s ✓\n", cfgPath)
	fmt.Printf("  API URL:   %s\n", cfg.APIURL)
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
	fmt.Printf("  Cache TTL: %s\n", cfg.CacheTTL)
	return cfg, nil
}

// runClearCache wipes the cached catalog, the pending queue, and the sync
// status. Queued offline actions are lost, so it asks first.
func runClearCache(args []string) error {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	engine, cleanup, err := buildEngine(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if pending := engine.Status().PendingChanges; pending > 0 && !*yes {
		prompter := setup.NewPrompter(os.Stdin, os.Stdout)
		if !prompter.Confirm(fmt.Sprintf("Discard %d un-synced action(s)?", pending), false) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := engine.ClearCache(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Cached catalog, pending queue, and sync status cleared.")
	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for daemon and single-pass modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"api_url", cfg.APIURL,
		"poll_interval", cfg.PollInterval,
		"cache_ttl", cfg.CacheTTL,
		"storage", driverName(cfg),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger, daemon)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Warmup(ctx); err != nil {
		// A failed warmup is not fatal: the loop retries on its own schedule.
		logger.Warn("catalog warmup failed", "error", err)
	}

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := engine.Sync(ctx)
		if err != nil {
			return err
		}
		logger.Info("sync complete",
			"replayed", stats.Replayed,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
		if engine.IsDataStale() {
			if _, err := engine.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("refreshing catalog: %w", err)
			}
			logger.Info("catalog refreshed")
		}
		return nil
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildEngine opens the local store and assembles the engine with its remote
// client, cache, queue, and connectivity monitor. When watchNet is true the
// monitor polls in the background; otherwise it probes once and stays put.
// cleanup closes the store and must be deferred by the caller.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, watchNet bool) (*syncp.Engine, func(), error) {
	kv, err := storage.Open(storage.Driver(cfg.Storage.Driver), cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening local store at %q: %w", cfg.Storage.Path, err)
	}
	cleanup := func() {
		if closeErr := kv.Close(); closeErr != nil {
			logger.Error("closing local store", "error", closeErr)
		}
	}

	client, err := remote.NewClient(cfg.APIURL, cfg.APIToken, 0, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initialising API client: %w", err)
	}

	monitor := netmon.New(netmon.HTTPProbe(cfg.APIURL, 5*time.Second), 0, logger)
	monitor.Refresh(ctx)
	if watchNet {
		go monitor.Run(ctx)
	}

	catalogCache := cache.New[model.Module](kv, catalogDomain, catalogSchemaVersion, cfg.CacheTTL,
		func(m model.Module) string { return m.ID }, logger)
	actionQueue := queue.New(kv, catalogDomain, logger)

	engine, err := syncp.New(ctx, syncp.Config{
		Source:       client,
		Dispatcher:   client,
		Net:          monitor,
		Cache:        catalogCache,
		Queue:        actionQueue,
		KV:           kv,
		Domain:       catalogDomain,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initialising sync engine: %w", err)
	}
	return engine, cleanup, nil
}

func driverName(cfg *config.Config) string {
	if storage.Driver(cfg.Storage.Driver) == storage.DriverBadger {
		return "badger"
	}
	return "sqlite"
}

// dbSize totals a badger directory or returns the sqlite file size as-is.
func dbSize(path string, info os.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	entries, err := os.ReadDir(path)
	if err != nil {
		return info.Size()
	}
	for _, e := range entries {
		if fi, err := e.Info(); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
