package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/courserelay/courserelay/internal/config"
	"github.com/courserelay/courserelay/internal/remote"
	"github.com/courserelay/courserelay/internal/storage"
)

// Wizard guides the user through first-run configuration: API connection,
// local storage, sync intervals, and writing the config file.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer

	// ping validates the API credentials; tests stub it out.
	ping func(ctx context.Context, apiURL, token string) error
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
		ping:   pingAPI,
	}
}

// Run executes the interactive setup wizard.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to CourseRelay Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard will configure offline sync for your learning platform.\n\n")

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: API connection.
	fmt.Fprintf(wiz.w, "Step 1/3 — Learning Platform API\n")

	apiURL := wiz.prompt.String("API URL", "https://api.example.com")
	apiToken := wiz.prompt.Secret("Access token")

	fmt.Fprintf(wiz.w, "  Connecting to the API...")
	if err := wiz.ping(ctx, apiURL, apiToken); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach the API: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: Local storage and intervals.
	fmt.Fprintf(wiz.w, "Step 2/3 — Local Storage\n")

	driverIdx, err := wiz.prompt.Select("Storage backend", []string{
		"SQLite (single file, default)",
		"BadgerDB (LSM tree, faster for large catalogs)",
	})
	if err != nil {
		return fmt.Errorf("selecting storage backend: %w", err)
	}
	driver := storage.DriverSQLite
	if driverIdx == 1 {
		driver = storage.DriverBadger
	}

	pollStr := wiz.prompt.String("How often to sync in the background? (10s–30m)", "1m")
	pollInterval, parseErr := time.ParseDuration(pollStr)
	if parseErr != nil {
		pollInterval = time.Minute
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 1m)\n")
	}

	ttlStr := wiz.prompt.String("How long may cached data serve offline reads?", "24h")
	cacheTTL, parseErr := time.ParseDuration(ttlStr)
	if parseErr != nil {
		cacheTTL = 24 * time.Hour
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 24h)\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Write config.
	fmt.Fprintf(wiz.w, "Step 3/3 — Save Configuration\n")

	cfg := &config.Config{
		APIURL:       apiURL,
		APIToken:     apiToken,
		PollInterval: pollInterval,
		CacheTTL:     cacheTTL,
		Storage:      config.StorageConfig{Driver: string(driver)},
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	fmt.Fprintf(wiz.w, "Setup complete!\n")
	fmt.Fprintf(wiz.w, "  Run in the background with: courserelay daemon\n")
	fmt.Fprintf(wiz.w, "  Sync once with:             courserelay sync\n")
	fmt.Fprintf(wiz.w, "  Check state with:           courserelay status\n\n")

	return nil
}

// pingAPI validates the URL and token with one authenticated health check.
func pingAPI(ctx context.Context, apiURL, token string) error {
	client, err := remote.NewClient(apiURL, token, 10*time.Second, slog.Default())
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}
