// Package config loads and validates the CourseRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/courserelay/courserelay/internal/storage"
)

// Config holds the full application configuration. Values are loaded from
// YAML first, then overridden by COURSERELAY_* environment variables, so
// secrets like the API token can stay out of the file.
type Config struct {
	// APIURL is the base URL of the learning-platform API
	// (e.g. "https://api.example.com").
	APIURL string `yaml:"api_url" env:"COURSERELAY_API_URL"`

	// APIToken is the bearer token used to authenticate API requests.
	APIToken string `yaml:"api_token" env:"COURSERELAY_API_TOKEN"`

	// PollInterval controls how often the daemon checks for pending actions
	// and stale data. Minimum 10s, maximum 30m. Defaults to 1m if unset.
	PollInterval time.Duration `yaml:"poll_interval" env:"COURSERELAY_POLL_INTERVAL"`

	// CacheTTL is how long a cached catalog snapshot stays usable without a
	// refresh. Minimum 1m. Defaults to 24h if unset.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"COURSERELAY_CACHE_TTL"`

	// Storage selects and locates the durable key-value store.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "badger".
	Driver string `yaml:"driver" env:"COURSERELAY_STORAGE_DRIVER"`

	// Path is the database location. Defaults to
	// ~/.local/share/courserelay/courserelay.db for sqlite and
	// ~/.local/share/courserelay/badger for badger.
	Path string `yaml:"path" env:"COURSERELAY_STORAGE_PATH"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"COURSERELAY_OTLP_ENDPOINT"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "courserelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/courserelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "courserelay", "config.yaml"), nil
}

// Load reads the configuration file at the given path, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write marshals the config to YAML at path, creating parent directories as
// needed. The file is written 0600 since it holds the API token.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}

	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed, and
// fills defaults for the optional ones.
func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
	}

	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = time.Minute
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > 30*time.Minute {
		return fmt.Errorf("poll_interval %v is too long (maximum 30m)", c.PollInterval)
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.CacheTTL < time.Minute {
		return fmt.Errorf("cache_ttl %v is too short (minimum 1m)", c.CacheTTL)
	}

	switch storage.Driver(c.Storage.Driver) {
	case storage.DriverSQLite, storage.DriverBadger, "":
	default:
		return fmt.Errorf("storage.driver %q must be %q or %q", c.Storage.Driver, storage.DriverSQLite, storage.DriverBadger)
	}
	if c.Storage.Path == "" {
		name := "courserelay.db"
		if storage.Driver(c.Storage.Driver) == storage.DriverBadger {
			name = "badger"
		}
		path, err := storage.DefaultPath(name)
		if err != nil {
			return fmt.Errorf("resolving default storage path: %w", err)
		}
		c.Storage.Path = path
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
