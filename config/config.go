// Package config loads the console configuration (TOML).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath    = "wa-console.toml"
	DefaultBaseURL       = "http://localhost:8000"
	DefaultListenAddr    = "127.0.0.1:8090"
	DefaultLogLevel      = "info"
	DefaultLogDir        = "logs"
	DefaultTimeout       = 30 * time.Second
	DefaultPollInterval  = 30 * time.Second
	DefaultPanelInterval = 5 * time.Second
	DefaultDebounce      = 300 * time.Millisecond
	DefaultNoticeTTL     = 3 * time.Second
	DefaultConcurrency   = 4

	EnvBaseURL = "WA_CONSOLE_BASE_URL"
	EnvToken   = "WA_CONSOLE_TOKEN"
)

// Config is the root configuration loaded from TOML.
type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Log       LogConfig       `toml:"log"`
	Sync      SyncConfig      `toml:"sync"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

// BackendConfig holds the platform API location and credentials.
type BackendConfig struct {
	BaseURL string `toml:"base_url"`
	// PublicURL is the address landing links are shared with; defaults to BaseURL
	PublicURL string   `toml:"public_url"`
	Token     string   `toml:"token"`
	Timeout   Duration `toml:"timeout"`
}

// LogConfig holds the log level and the directory of the log file.
type LogConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// SyncConfig holds the polling, debounce and notice timings.
type SyncConfig struct {
	PollInterval  Duration `toml:"poll_interval"`
	PanelInterval Duration `toml:"panel_interval"`
	Debounce      Duration `toml:"debounce"`
	NoticeTTL     Duration `toml:"notice_ttl"`
	Concurrency   int      `toml:"concurrency"`
}

// DashboardConfig holds the local dashboard listen address.
type DashboardConfig struct {
	Listen string `toml:"listen"`
}

// Duration is a time.Duration decoded from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: DefaultBaseURL,
			Timeout: Duration{DefaultTimeout},
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
			Dir:   DefaultLogDir,
		},
		Sync: SyncConfig{
			PollInterval:  Duration{DefaultPollInterval},
			PanelInterval: Duration{DefaultPanelInterval},
			Debounce:      Duration{DefaultDebounce},
			NoticeTTL:     Duration{DefaultNoticeTTL},
			Concurrency:   DefaultConcurrency,
		},
		Dashboard: DashboardConfig{
			Listen: DefaultListenAddr,
		},
	}
}

// Load reads the TOML file at path, applies defaults for missing fields and
// then the environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Backend.Token = v
	}
}

// Validate rejects values the sync layer cannot run with.
func (c Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Timeout.Duration <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.Sync.PollInterval.Duration < 0 || c.Sync.PanelInterval.Duration < 0 {
		return fmt.Errorf("poll intervals cannot be negative")
	}
	return nil
}

// PublicBase returns the base used for shared landing links.
func (c BackendConfig) PublicBase() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return c.BaseURL
}
