// Package config loads runtime settings and configuration documents.
//
// Settings live in a YAML file (reveal.yaml) merged over DefaultConfig.
// Documents (areas, elements, rules) are authored in CUE, JSON or YAML and
// all go through the same compiler path.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the settings file looked up when none is given.
const DefaultConfigPath = "reveal.yaml"

// Source names accepted by Sync.Primary and Sync.Mirrors.
const (
	SourceMemory    = "memory"
	SourceSQLite    = "sqlite"
	SourcePostgres  = "postgres"
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
)

// Config holds all runtime settings.
type Config struct {
	UserID     string           `yaml:"user_id"`
	Adaptation AdaptationConfig `yaml:"adaptation"`
	Retention  RetentionConfig  `yaml:"retention"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Highlight  HighlightConfig  `yaml:"highlight"`
	Sync       SyncConfig       `yaml:"sync"`
	Sources    SourcesConfig    `yaml:"sources"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AdaptationConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	Epsilon      float64 `yaml:"epsilon"`
	Window       int     `yaml:"window"`
}

type RetentionConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`
}

type VisibilityConfig struct {
	AdvancedThreshold float64 `yaml:"advanced_threshold"`
	ExpertThreshold   float64 `yaml:"expert_threshold"`
}

type HighlightConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Duration time.Duration `yaml:"duration"` // 0 keeps highlights until seen
}

type SyncConfig struct {
	Primary     string        `yaml:"primary"`
	Mirrors     []string      `yaml:"mirrors"`
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SourcesConfig struct {
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type APIConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type WebSocketConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if a := c.Adaptation.LearningRate; a <= 0 || a > 1 {
		errs = append(errs, fmt.Errorf("adaptation.learning_rate %v outside (0,1]", a))
	}
	if c.Adaptation.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("adaptation.epsilon must be >= 0"))
	}
	if c.Adaptation.Window < 1 {
		errs = append(errs, fmt.Errorf("adaptation.window must be >= 1"))
	}
	if c.Retention.MaxEntries < 0 || c.Retention.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("retention limits must be >= 0"))
	}

	v := c.Visibility
	if v.AdvancedThreshold < 0 || v.AdvancedThreshold > 1 || v.ExpertThreshold < 0 || v.ExpertThreshold > 1 {
		errs = append(errs, fmt.Errorf("visibility thresholds must be within [0,1]"))
	}
	if v.AdvancedThreshold > v.ExpertThreshold {
		errs = append(errs, fmt.Errorf("visibility.advanced_threshold %v exceeds expert_threshold %v",
			v.AdvancedThreshold, v.ExpertThreshold))
	}
	if c.Highlight.Duration < 0 {
		errs = append(errs, fmt.Errorf("highlight.duration must be >= 0"))
	}

	if c.Sync.Primary != "" && !c.configured(c.Sync.Primary) {
		errs = append(errs, fmt.Errorf("sync.primary %q is not a configured source", c.Sync.Primary))
	}
	for _, m := range c.Sync.Mirrors {
		if !c.configured(m) {
			errs = append(errs, fmt.Errorf("sync.mirrors: %q is not a configured source", m))
		}
	}
	if c.Sync.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("sync.parallelism must be >= 0"))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// configured reports whether the named source has the settings it needs.
func (c *Config) configured(name string) bool {
	switch name {
	case SourceMemory:
		return true
	case SourceSQLite:
		return c.Sources.SQLite.Path != ""
	case SourcePostgres:
		return c.Sources.Postgres.DSN != ""
	case SourceAPI:
		return c.Sources.API.URL != ""
	case SourceWebSocket:
		return c.Sources.WebSocket.URL != ""
	default:
		return false
	}
}

// ParseLevel maps a logging.level setting to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q: want debug, info, warn or error", s)
	}
}
