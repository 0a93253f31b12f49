// Package config discovers and decodes signalflow.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "signalflow.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".signalflow"
)

// Event store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// File is the shape of signalflow.yaml.
type File struct {
	LogLevel  string          `yaml:"log_level,omitempty"`
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	Events    EventsConfig    `yaml:"events,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Schedules []Schedule      `yaml:"schedules,omitempty"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxWhileIterations int `yaml:"max_while_iterations,omitempty"`
}

// EventsConfig selects where run events are persisted.
type EventsConfig struct {
	Store          string `yaml:"store,omitempty"`
	SQLiteDSN      string `yaml:"sqlite_dsn,omitempty"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`
	RedisPassword  string `yaml:"redis_password,omitempty"`
	RedisDB        int    `yaml:"redis_db,omitempty"`
	RedisPrefix    string `yaml:"redis_prefix,omitempty"`
	Retention      string `yaml:"retention,omitempty"`
	RetentionCount int    `yaml:"retention_count,omitempty"`
	// ThrottleMs coalesces stream delta events; 0 keeps every delta.
	ThrottleMs int `yaml:"throttle_ms,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty"`
	SampleRatio  float64 `yaml:"sample_ratio,omitempty"`
}

// Schedule triggers a workflow file on a cron expression.
type Schedule struct {
	Name  string         `yaml:"name"`
	Cron  string         `yaml:"cron"`
	Graph string         `yaml:"graph"`
	Input map[string]any `yaml:"input,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() File {
	return File{
		LogLevel: "info",
		Events: EventsConfig{
			Store:     StoreMemory,
			SQLiteDSN: "file:signalflow-events.db",
		},
		Telemetry: TelemetryConfig{ServiceName: "signalflow"},
	}
}

// Discover resolves the config location with first-match semantics: the
// explicit path, then ./signalflow.yaml, then ~/.signalflow/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return DiscoverFrom(explicitPath, cwd, home)
}

// DiscoverFrom is Discover with explicit working and home directories.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	var candidates []string
	if explicit != "" {
		candidates = []string{filepath.Clean(explicit)}
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, true, nil
		case errors.Is(err, os.ErrNotExist) || err == nil:
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
		default:
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load discovers and decodes the configuration. Missing files yield
// Default(); values present in the file override the defaults.
func Load(explicitPath string) (File, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return File{}, "", err
	}
	if !found {
		return Default(), "", nil
	}
	cfg, err := LoadFile(path)
	return cfg, path, err
}

// LoadFile decodes one config file on top of Default().
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from discovery
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return File{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be checked by decoding alone.
func (f File) Validate() error {
	if _, err := ParseLevel(f.LogLevel); err != nil {
		return err
	}
	switch f.Events.Store {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if f.Events.RedisAddr == "" {
			return errors.New("events.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown events.store %q", f.Events.Store)
	}
	if _, err := f.Events.RetentionAge(); err != nil {
		return err
	}
	if f.Engine.MaxWhileIterations < 0 {
		return errors.New("engine.max_while_iterations must not be negative")
	}
	if f.Telemetry.SampleRatio < 0 || f.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	seen := make(map[string]bool, len(f.Schedules))
	for i, s := range f.Schedules {
		if s.Name == "" || s.Cron == "" || s.Graph == "" {
			return fmt.Errorf("schedules[%d]: name, cron and graph are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// RetentionAge parses events.retention ("72h", "30m"). Empty means keep
// forever.
func (e EventsConfig) RetentionAge() (time.Duration, error) {
	if e.Retention == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Retention)
	if err != nil {
		return 0, fmt.Errorf("events.retention: %w", err)
	}
	return d, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log_level %q", name)
	}
	return l, nil
}
