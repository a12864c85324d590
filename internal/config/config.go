// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults
const (
	DefaultStorePath      = ".careercraft/records.json"
	DefaultIngestURL      = "http://localhost:8000"
	DefaultPort           = 8080
	DefaultLogLevel       = "info"
	DefaultMaxFileSizeMB  = 10
	DefaultTickIntervalMs = 100
	DefaultTimeoutFactor  = 3.0
	DefaultCollection     = "careercraft-saved-resumes"
)

// Environment variables that override file values
const (
	EnvStorePath   = "CAREERCRAFT_STORE_PATH"
	EnvDatabaseURL = "DATABASE_URL"
	EnvIngestURL   = "INGEST_BACKEND_URL"
	EnvPort        = "PORT"
	EnvLogLevel    = "LOG_LEVEL"
	EnvMaxFileSize = "CAREERCRAFT_MAX_FILE_SIZE_MB"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults.
type Config struct {
	// Storage
	StorePath   string `json:"store_path,omitempty"`   // Record collection file, used when no database is configured
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	Collection  string `json:"collection,omitempty"`   // Collection name in the database

	// Ingestion backend
	IngestURL string `json:"ingest_url,omitempty"` // Base URL of the parse/embed/index service

	// Pipeline
	MaxFileSizeMB     int     `json:"max_file_size_mb,omitempty"`    // Upload size limit
	TickIntervalMs    int     `json:"tick_interval_ms,omitempty"`    // Progress sampling period
	TimeoutFactor     float64 `json:"timeout_factor,omitempty"`      // Run timeout as a multiple of summed stage estimates
	RunTimeoutSeconds int     `json:"run_timeout_seconds,omitempty"` // Fixed run timeout, overrides timeout_factor
	PaceStages        *bool   `json:"pace_stages,omitempty"`         // Hold early stages for their estimated duration

	// Server
	Port int `json:"port,omitempty"`

	// Behavior
	LogLevel string `json:"log_level,omitempty"` // debug, info, warn or error
	Verbose  bool   `json:"verbose,omitempty"`   // Print detailed progress boxes
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	pace := true
	return Config{
		StorePath:      DefaultStorePath,
		Collection:     DefaultCollection,
		IngestURL:      DefaultIngestURL,
		MaxFileSizeMB:  DefaultMaxFileSizeMB,
		TickIntervalMs: DefaultTickIntervalMs,
		TimeoutFactor:  DefaultTimeoutFactor,
		PaceStages:     &pace,
		Port:           DefaultPort,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load resolves the effective configuration: the file at path (if any),
// then environment overrides, then defaults for anything still unset.
func Load(path string) (Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	return merged, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvStorePath); ok {
		c.StorePath = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		c.DatabaseURL = v
	}
	if v, ok := get(EnvIngestURL); ok {
		c.IngestURL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: %s must be an integer: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := get(EnvMaxFileSize); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: %s must be an integer: %w", EnvMaxFileSize, err)
		}
		c.MaxFileSizeMB = size
	}
	return nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	// Validate numeric ranges
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.MaxFileSizeMB < 0 {
		return fmt.Errorf("config error: 'max_file_size_mb' must be non-negative")
	}
	if c.TickIntervalMs < 0 {
		return fmt.Errorf("config error: 'tick_interval_ms' must be non-negative")
	}
	if c.TimeoutFactor < 0 {
		return fmt.Errorf("config error: 'timeout_factor' must be non-negative")
	}
	if c.TimeoutFactor > 0 && c.TimeoutFactor < 1 {
		return fmt.Errorf("config error: 'timeout_factor' must be at least 1 so runs can finish within their estimate")
	}
	if c.RunTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'run_timeout_seconds' must be non-negative")
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("config error: unknown log level %q", c.LogLevel)
	}

	if c.IngestURL != "" {
		u, err := url.Parse(c.IngestURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config error: 'ingest_url' must be an http(s) URL: %s", c.IngestURL)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.StorePath == "" {
		result.StorePath = defaults.StorePath
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.Collection == "" {
		result.Collection = defaults.Collection
	}
	if result.IngestURL == "" {
		result.IngestURL = defaults.IngestURL
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}

	// Int fields: use default if zero
	if result.MaxFileSizeMB == 0 {
		result.MaxFileSizeMB = defaults.MaxFileSizeMB
	}
	if result.TickIntervalMs == 0 {
		result.TickIntervalMs = defaults.TickIntervalMs
	}
	if result.RunTimeoutSeconds == 0 {
		result.RunTimeoutSeconds = defaults.RunTimeoutSeconds
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Float fields
	if result.TimeoutFactor == 0 {
		result.TimeoutFactor = defaults.TimeoutFactor
	}

	// Pointer bools distinguish unset from false
	if result.PaceStages == nil {
		result.PaceStages = defaults.PaceStages
	}

	// Verbose cannot distinguish unset from false, so it is not merged
	// (CLI flags should always win for bools)

	return result
}

// MaxFileSizeBytes returns the upload limit in bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// TickInterval returns the progress sampling period.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// RunTimeout returns the fixed run timeout, or zero when the factor applies.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// PaceStagesEnabled reports whether early stages are paced. Unset means true.
func (c Config) PaceStagesEnabled() bool {
	return c.PaceStages == nil || *c.PaceStages
}
