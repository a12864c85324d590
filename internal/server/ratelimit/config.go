package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by LoadConfig
const (
	EnvEnabled         = "RATE_LIMIT_ENABLED"
	EnvDefaultLimit    = "RATE_LIMIT_DEFAULT_LIMIT"
	EnvDefaultWindow   = "RATE_LIMIT_DEFAULT_WINDOW"
	EnvUploadLimit     = "RATE_LIMIT_UPLOAD_LIMIT"
	EnvCleanupInterval = "RATE_LIMIT_CLEANUP_INTERVAL"
	EnvAllowlist       = "RATE_LIMIT_WHITELIST"
	EnvDenylist        = "RATE_LIMIT_BLACKLIST"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	// IdleTTL is how long an untouched bucket survives cleanup. Zero means one hour.
	IdleTTL   time.Duration
	Allowlist map[string]bool
	Denylist  map[string]bool
	Endpoints []EndpointConfig
}

// EndpointConfig is a per-route limit. A Path ending in "/" matches by prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // Requests per Window; zero or less means unlimited
	Window time.Duration
	Burst  int // Bucket capacity, Limit when zero
}

// DefaultConfig returns the built-in limits without consulting the environment.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Allowlist:       map[string]bool{},
		Denylist:        map[string]bool{},
		Endpoints:       DefaultEndpoints(30),
	}
}

// LoadConfig builds the configuration from environment variables.
func LoadConfig() *Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) *Config {
	env := envReader(getenv)
	if !env.boolean(EnvEnabled, true) {
		return &Config{Enabled: false}
	}

	cfg := DefaultConfig()
	cfg.DefaultLimit = env.integer(EnvDefaultLimit, cfg.DefaultLimit)
	cfg.DefaultWindow = env.duration(EnvDefaultWindow, cfg.DefaultWindow)
	cfg.CleanupInterval = env.duration(EnvCleanupInterval, cfg.CleanupInterval)
	cfg.Allowlist = parseIPList(getenv(EnvAllowlist))
	cfg.Denylist = parseIPList(getenv(EnvDenylist))
	cfg.Endpoints = DefaultEndpoints(env.integer(EnvUploadLimit, 30))
	return cfg
}

// DefaultEndpoints returns the route tiers. Uploads run the whole ingestion
// pipeline and get the strict tier; deletes are moderate; reads fall back
// to the default limit.
func DefaultEndpoints(uploadsPerHour int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/uploads", Method: "POST", Limit: uploadsPerHour, Window: time.Hour, Burst: 3},
		{Path: "/records/", Method: "DELETE", Limit: 100, Window: time.Minute, Burst: 10},
	}
}

type envReader func(string) string

func (e envReader) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(e(key)); err == nil {
		return n
	}
	return fallback
}

func (e envReader) boolean(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(e(key)); err == nil {
		return b
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e(key)); err == nil {
		return d
	}
	return fallback
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
