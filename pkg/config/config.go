// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Durable backend names accepted by DURABLE_BACKEND.
const (
	DurableRedis  = "redis"
	DurableSQLite = "sqlite"
	DurableMemory = "memory"
)

// Config holds everything the proxy needs to wire the cache and storage chain.
type Config struct {
	// CRM API
	APIBaseURL string `env:"CRM_API_BASE_URL" envDefault:"http://localhost:3000"`
	UserAgent  string `env:"CRM_USER_AGENT" envDefault:"crm-cache/0.1.0"`

	// HTTP server
	Port string `env:"PORT" envDefault:"8080"`

	// Durable tier
	DurableBackend string `env:"DURABLE_BACKEND" envDefault:"redis"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"crm-cache.db"`
	SQLiteMaxPages int    `env:"SQLITE_MAX_PAGES" envDefault:"0"`

	// Session tier
	SessionCacheMB int `env:"SESSION_CACHE_MB" envDefault:"64"`

	// Cache behaviour
	DefaultTTL    time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"5m"`

	// Cookie tier
	CookieMaxBytes int    `env:"COOKIE_MAX_BYTES" envDefault:"4000"`
	CookieSiteURL  string `env:"COOKIE_SITE_URL" envDefault:"http://localhost/"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the cache cannot run with.
func (c Config) Validate() error {
	switch strings.ToLower(c.DurableBackend) {
	case DurableRedis, DurableSQLite, DurableMemory:
	default:
		return fmt.Errorf("durable_backend must be one of redis, sqlite, memory (got %q)", c.DurableBackend)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("cache_default_ttl must be positive (got %s)", c.DefaultTTL)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("cache_sweep_interval must not be negative (got %s)", c.SweepInterval)
	}
	if c.CookieMaxBytes <= 0 {
		return fmt.Errorf("cookie_max_bytes must be positive (got %d)", c.CookieMaxBytes)
	}
	if c.SessionCacheMB < 0 {
		return fmt.Errorf("session_cache_mb must not be negative (got %d)", c.SessionCacheMB)
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("crm_api_base_url is required")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("user-agent is required")
	}
	return nil
}
