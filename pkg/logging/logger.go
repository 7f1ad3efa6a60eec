// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	if lvl, err := ParseLevel(string(level)); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}

// ParseLevel validates a level name from configuration.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Or dereferences l, falling back to a component logger when l is nil.
func Or(l *zerolog.Logger, component string) zerolog.Logger {
	if l == nil {
		return NewLogger(component)
	}
	return *l
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Tier skips (oversized cookie, unsupported enumeration)
//   - Back-fills from slower tiers
//
// Info: Normal operation events
//   - Sweep results with removed entries
//   - Invalidations by pattern
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Tier failures (storage unavailable, quota exceeded, corrupt entries)
//   - Retry attempts
//   - Durable mirror write failures
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Configuration errors
//
// Context Fields:
//   - key: cache or storage key
//   - tier: storage tier name (session, redis, sqlite, cookie)
//   - kind: storage error kind
//   - endpoint: CRM API path
//   - status_code: HTTP status code
//   - error_class: error classification (client, server, rate_limit, network)
//   - ttl: entry TTL
//   - removed: entries removed by a sweep
