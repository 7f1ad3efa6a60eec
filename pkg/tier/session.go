package tier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

var _ Backend = (*Session)(nil)

// SessionConfig configures the session tier.
type SessionConfig struct {
	// SizeMB caps the total memory used. Zero means unbounded.
	SizeMB int

	// LifeWindow is the hard lifetime of any entry, independent of its TTL.
	LifeWindow time.Duration
}

// DefaultSessionConfig returns the session tier defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SizeMB:     64,
		LifeWindow: 30 * time.Minute,
	}
}

// Session is a volatile, process-scoped tier. Its content lives as long as
// the process (the "session") and is lost on restart.
type Session struct {
	cache *bigcache.BigCache
}

// NewSession creates a session tier.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = DefaultSessionConfig().LifeWindow
	}
	config := bigcache.DefaultConfig(cfg.LifeWindow)
	config.HardMaxCacheSize = cfg.SizeMB
	config.CleanWindow = cfg.LifeWindow / 2
	config.Verbose = false

	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return &Session{cache: cache}, nil
}

// Name returns "session".
func (s *Session) Name() string { return "session" }

// Get returns the stored value.
func (s *Session) Get(_ context.Context, key string) ([]byte, error) {
	data, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, newError(s.Name(), "get", KindNotFound, key, nil)
		}
		return nil, newError(s.Name(), "get", KindUnavailable, key, err)
	}
	return data, nil
}

// Set stores value. bigcache rejects entries that do not fit a shard, which
// is reported as KindQuotaExceeded.
func (s *Session) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if err := s.cache.Set(key, value); err != nil {
		return newError(s.Name(), "set", KindQuotaExceeded, key, err)
	}
	return nil
}

// Remove deletes key.
func (s *Session) Remove(_ context.Context, key string) error {
	if err := s.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return newError(s.Name(), "remove", KindUnavailable, key, err)
	}
	return nil
}

// Keys lists keys with the given prefix by iterating every shard.
func (s *Session) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.cache.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			// entry evicted while iterating
			continue
		}
		if strings.HasPrefix(info.Key(), prefix) {
			keys = append(keys, info.Key())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key with the given prefix.
func (s *Session) Clear(ctx context.Context, prefix string) error {
	if prefix == "" {
		if err := s.cache.Reset(); err != nil {
			return newError(s.Name(), "clear", KindUnavailable, "", err)
		}
		return nil
	}
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (s *Session) Len() int {
	return s.cache.Len()
}

// Close releases the underlying cache.
func (s *Session) Close() error {
	return s.cache.Close()
}
