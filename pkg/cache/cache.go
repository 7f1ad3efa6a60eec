package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/crm-cache/pkg/entry"
	"github.com/Sternrassler/crm-cache/pkg/logging"
	"github.com/Sternrassler/crm-cache/pkg/sweep"
	"github.com/Sternrassler/crm-cache/pkg/tier"
)

const (
	// DefaultTTL is applied when Set is called without a positive ttl.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is the background sweep period.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultPrefix namespaces cache entries in the durable tier.
	DefaultPrefix = "crm_cache_"
)

// Options configures a Cache.
type Options struct {
	// Durable mirrors entries across restarts. Nil disables the mirror.
	Durable tier.Backend

	// DefaultTTL for Set calls without a ttl (default: 5m)
	DefaultTTL time.Duration

	// SweepInterval used by StartBackgroundSweep(0) (default: 5m)
	SweepInterval time.Duration

	// Prefix for durable keys (default: crm_cache_)
	Prefix string

	// Clock is the time source (default: wall clock)
	Clock clock.Clock

	// Logger (default: component logger "response-cache")
	Logger *zerolog.Logger
}

// DefaultOptions returns the options used by New for zero fields.
func DefaultOptions() Options {
	return Options{
		Durable:       tier.Nop{},
		DefaultTTL:    DefaultTTL,
		SweepInterval: DefaultSweepInterval,
		Prefix:        DefaultPrefix,
	}
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// Cache is a TTL cache for API responses. The in-process map is the source
// of truth; the durable tier is a best-effort mirror that survives restarts.
type Cache struct {
	durable       tier.Backend
	mirror        bool
	defaultTTL    time.Duration
	sweepInterval time.Duration
	prefix        string
	clock         clock.Clock
	logger        zerolog.Logger
	entries       prometheus.Gauge

	mu     sync.RWMutex
	items  map[string]entry.Entry
	hits   uint64
	misses uint64

	sweepMu sync.Mutex
	sweeper *sweep.Task

	group singleflight.Group
}

// New creates a cache. The background sweep is not started.
func New(opts Options) *Cache {
	if opts.Durable == nil {
		opts.Durable = tier.Nop{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	_, disabled := opts.Durable.(tier.Nop)

	return &Cache{
		durable:       opts.Durable,
		mirror:        !disabled,
		defaultTTL:    opts.DefaultTTL,
		sweepInterval: opts.SweepInterval,
		prefix:        opts.Prefix,
		clock:         opts.Clock,
		logger:        logging.Or(opts.Logger, "response-cache"),
		entries:       CacheEntries.WithLabelValues(opts.Prefix),
		items:         make(map[string]entry.Entry),
	}
}

// Get returns the payload cached under key. The in-process map is consulted
// first, then the durable tier; a live durable hit repopulates the map.
// Expired or corrupt entries found on the way are deleted.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if e.Live(now) {
			c.hits++
			c.mu.Unlock()
			CacheHits.WithLabelValues("memory").Inc()
			return e.Data, true
		}
		delete(c.items, key)
		c.entries.Set(float64(len(c.items)))
		CacheEvictions.WithLabelValues("expired").Inc()
	}
	c.mu.Unlock()

	if e, ok := c.readDurable(ctx, key, now); ok {
		c.mu.Lock()
		// A concurrent Set may have stored a newer entry meanwhile
		if current, exists := c.items[key]; exists && current.Timestamp >= e.Timestamp && current.Live(now) {
			e = current
		} else {
			c.items[key] = e
			c.entries.Set(float64(len(c.items)))
		}
		c.hits++
		c.mu.Unlock()
		CacheHits.WithLabelValues("durable").Inc()
		return e.Data, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	CacheMisses.Inc()

	c.logger.Debug().Str("key", key).Msg("cache miss")
	return nil, false
}

// Lookup returns the cached payload for key decoded into T. A payload that
// does not decode into T is reported as a miss.
func Lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	data, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cached payload does not match requested type")
		return zero, false
	}
	return v, true
}

// Set caches data under key for ttl (DefaultTTL when ttl <= 0). The durable
// mirror is best effort: its failures are logged, never returned. The only
// error is a payload that cannot be marshaled to JSON.
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	payload, err := entry.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	e := entry.New(payload, ttl, c.clock.Now())

	c.mu.Lock()
	c.items[key] = e
	c.entries.Set(float64(len(c.items)))
	c.mu.Unlock()

	c.writeDurable(ctx, key, e)
	return nil
}

// Invalidate removes key from both tiers. Removing an absent key is a no-op.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	if _, ok := c.items[key]; ok {
		delete(c.items, key)
		c.entries.Set(float64(len(c.items)))
		CacheEvictions.WithLabelValues("invalidated").Inc()
	}
	c.mu.Unlock()

	c.removeDurable(ctx, key)
}

// InvalidateAll empties the cache. Durable keys outside the prefix are left
// untouched.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[string]entry.Entry)
	c.entries.Set(0)
	c.mu.Unlock()

	CacheEvictions.WithLabelValues("invalidated").Add(float64(n))

	if !c.mirror {
		return
	}
	if err := c.durable.Clear(ctx, c.prefix); err != nil {
		c.logTierError(err, "clear", "")
	}
}

// InvalidateByPattern compiles pattern as a regular expression and removes
// every key it matches. An invalid pattern is the only error.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	c.InvalidateByRegexp(ctx, re)
	return nil
}

// InvalidateByRegexp removes every key matched by re from both tiers.
func (c *Cache) InvalidateByRegexp(ctx context.Context, re *regexp.Regexp) int {
	removed := 0

	c.mu.Lock()
	for key := range c.items {
		if re.MatchString(key) {
			delete(c.items, key)
			removed++
		}
	}
	c.entries.Set(float64(len(c.items)))
	c.mu.Unlock()

	CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))

	if c.mirror {
		keys, err := c.durable.Keys(ctx, c.prefix)
		if err != nil {
			c.logTierError(err, "keys", "")
		}
		for _, storageKey := range keys {
			key := strings.TrimPrefix(storageKey, c.prefix)
			if re.MatchString(key) {
				c.removeDurable(ctx, key)
			}
		}
	}

	c.logger.Debug().Str("pattern", re.String()).Int("removed", removed).Msg("invalidated by pattern")
	return removed
}

// SweepExpired removes expired entries from both tiers and returns how many
// were removed. Live entries are never touched.
func (c *Cache) SweepExpired(ctx context.Context) int {
	now := c.clock.Now()
	removed := 0

	c.mu.Lock()
	for key, e := range c.items {
		if !e.Live(now) {
			delete(c.items, key)
			removed++
		}
	}
	c.entries.Set(float64(len(c.items)))
	c.mu.Unlock()

	CacheEvictions.WithLabelValues("expired").Add(float64(removed))

	if c.mirror {
		removed += c.sweepDurable(ctx, now)
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("swept expired entries")
	}
	return removed
}

// Stats returns a snapshot of the counters. HitRate is 0 before any lookup.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.items),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the hit and miss counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	c.hits, c.misses = 0, 0
	c.mu.Unlock()
}

// StartBackgroundSweep runs SweepExpired every interval (the configured
// SweepInterval when interval <= 0). Starting twice is a no-op.
func (c *Cache) StartBackgroundSweep(interval time.Duration) {
	if interval <= 0 {
		interval = c.sweepInterval
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	if c.sweeper != nil && c.sweeper.IsRunning() {
		return
	}
	c.sweeper = sweep.New(c.clock, interval, func(ctx context.Context) {
		c.SweepExpired(ctx)
	})
	c.sweeper.Start()
	c.logger.Info().Dur("interval", interval).Msg("background sweep started")
}

// StopBackgroundSweep stops the periodic sweep and waits for a running pass.
func (c *Cache) StopBackgroundSweep() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	if c.sweeper == nil {
		return
	}
	c.sweeper.Stop()
	c.sweeper = nil
}

// Close stops the background sweep. The durable tier is owned by the caller.
func (c *Cache) Close() error {
	c.StopBackgroundSweep()
	return nil
}

func (c *Cache) readDurable(ctx context.Context, key string, now time.Time) (entry.Entry, bool) {
	if !c.mirror {
		return entry.Entry{}, false
	}

	raw, err := c.durable.Get(ctx, c.prefix+key)
	if err != nil {
		if !tier.IsKind(err, tier.KindNotFound) {
			c.logTierError(err, "get", key)
		}
		return entry.Entry{}, false
	}

	e, err := entry.Decode(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("removing corrupt durable entry")
		CacheEvictions.WithLabelValues("corrupt").Inc()
		c.removeDurable(ctx, key)
		return entry.Entry{}, false
	}
	if !e.Live(now) {
		CacheEvictions.WithLabelValues("expired").Inc()
		c.removeDurable(ctx, key)
		return entry.Entry{}, false
	}
	return e, true
}

func (c *Cache) writeDurable(ctx context.Context, key string, e entry.Entry) {
	if !c.mirror {
		return
	}

	raw, err := entry.Encode(e)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("encode entry for durable tier")
		return
	}

	ttl := time.Duration(e.TTL) * time.Millisecond
	err = c.durable.Set(ctx, c.prefix+key, raw, ttl)
	if tier.IsKind(err, tier.KindQuotaExceeded) {
		// Free space held by expired entries and retry once
		c.SweepExpired(ctx)
		err = c.durable.Set(ctx, c.prefix+key, raw, ttl)
	}
	if err != nil {
		c.logTierError(err, "set", key)
	}
}

func (c *Cache) removeDurable(ctx context.Context, key string) {
	if !c.mirror {
		return
	}
	if err := c.durable.Remove(ctx, c.prefix+key); err != nil {
		c.logTierError(err, "remove", key)
	}
}

func (c *Cache) sweepDurable(ctx context.Context, now time.Time) int {
	removed := 0
	if expirer, ok := c.durable.(tier.Expirer); ok {
		n, err := expirer.DeleteExpired(ctx, c.prefix)
		if err != nil {
			c.logTierError(err, "delete_expired", "")
		}
		removed += n
	}

	keys, err := c.durable.Keys(ctx, c.prefix)
	if err != nil {
		c.logTierError(err, "keys", "")
		return removed
	}

	for _, storageKey := range keys {
		raw, err := c.durable.Get(ctx, storageKey)
		switch {
		case tier.IsKind(err, tier.KindNotFound):
			// Listed but hidden by native expiry
		case err != nil:
			c.logTierError(err, "get", storageKey)
			continue
		default:
			if e, err := entry.Decode(raw); err == nil && e.Live(now) {
				continue
			}
		}
		if err := c.durable.Remove(ctx, storageKey); err != nil {
			c.logTierError(err, "remove", storageKey)
			continue
		}
		removed++
	}
	return removed
}

func (c *Cache) logTierError(err error, op, key string) {
	CacheErrors.WithLabelValues(c.durable.Name(), op).Inc()
	c.logger.Warn().
		Err(err).
		Str("tier", c.durable.Name()).
		Str("operation", op).
		Str("key", key).
		Msg("durable cache tier failed")
}
