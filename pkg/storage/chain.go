// Package storage persists named results across a chain of tiers ordered
// fastest first: session, durable, cookie.
//
// Reads walk the chain and back-fill every faster tier from the first live
// hit. Writes go to every tier. A tier that fails or declines a value never
// fails the operation; the remaining tiers still serve it.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/crm-cache/pkg/entry"
	"github.com/Sternrassler/crm-cache/pkg/logging"
	"github.com/Sternrassler/crm-cache/pkg/sweep"
	"github.com/Sternrassler/crm-cache/pkg/tier"
)

const (
	// DefaultTTL is applied when SetResult is called without a positive ttl.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is the background sweep period.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultPrefix namespaces results in every tier.
	DefaultPrefix = "crm_result_"
)

// Options configures a Chain.
type Options struct {
	// DefaultTTL for SetResult calls without a ttl (default: 5m)
	DefaultTTL time.Duration

	// SweepInterval used by StartBackgroundSweep(0) (default: 5m)
	SweepInterval time.Duration

	// Prefix for keys in every tier (default: crm_result_)
	Prefix string

	// Clock is the time source (default: wall clock)
	Clock clock.Clock

	// Logger (default: component logger "result-storage")
	Logger *zerolog.Logger
}

// Chain is an ordered list of storage tiers.
type Chain struct {
	tiers         []tier.Backend
	defaultTTL    time.Duration
	sweepInterval time.Duration
	prefix        string
	clock         clock.Clock
	logger        zerolog.Logger

	sweepMu sync.Mutex
	sweeper *sweep.Task
}

// NewChain creates a chain over tiers, fastest first. Nil tiers are skipped.
func NewChain(opts Options, tiers ...tier.Backend) *Chain {
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

	active := make([]tier.Backend, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			active = append(active, t)
		}
	}

	return &Chain{
		tiers:         active,
		defaultTTL:    opts.DefaultTTL,
		sweepInterval: opts.SweepInterval,
		prefix:        opts.Prefix,
		clock:         opts.Clock,
		logger:        logging.Or(opts.Logger, "result-storage"),
	}
}

// New creates the canonical session, durable, cookie chain. Pass tier.Nop{}
// (or nil) for a medium the host does not have.
func New(opts Options, session, durable, cookie tier.Backend) *Chain {
	return NewChain(opts, session, durable, cookie)
}

// Tiers returns the tier names in lookup order.
func (c *Chain) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name()
	}
	return names
}

// GetResult returns the payload stored under key by the fastest tier holding
// a live entry. Expired or corrupt entries are removed from the tier they were
// found in. A hit is copied into every faster tier with its original
// timestamp and ttl.
func (c *Chain) GetResult(ctx context.Context, key string) (json.RawMessage, bool) {
	storageKey := c.prefix + key
	now := c.clock.Now()

	for i, t := range c.tiers {
		raw, err := t.Get(ctx, storageKey)
		if err != nil {
			c.logTierError(t, "get", key, err)
			continue
		}

		e, err := entry.Decode(raw)
		if err != nil {
			c.logger.Warn().Err(err).Str("tier", t.Name()).Str("key", key).Msg("removing corrupt result")
			c.remove(ctx, t, key)
			continue
		}
		if !e.Live(now) {
			c.remove(ctx, t, key)
			continue
		}

		StorageHits.WithLabelValues(t.Name()).Inc()
		c.backfill(ctx, c.tiers[:i], key, raw, e.Remaining(now))
		return e.Data, true
	}

	StorageMisses.Inc()
	return nil, false
}

// Get returns the stored result for key decoded into T. A payload that does
// not decode into T is reported as absent.
func Get[T any](ctx context.Context, c *Chain, key string) (T, bool) {
	var zero T
	data, ok := c.GetResult(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("stored result does not match requested type")
		return zero, false
	}
	return v, true
}

// SetResult stores data under key in every tier for ttl (DefaultTTL when
// ttl <= 0). Tier failures are logged and swallowed; a tier that rejects
// the value as too large is skipped and loses any older copy of key. The
// only error is a payload that cannot be marshaled to JSON.
func (c *Chain) SetResult(ctx context.Context, key string, data any, ttl time.Duration) error {
	payload, err := entry.Marshal(data)
	if err != nil {
		return fmt.Errorf("store result %q: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := entry.Encode(entry.New(payload, ttl, c.clock.Now()))
	if err != nil {
		return fmt.Errorf("store result %q: %w", key, err)
	}

	for _, t := range c.tiers {
		err := t.Set(ctx, c.prefix+key, raw, ttl)
		if err == nil {
			continue
		}
		c.logTierError(t, "set", key, err)
		if tier.IsKind(err, tier.KindTooLarge) {
			// Drop the older copy so this tier cannot serve it later
			c.remove(ctx, t, key)
		}
	}
	return nil
}

// ClearResult removes key from every tier. Clearing an absent key is a no-op.
func (c *Chain) ClearResult(ctx context.Context, key string) {
	for _, t := range c.tiers {
		c.remove(ctx, t, key)
	}
}

// ClearExpired removes expired and corrupt results from every tier that can
// enumerate its keys and returns the number removed. Cookies are left to
// expire on their own.
func (c *Chain) ClearExpired(ctx context.Context) int {
	now := c.clock.Now()
	removed := 0

	for _, t := range c.tiers {
		if expirer, ok := t.(tier.Expirer); ok {
			n, err := expirer.DeleteExpired(ctx, c.prefix)
			if err != nil {
				c.logTierError(t, "delete_expired", "", err)
			}
			removed += n
		}

		keys, err := t.Keys(ctx, c.prefix)
		if err != nil {
			c.logTierError(t, "keys", "", err)
			continue
		}
		for _, storageKey := range keys {
			raw, err := t.Get(ctx, storageKey)
			switch {
			case tier.IsKind(err, tier.KindNotFound):
				// Listed but hidden by native expiry
			case err != nil:
				c.logTierError(t, "get", storageKey, err)
				continue
			default:
				if e, err := entry.Decode(raw); err == nil && e.Live(now) {
					continue
				}
			}
			if err := t.Remove(ctx, storageKey); err != nil {
				c.logTierError(t, "remove", storageKey, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("cleared expired results")
	}
	return removed
}

// ClearAll removes every result from the tiers that support it. Keys outside
// the prefix are untouched.
func (c *Chain) ClearAll(ctx context.Context) {
	for _, t := range c.tiers {
		if err := t.Clear(ctx, c.prefix); err != nil {
			c.logTierError(t, "clear", "", err)
		}
	}
}

// StartBackgroundSweep runs ClearExpired every interval (the configured
// SweepInterval when interval <= 0). Starting twice is a no-op.
func (c *Chain) StartBackgroundSweep(interval time.Duration) {
	if interval <= 0 {
		interval = c.sweepInterval
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	if c.sweeper != nil && c.sweeper.IsRunning() {
		return
	}
	c.sweeper = sweep.New(c.clock, interval, func(ctx context.Context) {
		c.ClearExpired(ctx)
	})
	c.sweeper.Start()
}

// StopBackgroundSweep stops the periodic sweep.
func (c *Chain) StopBackgroundSweep() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	if c.sweeper == nil {
		return
	}
	c.sweeper.Stop()
	c.sweeper = nil
}

// Close stops the background sweep. Tiers are owned by the caller.
func (c *Chain) Close() error {
	c.StopBackgroundSweep()
	return nil
}

func (c *Chain) backfill(ctx context.Context, faster []tier.Backend, key string, raw []byte, ttl time.Duration) {
	for _, t := range faster {
		if err := t.Set(ctx, c.prefix+key, raw, ttl); err != nil {
			c.logTierError(t, "backfill", key, err)
			continue
		}
		StorageBackfills.WithLabelValues(t.Name()).Inc()
	}
}

func (c *Chain) remove(ctx context.Context, t tier.Backend, key string) {
	if err := t.Remove(ctx, c.prefix+key); err != nil {
		c.logTierError(t, "remove", key, err)
	}
}

func (c *Chain) logTierError(t tier.Backend, op, key string, err error) {
	switch kind := tier.KindOf(err); kind {
	case tier.KindNotFound:
		return
	case tier.KindTooLarge, tier.KindUnsupported:
		StorageSkips.WithLabelValues(t.Name(), string(kind)).Inc()
		c.logger.Debug().Err(err).Str("tier", t.Name()).Str("operation", op).Str("key", key).Msg("tier skipped")
		return
	}

	// A disabled medium is expected, not a failure worth a warning
	if _, disabled := t.(tier.Nop); disabled {
		return
	}

	StorageErrors.WithLabelValues(t.Name(), op).Inc()
	c.logger.Warn().
		Err(err).
		Str("tier", t.Name()).
		Str("operation", op).
		Str("key", key).
		Msg("result storage tier failed")
}
