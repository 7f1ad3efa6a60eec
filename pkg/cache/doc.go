// Package cache provides a TTL cache for CRM API responses.
//
// The in-process map is the source of truth. An optional durable tier
// (Redis, SQLite) mirrors every entry under the "crm_cache_" prefix so a
// restarted process starts warm. Failures of the durable tier are logged and
// counted but never change the outcome of a cache operation.
//
// # Basic Usage
//
//	durable := tier.NewRedis(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	c := cache.New(cache.Options{Durable: durable})
//	defer c.Close()
//
//	key := cache.GenerateKey("/api/contacts", "GET", map[string]any{"page": 2}, nil)
//	if data, ok := c.Get(ctx, key); ok {
//		// serve data
//	}
//	_ = c.Set(ctx, key, contacts, 2*time.Minute)
//
// # Invalidation
//
//	c.Invalidate(ctx, key)                       // single key
//	_ = c.InvalidateByPattern(ctx, "/api/contacts") // regular expression over keys
//	c.InvalidateAll(ctx)
//
// # Expiry
//
// Entries are live while now - timestamp < ttl. Expired entries are removed
// lazily on read and eagerly by SweepExpired, which StartBackgroundSweep runs
// periodically.
//
// # Metrics
//
//   - crm_cache_hits_total{layer} - hits by layer (memory, durable)
//   - crm_cache_misses_total - misses
//   - crm_cache_entries{prefix} - in-process entry count per cache
//   - crm_cache_evictions_total{reason} - removals (expired, corrupt, invalidated)
//   - crm_cache_errors_total{tier,operation} - durable tier failures
package cache
