package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-cache/pkg/entry"
)

// Loader produces the value for a missing cache key.
type Loader func(ctx context.Context) (any, error)

// Fetch returns the cached payload for key, calling load on a miss and
// caching its result for ttl. Concurrent misses for the same key share a
// single load. Loader errors are returned and nothing is cached.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, load Loader) (json.RawMessage, error) {
	if data, ok := c.Get(ctx, key); ok {
		return data, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := entry.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache fetch %q: %w", key, err)
		}
		if err := c.Set(ctx, key, payload, ttl); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str("key", key).Msg("shared in-flight load")
	}
	return v.(json.RawMessage), nil
}
