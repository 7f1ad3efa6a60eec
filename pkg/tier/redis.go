package tier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Backend = (*Redis)(nil)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// Redis is a durable tier backed by Redis. Keys get a native expiry equal
// to the ttl hint so abandoned entries disappear even without a sweep.
type Redis struct {
	redis *redis.Client
}

// NewRedis creates a Redis tier.
func NewRedis(redisClient *redis.Client) *Redis {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{redis: redisClient}
}

// Name returns "redis".
func (r *Redis) Name() string { return "redis" }

// Get returns the stored value.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, newError(r.Name(), "get", KindNotFound, key, nil)
		}
		return nil, newError(r.Name(), "get", classifyRedis(err), key, err)
	}
	return data, nil
}

// Set stores value with ttl as native expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return newError(r.Name(), "set", classifyRedis(err), key, err)
	}
	return nil
}

// Remove deletes key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, key).Err(); err != nil {
		return newError(r.Name(), "remove", classifyRedis(err), key, err)
	}
	return nil
}

// Keys lists keys with the given prefix using SCAN.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.redis.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, newError(r.Name(), "keys", classifyRedis(err), "", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Clear removes every key with the given prefix.
func (r *Redis) Clear(ctx context.Context, prefix string) error {
	keys, err := r.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := r.redis.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return newError(r.Name(), "clear", classifyRedis(err), "", fmt.Errorf("delete %d keys: %w", len(keys), err))
	}
	return nil
}

// classifyRedis maps an OOM reply to KindQuotaExceeded and everything else
// to KindUnavailable.
func classifyRedis(err error) Kind {
	var redisErr redis.Error
	if errors.As(err, &redisErr) && strings.HasPrefix(redisErr.Error(), "OOM") {
		return KindQuotaExceeded
	}
	return KindUnavailable
}
