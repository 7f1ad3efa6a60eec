// Package tier provides the storage media behind the response cache and the
// result storage chain.
//
// Every medium implements Backend. Failures are reported as *StorageError so
// callers can decide per kind whether to skip the tier, sweep, or give up:
//
//	data, err := backend.Get(ctx, key)
//	switch {
//	case err == nil:
//		// hit
//	case tier.IsKind(err, tier.KindNotFound):
//		// miss
//	default:
//		// tier failure, degrade to the next tier
//	}
//
// Implementations:
//
//   - Memory: mutex guarded map with an optional byte quota
//   - Nop: storage disabled, every call reports unavailable
//   - Session: process-scoped volatile store backed by bigcache
//   - Redis: durable store backed by Redis
//   - SQLite: durable store backed by a local SQLite file
//   - Cookie: size-capped cookie jar
package tier

import (
	"context"
	"time"
)

//go:generate mockgen -package=mock -source=backend.go -destination=mock/backend.go

// Backend is one physical storage medium.
type Backend interface {
	// Name identifies the tier in logs and metrics.
	Name() string

	// Get returns the stored bytes or a KindNotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. ttl is a hint for media with native expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists the stored keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Clear removes every key starting with prefix.
	Clear(ctx context.Context, prefix string) error
}
