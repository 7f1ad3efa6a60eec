package tier

import (
	"context"
	"time"
)

var _ Backend = Nop{}

// Nop is a Backend for disabled storage. Every call reports KindUnavailable
// except Remove and Clear, which have nothing to do.
type Nop struct{}

// Name returns "nop".
func (Nop) Name() string { return "nop" }

func (Nop) Get(_ context.Context, key string) ([]byte, error) {
	return nil, newError("nop", "get", KindUnavailable, key, nil)
}

func (Nop) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	return newError("nop", "set", KindUnavailable, key, nil)
}

func (Nop) Remove(context.Context, string) error { return nil }

func (Nop) Keys(context.Context, string) ([]string, error) { return nil, nil }

func (Nop) Clear(context.Context, string) error { return nil }
