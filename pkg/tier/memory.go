package tier

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Backend = (*Memory)(nil)

// Memory is an in-process Backend. It serves hosts without a real storage
// medium and tests that need to seed or break a tier directly.
type Memory struct {
	name     string
	maxBytes int

	mu    sync.RWMutex
	items map[string][]byte
	used  int
	fail  map[string]Kind
}

// NewMemory creates an in-memory backend. maxBytes bounds the sum of stored
// key and value sizes; zero means unbounded.
func NewMemory(name string, maxBytes int) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{
		name:     name,
		maxBytes: maxBytes,
		items:    make(map[string][]byte),
		fail:     make(map[string]Kind),
	}
}

// Name returns the tier name.
func (m *Memory) Name() string { return m.name }

// FailNext makes the next call of op ("get", "set", "remove", "keys", "clear")
// fail with the given kind.
func (m *Memory) FailNext(op string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = kind
}

func (m *Memory) injected(op, key string) error {
	kind, ok := m.fail[op]
	if !ok {
		return nil
	}
	delete(m.fail, op)
	return newError(m.name, op, kind, key, errors.New("injected failure"))
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(m.name, "get", KindUnavailable, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("get", key); err != nil {
		return nil, err
	}
	value, ok := m.items[key]
	if !ok {
		return nil, newError(m.name, "get", KindNotFound, key, nil)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value. The ttl hint is ignored.
func (m *Memory) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return newError(m.name, "set", KindUnavailable, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("set", key); err != nil {
		return err
	}

	used := m.used + len(key) + len(value)
	if old, ok := m.items[key]; ok {
		used -= len(key) + len(old)
	}
	if m.maxBytes > 0 && used > m.maxBytes {
		return newError(m.name, "set", KindQuotaExceeded, key, nil)
	}

	data := make([]byte, len(value))
	copy(data, value)
	m.items[key] = data
	m.used = used
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return newError(m.name, "remove", KindUnavailable, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("remove", key); err != nil {
		return err
	}
	m.removeLocked(key)
	return nil
}

func (m *Memory) removeLocked(key string) {
	if old, ok := m.items[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.items, key)
	}
}

// Keys lists keys with the given prefix in sorted order.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(m.name, "keys", KindUnavailable, "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("keys", ""); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key with the given prefix.
func (m *Memory) Clear(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return newError(m.name, "clear", KindUnavailable, "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("clear", ""); err != nil {
		return err
	}
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeLocked(key)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
