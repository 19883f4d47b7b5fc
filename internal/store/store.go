// Package store provides the TTL key/value storage shared by the feed cache
// and the rate limiter.
package store

import (
	"strings"
	"sync"
	"time"
)

// KV is a key/value store whose entries expire.
type KV interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	DeletePrefix(prefix string) int
}

// Counter is a store of fixed-window counters.
type Counter interface {
	// Incr increments key and returns the new count. A missing or expired
	// key starts at 1 with a fresh window; later increments keep the
	// window's original expiry.
	Incr(key string, window time.Duration) int
}

type item struct {
	value     any
	count     int
	expiresAt time.Time
}

func (it *item) expired(now time.Time) bool {
	return !now.Before(it.expiresAt)
}

// Memory is an in-process KV and Counter. All operations are atomic with
// respect to each other. Expired entries are invisible to readers and are
// reclaimed by Sweep.
type Memory struct {
	mu    sync.Mutex
	items map[string]*item
	now   func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty Memory store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		items: make(map[string]*item),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok || it.expired(m.now()) {
		return nil, false
	}
	return it.value, true
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = &item{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Incr(key string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	it, ok := m.items[key]
	if !ok || it.expired(now) {
		m.items[key] = &item{count: 1, expiresAt: now.Add(window)}
		return 1
	}
	it.count++
	return it.count
}

// DeletePrefix removes every key starting with prefix and reports how many
// live entries were removed.
func (m *Memory) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, it := range m.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !it.expired(now) {
			n++
		}
		delete(m.items, k)
	}
	return n
}

// Sweep drops expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, it := range m.items {
		if it.expired(now) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
