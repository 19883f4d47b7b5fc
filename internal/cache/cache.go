// Package cache keeps parsed, window-filtered feed results for a short TTL
// so repeated requests for the same window do not hit the upstream feed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "availcal/internal/log"
	"availcal/internal/metrics"
	"availcal/internal/model"
	"availcal/internal/store"
)

const (
	DefaultTTL = 300 * time.Second
	MinTTL     = 60 * time.Second

	keyPrefix = "feed:"
)

// FetchFunc retrieves the events of one window from upstream. It is only
// called on a cache miss.
type FetchFunc func(ctx context.Context) ([]model.CalendarEvent, error)

// FeedCache caches fetch results per requested window. Concurrent misses
// for the same window share a single upstream fetch. Errors are never
// cached.
type FeedCache struct {
	kv      store.KV
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
}

// New creates a FeedCache. ttl defaults to DefaultTTL and is raised to
// MinTTL when shorter.
func New(kv store.KV, ttl time.Duration, m *metrics.Metrics) *FeedCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	return &FeedCache{kv: kv, ttl: ttl, metrics: m}
}

// TTL reports the effective entry lifetime.
func (c *FeedCache) TTL() time.Duration {
	return c.ttl
}

// Key derives the cache key from the literal window strings. The view mode
// is deliberately not part of it.
func Key(w model.Window) string {
	sum := sha256.Sum256([]byte(w.Start + "|" + w.End))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// GetOrFetch returns the cached events for w, calling fetch on a miss.
// The returned slice is shared and must not be modified.
func (c *FeedCache) GetOrFetch(ctx context.Context, w model.Window, fetch FetchFunc) ([]model.CalendarEvent, error) {
	key := Key(w)

	if events, ok := c.lookup(key); ok {
		c.metrics.CacheHit()
		appLog.Debug("feed cache hit", "start", w.Start, "end", w.End)
		return events, nil
	}
	c.metrics.CacheMiss()
	appLog.Debug("feed cache miss", "start", w.Start, "end", w.End)

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished just before this one may have filled it.
		if events, ok := c.lookup(key); ok {
			return events, nil
		}
		// The flight is shared, so one caller going away must not fail
		// the others. The fetch still has its own timeout.
		events, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.kv.Set(key, events, c.ttl)
		appLog.Debug("feed cache stored", "start", w.Start, "end", w.End, "event_count", len(events), "ttl", c.ttl)
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.CalendarEvent), nil
}

// Clear drops every cached window and returns how many were dropped.
func (c *FeedCache) Clear() int {
	n := c.kv.DeletePrefix(keyPrefix)
	appLog.Info("feed cache cleared", "entries", n)
	return n
}

func (c *FeedCache) lookup(key string) ([]model.CalendarEvent, bool) {
	v, ok := c.kv.Get(key)
	if !ok {
		return nil, false
	}
	events, ok := v.([]model.CalendarEvent)
	return events, ok
}
