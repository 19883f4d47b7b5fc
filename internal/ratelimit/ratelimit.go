// Package ratelimit implements a fixed-window per-caller request limit.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	appLog "availcal/internal/log"
	"availcal/internal/metrics"
	"availcal/internal/store"
)

const (
	DefaultMax    = 30
	DefaultWindow = 60 * time.Second

	keyPrefix = "rl:"
)

// Limiter admits at most max requests per caller in each window. The
// window starts with the caller's first request and is not extended by
// later ones. Rejected requests are still counted; since the expiry is
// fixed, that does not delay recovery.
type Limiter struct {
	counter store.Counter
	max     int
	window  time.Duration
	metrics *metrics.Metrics
}

// New creates a Limiter admitting limit requests per window. limit <= 0
// means DefaultMax.
func New(counter store.Counter, limit int, m *metrics.Metrics) *Limiter {
	if limit <= 0 {
		limit = DefaultMax
	}
	return &Limiter{
		counter: counter,
		max:     limit,
		window:  DefaultWindow,
		metrics: m,
	}
}

// Admit records one request for caller and reports whether it may proceed.
// caller is any stable identity, e.g. the remote IP; it is hashed before
// being used as a key.
func (l *Limiter) Admit(caller string) bool {
	n := l.counter.Incr(Key(caller), l.window)
	if n > l.max {
		l.metrics.RateLimitRejected()
		appLog.Warn("rate limit exceeded", "caller", shortHash(caller), "count", n, "max", l.max)
		return false
	}
	return true
}

// Key derives the counter key for caller.
func Key(caller string) string {
	return keyPrefix + shortHash(caller)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
