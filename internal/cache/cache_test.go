package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availcal/internal/metrics"
	"availcal/internal/model"
	"availcal/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var window = model.Window{Start: "2025-11-10", End: "2025-11-20"}

func sampleEvents() []model.CalendarEvent {
	return []model.CalendarEvent{{
		Start: time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 11, 15, 11, 0, 0, 0, time.UTC),
	}}
}

func newTestCache(t *testing.T) (*FeedCache, *clock, *metrics.Metrics) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	return New(store.NewMemory(store.WithClock(clk.Now)), DefaultTTL, m), clk, m
}

func TestGetOrFetchCachesWithinTTL(t *testing.T) {
	c, clk, m := newTestCache(t)

	var calls int
	fetch := func(context.Context) ([]model.CalendarEvent, error) {
		calls++
		return sampleEvents(), nil
	}

	got, err := c.GetOrFetch(context.Background(), window, fetch)
	require.NoError(t, err)
	assert.Equal(t, sampleEvents(), got)

	clk.Advance(DefaultTTL - time.Second)
	_, err = c.GetOrFetch(context.Background(), window, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	clk.Advance(time.Second)
	_, err = c.GetOrFetch(context.Background(), window, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	c, _, _ := newTestCache(t)
	upstream := errors.New("upstream down")

	var calls int
	fail := func(context.Context) ([]model.CalendarEvent, error) {
		calls++
		return nil, upstream
	}

	_, err := c.GetOrFetch(context.Background(), window, fail)
	assert.ErrorIs(t, err, upstream)
	_, err = c.GetOrFetch(context.Background(), window, fail)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchKeysByWindow(t *testing.T) {
	c, _, _ := newTestCache(t)

	var calls int
	fetch := func(context.Context) ([]model.CalendarEvent, error) {
		calls++
		return nil, nil
	}

	other := model.Window{Start: "2025-11-10", End: "2025-11-21"}
	_, err := c.GetOrFetch(context.Background(), window, fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), other, fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), window, fetch)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NotEqual(t, Key(window), Key(other))
	assert.Equal(t, Key(window), Key(model.Window{Start: "2025-11-10", End: "2025-11-20"}))
}

func TestGetOrFetchConcurrentMissesShareOneFetch(t *testing.T) {
	c, _, _ := newTestCache(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]model.CalendarEvent, error) {
		calls.Add(1)
		<-release
		return sampleEvents(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrFetch(context.Background(), window, fetch)
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestClear(t *testing.T) {
	c, _, _ := newTestCache(t)

	var calls int
	fetch := func(context.Context) ([]model.CalendarEvent, error) {
		calls++
		return sampleEvents(), nil
	}

	_, _ = c.GetOrFetch(context.Background(), window, fetch)
	assert.Equal(t, 1, c.Clear())
	_, _ = c.GetOrFetch(context.Background(), window, fetch)
	assert.Equal(t, 2, calls)
}

func TestNewClampsTTL(t *testing.T) {
	kv := store.NewMemory()
	assert.Equal(t, MinTTL, New(kv, 10*time.Second, nil).TTL())
	assert.Equal(t, DefaultTTL, New(kv, 0, nil).TTL())
	assert.Equal(t, 10*time.Minute, New(kv, 10*time.Minute, nil).TTL())
}
