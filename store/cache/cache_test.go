package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetThenGetHits(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()

	m.Set(RegionSessions, "s1", "value")
	v, ok := m.Get(RegionSessions, "s1")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()
	_, ok := m.Get(RegionSessions, "ghost")
	assert.False(t, ok)
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	m := New(Config{TTL: 10 * time.Millisecond, SweepInterval: time.Hour})
	defer m.Stop()

	m.Set(RegionTurns, "t1", "value")
	_, ok := m.Get(RegionTurns, "t1")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := m.Get(RegionTurns, "t1")
		return !ok
	}, time.Second, 5*time.Millisecond, "a read past TTL evicts lazily even without the sweeper")
}

func TestCache_BackgroundSweeperEvictsExpiredEntries(t *testing.T) {
	m := New(Config{TTL: 10 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	defer m.Stop()

	m.Set(RegionSessions, "s1", "value")
	assert.Eventually(t, func() bool {
		return m.Stats()[RegionSessions].Evictions > 0
	}, time.Second, 5*time.Millisecond)
}

func TestCache_InvalidateRemovesOnlyThatKey(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()

	m.Set(RegionSessions, "s1", "a")
	m.Set(RegionSessions, "s2", "b")
	m.Invalidate(RegionSessions, "s1")

	_, ok := m.Get(RegionSessions, "s1")
	assert.False(t, ok)
	v, ok := m.Get(RegionSessions, "s2")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestCache_InvalidateAllClearsEveryRegion(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()

	m.Set(RegionSessions, "s1", "a")
	m.Set(RegionTurns, "t1", "b")
	m.InvalidateAll()

	_, ok := m.Get(RegionSessions, "s1")
	assert.False(t, ok)
	_, ok = m.Get(RegionTurns, "t1")
	assert.False(t, ok)
}

// TestCache_GetOrLoadCollapsesConcurrentMisses is the singleflight
// guarantee: N concurrent callers for the same miss invoke load exactly
// once.
func TestCache_GetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()

	var calls int64
	load := func(context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "loaded", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrLoad(context.Background(), RegionSessions, "key", load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, r := range results {
		assert.Equal(t, "loaded", r)
	}
}

func TestCache_GetOrLoadDoesNotCacheOnError(t *testing.T) {
	m := New(Config{TTL: time.Hour, SweepInterval: time.Hour})
	defer m.Stop()

	_, err := m.GetOrLoad(context.Background(), RegionSessions, "key", func(context.Context) (any, error) {
		return nil, assertErr
	})
	require.Error(t, err)
	_, ok := m.Get(RegionSessions, "key")
	assert.False(t, ok, "a failed load must not poison the cache")
}

var assertErr = errOops{}

type errOops struct{}

func (errOops) Error() string { return "oops" }

func TestCache_DefaultsApplyToZeroConfig(t *testing.T) {
	m := New(Config{})
	defer m.Stop()
	m.Set(RegionSessions, "s1", "v")
	v, ok := m.Get(RegionSessions, "s1")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
