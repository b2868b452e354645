// Package cache implements the cache manager: a four-region TTL cache
// over hot sessions, turns, user→session-id lists, and session→turn-id
// lists, with one independently-locked region per concern plus a
// background sweeper. Nothing on the message path ever holds more than
// one region lock.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Region names the four cache regions.
type Region string

const (
	RegionSessions     Region = "sessions"
	RegionTurns        Region = "turns"
	RegionUserSessions Region = "user_sessions"
	RegionSessionTurns Region = "session_turns"
)

var allRegions = [...]Region{RegionSessions, RegionTurns, RegionUserSessions, RegionSessionTurns}

// RegionStats are hit/miss/eviction counters. Observability only,
// never read by any correctness path.
type RegionStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	value    any
	insertAt time.Time
}

type region struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   RegionStats
}

func newRegion() *region {
	return &region{entries: make(map[string]entry)}
}

func (r *region) get(key string, ttl time.Duration) (any, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		r.stats.Misses++
		r.mu.Unlock()
		return nil, false
	}
	if time.Since(e.insertAt) > ttl {
		r.mu.Lock()
		delete(r.entries, key)
		r.stats.Evictions++
		r.stats.Misses++
		r.mu.Unlock()
		return nil, false
	}
	r.mu.Lock()
	r.stats.Hits++
	r.mu.Unlock()
	return e.value, true
}

func (r *region) set(key string, value any) {
	r.mu.Lock()
	r.entries[key] = entry{value: value, insertAt: time.Now()}
	r.mu.Unlock()
}

func (r *region) invalidate(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

func (r *region) invalidateAll() {
	r.mu.Lock()
	r.entries = make(map[string]entry)
	r.mu.Unlock()
}

func (r *region) sweep(ttl time.Duration) {
	now := time.Now()
	r.mu.Lock()
	for k, e := range r.entries {
		if now.Sub(e.insertAt) > ttl {
			delete(r.entries, k)
			r.stats.Evictions++
		}
	}
	r.mu.Unlock()
}

func (r *region) statsSnapshot() RegionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Manager is the Cache Manager: best-effort, strictly subordinate to
// Storage (design note "Cache coherence" — never read-modify-write
// through the cache; writers invalidate, readers repopulate).
type Manager struct {
	ttl           time.Duration
	sweepInterval time.Duration
	regions       map[Region]*region
	sf            singleflight.Group
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// Config configures the Manager. Zero values default to a 300s TTL
// and a fixed 60s sweep interval.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// New constructs a Manager and starts its background sweeper.
func New(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	m := &Manager{
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		regions:       make(map[Region]*region, len(allRegions)),
		stopCh:        make(chan struct{}),
	}
	for _, r := range allRegions {
		m.regions[r] = newRegion()
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, r := range m.regions {
				r.sweep(m.ttl)
			}
			slog.Debug("cache sweep complete")
		}
	}
}

// Stop ends the sweeper cooperatively: the in-flight sweep (if any)
// completes before the goroutine exits.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Get reads key from region. A miss returns (nil, false); callers fall
// through to Storage and call Set to repopulate.
func (m *Manager) Get(reg Region, key string) (any, bool) {
	return m.regions[reg].get(key, m.ttl)
}

// Set populates region with key→value.
func (m *Manager) Set(reg Region, key string, value any) {
	m.regions[reg].set(key, value)
}

// Invalidate removes one key from one region (the mutation paths call
// this for every region a write can affect — e.g. a chat send, through
// Store.CreateTurn and Store.UpdateSession, invalidates the session plus
// both list regions).
func (m *Manager) Invalidate(reg Region, key string) {
	m.regions[reg].invalidate(key)
}

// InvalidateAll clears every region (admin use).
func (m *Manager) InvalidateAll() {
	for _, r := range m.regions {
		r.invalidateAll()
	}
}

// GetOrLoad reads key from region, and on miss calls load exactly once
// even under concurrent callers for the same key (singleflight), storing
// and returning the result. This is how readers "repopulate" per the
// cache-coherence design note without a thundering herd of duplicate
// Storage reads.
func (m *Manager) GetOrLoad(ctx context.Context, reg Region, key string, load func(context.Context) (any, error)) (any, error) {
	if v, ok := m.Get(reg, key); ok {
		return v, nil
	}
	v, err, _ := m.sf.Do(string(reg)+":"+key, func() (any, error) {
		if v, ok := m.Get(reg, key); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(reg, key, loaded)
		return loaded, nil
	})
	return v, err
}

// Stats returns a snapshot of hit/miss/eviction counters per region.
func (m *Manager) Stats() map[Region]RegionStats {
	out := make(map[Region]RegionStats, len(m.regions))
	for name, r := range m.regions {
		out[name] = r.statsSnapshot()
	}
	return out
}
