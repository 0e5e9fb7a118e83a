package data

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// MemoryConfig sizes the in-process series cache; Entries <= 0 disables it
type MemoryConfig struct {
	Entries int           `yaml:"entries"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultMemoryConfig keeps a few hundred series for fifteen minutes
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{Entries: 256, TTL: 15 * time.Minute}
}

// CacheStats reports memory cache effectiveness
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRatio  float64 `json:"hitRatio"`
}

type memoryEntry struct {
	series   market.Series
	expires  time.Time
	accessed time.Time
}

// MemorySource keeps recently loaded series in process, evicting the least
// recently used entry when full. Series are shared, callers must not mutate them.
type MemorySource struct {
	next       Source
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
	stats   CacheStats

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemorySource decorates next and starts the expiry sweeper
func NewMemorySource(next Source, cfg MemoryConfig) *MemorySource {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMemoryConfig().TTL
	}
	m := &MemorySource{
		next:       next,
		ttl:        cfg.TTL,
		maxEntries: cfg.Entries,
		now:        time.Now,
		entries:    make(map[string]*memoryEntry),
		stopCh:     make(chan struct{}),
	}
	go m.sweep(time.Minute)
	return m
}

// Name identifies the source in logs and errors
func (m *MemorySource) Name() string { return m.next.Name() }

// Load serves a live entry or delegates and stores the result
func (m *MemorySource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	key := symbol + ":" + dateKey(from) + ":" + dateKey(to)
	if s, ok := m.get(key); ok {
		return s, nil
	}
	s, err := m.next.Load(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	m.set(key, s)
	return s, nil
}

func (m *MemorySource) get(key string) (market.Series, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expires) {
		m.stats.Misses++
		return nil, false
	}
	e.accessed = now
	m.stats.Hits++
	return e.series, true
}

func (m *MemorySource) set(key string, s market.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLRU()
	}
	now := m.now()
	m.entries[key] = &memoryEntry{series: s, expires: now.Add(m.ttl), accessed: now}
}

// evictLRU drops the least recently read entry; caller holds mu
func (m *MemorySource) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for k, e := range m.entries {
		if oldestKey == "" || e.accessed.Before(oldestTime) {
			oldestKey, oldestTime = k, e.accessed
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
		m.stats.Evictions++
	}
}

// Stats returns a snapshot of the counters
func (m *MemorySource) Stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Entries = len(m.entries)
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRatio = float64(st.Hits) / float64(total)
	}
	return st
}

// Clear drops every entry and resets the counters
func (m *MemorySource) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	m.stats = CacheStats{}
}

// Close stops the sweeper
func (m *MemorySource) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *MemorySource) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.removeExpired(); n > 0 {
				log.Debug().Int("removed", n).Msg("expired series cache entries")
			}
		}
	}
}

func (m *MemorySource) removeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
