package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// evictTargetPercent: after purging expired entries an over-capacity
// store is trimmed down to this share of capacity, not just to the brim,
// so inserts don't thrash the eviction path.
const evictTargetPercent = 80

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
	hitCount  int
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// MemoryStore is the single-node backend: a capacity-bounded map with
// TTL expiry and lowest-hitCount-then-oldest eviction.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	capacity int

	cleanupEvery time.Duration
	stopCleanup  chan struct{}
	cleanupOnce  sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCapacity bounds how many entries the store holds.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept in the
// background.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.cleanupEvery = d
		}
	}
}

// NewMemoryStore starts an in-memory store and its sweep goroutine.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		capacity:     1000,
		cleanupEvery: time.Minute,
		stopCleanup:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Get returns the stored value and bumps its hit count. Expired entries
// are removed on sight and reported as misses.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return nil, false
	}
	e.hitCount++
	return e.value, true
}

// Set stores value under key. At capacity, expired entries are purged
// first; if the store is still full the coldest entries are evicted down
// to the target share of capacity.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		now := time.Now()
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
			}
		}
		if len(s.entries) >= s.capacity {
			s.evictLocked()
		}
	}

	s.entries[key] = &memoryEntry{
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	}
}

// Len reports the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// evictLocked removes cold entries until the store is at the eviction
// target. Order: lowest hit count first, oldest first among ties.
// Caller holds the lock.
func (s *MemoryStore) evictLocked() {
	target := s.capacity * evictTargetPercent / 100

	type candidate struct {
		key string
		e   *memoryEntry
	}
	cands := make([]candidate, 0, len(s.entries))
	for k, e := range s.entries {
		cands = append(cands, candidate{k, e})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].e.hitCount != cands[j].e.hitCount {
			return cands[i].e.hitCount < cands[j].e.hitCount
		}
		return cands[i].e.createdAt.Before(cands[j].e.createdAt)
	})
	for _, c := range cands {
		if len(s.entries) <= target {
			break
		}
		delete(s.entries, c.key)
	}
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
