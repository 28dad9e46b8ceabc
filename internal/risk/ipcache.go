package risk

import (
	"context"
	"sync"
	"time"
)

// ReputationEntry is a memoized network-reputation sub-score for one address.
type ReputationEntry struct {
	Address  string    `json:"address"`
	Score    int       `json:"score"`
	Reasons  []string  `json:"reasons,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// ReputationCache memoizes network-reputation evaluations per address.
// Implementations are injected into the engine so tests can substitute a
// deterministic cache and deployments can share one across processes.
// Concurrent writers may race to populate the same address; last-writer-wins
// is fine because recomputation is deterministic within the TTL window.
type ReputationCache interface {
	Lookup(ctx context.Context, address string) (*ReputationEntry, bool)
	Store(ctx context.Context, entry ReputationEntry)
}

// MemoryReputationCache is the single-process default. Staleness is checked
// on read; there is no background sweep, so memory is bounded by the number
// of distinct addresses seen within a TTL window.
type MemoryReputationCache struct {
	mu      sync.RWMutex
	entries map[string]ReputationEntry
	ttl     time.Duration
	clock   func() time.Time
}

func NewMemoryReputationCache(ttl time.Duration) *MemoryReputationCache {
	return &MemoryReputationCache{
		entries: make(map[string]ReputationEntry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// SetClock substitutes the time source. Test use only.
func (c *MemoryReputationCache) SetClock(clock func() time.Time) {
	c.clock = clock
}

func (c *MemoryReputationCache) Lookup(_ context.Context, address string) (*ReputationEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[address]
	c.mu.RUnlock()

	if !ok || c.clock().Sub(entry.CachedAt) > c.ttl {
		return nil, false
	}
	return &entry, true
}

func (c *MemoryReputationCache) Store(_ context.Context, entry ReputationEntry) {
	c.mu.Lock()
	c.entries[entry.Address] = entry
	c.mu.Unlock()
}
