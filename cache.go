package guard

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// DECISION CACHE
// ============================================================================

// DecisionCache stores finished decisions keyed by the request hash.
// Writes are best-effort: a failing Set must never block or fail the
// decision path. Purge removes every entry and is called atomically by
// administrative mutations.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*AccessDecision, bool)
	Set(ctx context.Context, key string, dec *AccessDecision, ttl time.Duration) error
	Purge(ctx context.Context) error
}

type cacheEntry struct {
	decision  *AccessDecision
	expiresAt time.Time
}

// MemoryDecisionCache is the default single-process TTL cache.
type MemoryDecisionCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func NewMemoryDecisionCache() *MemoryDecisionCache {
	return &MemoryDecisionCache{entries: make(map[string]*cacheEntry)}
}

func (c *MemoryDecisionCache) Get(ctx context.Context, key string) (*AccessDecision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.decision, true
}

func (c *MemoryDecisionCache) Set(ctx context.Context, key string, dec *AccessDecision, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{decision: dec, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryDecisionCache) Purge(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
	return nil
}

// RistrettoDecisionCache trades exact admission for throughput under
// heavy concurrent load; sizing comes from EngineConfig.
type RistrettoDecisionCache struct {
	cache *ristretto.Cache
}

func NewRistrettoDecisionCache(numCounters, maxCost, bufferItems int64) (*RistrettoDecisionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoDecisionCache{cache: cache}, nil
}

func (c *RistrettoDecisionCache) Get(ctx context.Context, key string) (*AccessDecision, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	dec, ok := v.(*AccessDecision)
	return dec, ok
}

func (c *RistrettoDecisionCache) Set(ctx context.Context, key string, dec *AccessDecision, ttl time.Duration) error {
	c.cache.SetWithTTL(key, dec, 1, ttl)
	return nil
}

func (c *RistrettoDecisionCache) Purge(ctx context.Context) error {
	c.cache.Clear()
	return nil
}
