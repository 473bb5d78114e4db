// Package cache memoizes retrieval results per index generation.
package cache

import (
	"context"
	"sync"
	"time"

	"kbrag/internal/adapter/fingerprint"
	"kbrag/internal/domain"
)

// QueryCache is an LRU cache with TTL. Entries remember the index
// generation they were computed against and miss once it changes.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	results    []domain.ScoredChunk
	timestamp  time.Time
	generation uint64
}

// NewQueryCache creates a cache holding up to maxSize entries for ttl.
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	return fingerprint.Of("query", query)
}

// Get returns the cached results for query computed at generation.
func (c *QueryCache) Get(query string, generation uint64) ([]domain.ScoredChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.now().Sub(entry.timestamp) > c.ttl || entry.generation != generation {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	c.moveToEnd(key)
	return entry.results, true
}

// Put stores results for query computed at generation.
func (c *QueryCache) Put(query string, generation uint64, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	entry := &cacheEntry{
		results:    results,
		timestamp:  c.now(),
		generation: generation,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Invalidate drops every entry.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

// Size returns the number of cached entries.
func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Retriever is the retrieval call being cached.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}

// CachedRetriever serves repeated queries from a QueryCache. generation
// reports the current index generation.
type CachedRetriever struct {
	retriever  Retriever
	cache      *QueryCache
	generation func() uint64
}

// NewCachedRetriever wraps retriever with cache.
func NewCachedRetriever(retriever Retriever, cache *QueryCache, generation func() uint64) *CachedRetriever {
	return &CachedRetriever{
		retriever:  retriever,
		cache:      cache,
		generation: generation,
	}
}

// Retrieve returns cached results when the index has not changed since
// they were computed.
func (r *CachedRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	gen := r.generation()
	if results, hit := r.cache.Get(query, gen); hit {
		return results, nil
	}

	results, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	r.cache.Put(query, gen, results)
	return results, nil
}
