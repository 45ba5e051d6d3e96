package embedding

import (
	"container/list"
	"sync"
)

// EmbeddingCache is an LRU of chunk embeddings. Entries are keyed by the FNV-1a
// hash of the chunk text and its length so long chunks are not retained as keys.
type EmbeddingCache struct {
	capacity int
	entries  map[cacheKey]*list.Element
	lru      *list.List
	hits     uint64
	misses   uint64
	mu       sync.Mutex
}

type cacheKey struct {
	sum uint64
	n   int
}

type cacheEntry struct {
	key   cacheKey
	value []float32
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewEmbeddingCache creates a cache holding at most capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element),
		lru:      list.New(),
	}
}

func keyOf(text string) cacheKey {
	return cacheKey{sum: HashString(text), n: len(text)}
}

// Get returns the embedding cached for text.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	k := keyOf(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Set stores value for text and evicts the least recently used entry when full.
func (c *EmbeddingCache) Set(text string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	k := keyOf(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[k]; ok {
		elem.Value.(*cacheEntry).value = value
		c.lru.MoveToFront(elem)
		return
	}
	c.entries[k] = c.lru.PushFront(&cacheEntry{key: k, value: value})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the hit and miss counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.lru.Len(), Hits: c.hits, Misses: c.misses}
}
