// Package embedding computes chunk vectors for the vector index.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Cached wraps an Embedder with an LRU cache keyed by text.
type Cached struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCached returns e wrapped in a cache of the given capacity. A capacity of zero
// or less returns e unchanged.
func NewCached(e Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return e
	}
	return &Cached{inner: e, cache: NewEmbeddingCache(capacity)}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// EmbedBatch serves cached texts from the cache and embeds the rest in one call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	embs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range embs {
		out[missingIdx[j]] = v
		c.cache.Set(missing[j], v)
	}
	return out, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Len returns the number of cached embeddings.
func (c *Cached) Len() int { return c.cache.Len() }

// Stats returns the cache counters.
func (c *Cached) Stats() CacheStats { return c.cache.Stats() }

func (c *Cached) Close() error { return c.inner.Close() }
