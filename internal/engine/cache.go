package engine

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgraph-io/ristretto"

	"github.com/mnemo-dev/mnemo/internal/store"
)

// EmbeddingCache layers a hot in-process cache over the durable vector rows.
// Cached vectors are pure functions of (model, text), so last-writer-wins
// races are harmless.
type EmbeddingCache struct {
	db       *store.DB
	embedder Embedder
	hot      *ristretto.Cache
}

type cachedVector struct {
	hash string
	vec  []float64
}

// NewEmbeddingCache creates a cache sized for roughly maxEntries vectors.
func NewEmbeddingCache(db *store.DB, embedder Embedder, maxEntries int64) (*EmbeddingCache, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &EmbeddingCache{db: db, embedder: embedder, hot: hot}, nil
}

// Embedder returns the wrapped embedder.
func (c *EmbeddingCache) Embedder() Embedder { return c.embedder }

// MemoryVector returns the embedding for a memory's content, computing and
// persisting it on miss. The content hash invalidates stale rows after a
// memory is rewritten.
func (c *EmbeddingCache) MemoryVector(ctx context.Context, group string, m *store.Memory) ([]float64, error) {
	hash := textHash(c.embedder.Model() + "\x00" + m.Content)
	key := group + "\x00" + m.ID

	if v, ok := c.hot.Get(key); ok {
		if cached := v.(cachedVector); cached.hash == hash {
			return cached.vec, nil
		}
	}

	if row, err := c.db.GetVector(group, m.ID); err == nil && row != nil && row.TextHash == hash {
		c.hot.Set(key, cachedVector{hash: hash, vec: row.Embedding}, 1)
		return row.Embedding, nil
	}

	vec, err := c.embedder.Embed(ctx, m.Content)
	if err != nil {
		return nil, err
	}
	if err := c.db.SaveVector(group, m.ID, hash, vec, c.embedder.Model()); err != nil {
		return nil, err
	}
	c.hot.Set(key, cachedVector{hash: hash, vec: vec}, 1)
	return vec, nil
}

// QueryVector embeds ad hoc query text. Query vectors are cached in memory
// only, never persisted.
func (c *EmbeddingCache) QueryVector(ctx context.Context, text string) ([]float64, error) {
	hash := textHash(c.embedder.Model() + "\x00" + text)
	key := "query\x00" + hash

	if v, ok := c.hot.Get(key); ok {
		return v.(cachedVector).vec, nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.hot.Set(key, cachedVector{hash: hash, vec: vec}, 1)
	return vec, nil
}

// Invalidate drops the hot entry for a memory. The durable row is removed by
// the graph when the memory is deleted.
func (c *EmbeddingCache) Invalidate(group, memoryID string) {
	c.hot.Del(group + "\x00" + memoryID)
}

// Close releases the hot cache.
func (c *EmbeddingCache) Close() {
	c.hot.Close()
}

func textHash(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
