package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// stubEmbedder returns canned vectors per exact text, or an error.
type stubEmbedder struct {
	vecs  map[string][]float64
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func (s *stubEmbedder) Model() string   { return "stub" }
func (s *stubEmbedder) Dimensions() int { return 3 }

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world-2"}, tokenize("Hello, WORLD-2!"))
	assert.Empty(t, tokenize("a b c"))
}

func TestTFIDFEmbedder(t *testing.T) {
	docs := []string{
		"coffee in the morning",
		"coffee with milk",
		"tea in the afternoon",
	}
	emb := NewTFIDFEmbedderFromDocs(docs, 16)

	a, err := emb.Embed(context.Background(), "morning coffee")
	require.NoError(t, err)
	b, err := emb.Embed(context.Background(), "coffee in the morning")
	require.NoError(t, err)
	c, err := emb.Embed(context.Background(), "afternoon tea")
	require.NoError(t, err)

	assert.Greater(t, CosineSimilarity(a, b), CosineSimilarity(a, c))

	empty, err := emb.Embed(context.Background(), "!!!")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, emb.Dimensions()), empty)
}

func TestTFIDFEmbedderFromStore(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now().UnixMilli()
	require.NoError(t, db.SaveConcept(&store.Concept{ID: "c1", GroupID: "g1", Name: "coffee", CreatedAt: now, LastActivatedAt: now}))
	require.NoError(t, db.SaveMemory(&store.Memory{ID: "m1", GroupID: "g1", ConceptID: "c1", Content: "morning americano ritual", CreatedAt: now, LastAccessedAt: now}))

	emb, err := NewTFIDFEmbedder(db, 16)
	require.NoError(t, err)
	assert.Equal(t, "tfidf", emb.Model())
	assert.Greater(t, emb.Dimensions(), 0)
}

func TestGuardedEmbedderMapsFailures(t *testing.T) {
	inner := &stubEmbedder{err: errors.New("connection refused")}
	guarded := NewGuardedEmbedder(inner, time.Second, 2, time.Minute)

	_, err := guarded.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memerr.ErrEmbeddingUnavailable)
	_, err = guarded.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memerr.ErrEmbeddingUnavailable)

	// Breaker is open now: the inner embedder is no longer called.
	callsBefore := inner.calls
	_, err = guarded.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memerr.ErrEmbeddingUnavailable)
	assert.Equal(t, callsBefore, inner.calls)
}

func TestGuardedEmbedderPassesThrough(t *testing.T) {
	inner := &stubEmbedder{vecs: map[string][]float64{"hi": {1, 2, 3}}}
	guarded := NewGuardedEmbedder(inner, time.Second, 3, time.Minute)

	vec, err := guarded.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vec)
}

func TestEmbeddingCache(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inner := &stubEmbedder{vecs: map[string][]float64{"americano": {1, 0, 0}}}
	cache, err := NewEmbeddingCache(db, inner, 64)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	m := &store.Memory{ID: "m1", Content: "americano"}
	vec, err := cache.MemoryVector(context.Background(), "g1", m)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, vec)
	assert.Equal(t, 1, inner.calls)

	// Durable row was written.
	row, err := db.GetVector("g1", "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "stub", row.Model)

	// Second lookup hits the durable row even with a cold hot cache.
	cache.Invalidate("g1", "m1")
	_, err = cache.MemoryVector(context.Background(), "g1", m)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// Changed content invalidates via the text hash.
	m.Content = "flat white"
	_, err = cache.MemoryVector(context.Background(), "g1", m)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
