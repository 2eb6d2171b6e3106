package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/store"
)

func testGraph(t *testing.T, group string) (*store.DB, *graph.Graph) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g, err := graph.Load(db, group, graph.Options{ReinforceStep: 0.1})
	require.NoError(t, err)
	return db, g
}

func addTestMemory(t *testing.T, g *graph.Graph, conceptID, content string, strength float64) *store.Memory {
	t.Helper()
	now := time.Now().UnixMilli()
	m := &store.Memory{
		ConceptID: conceptID, Content: content,
		Strength: strength, Confidence: strength,
		CreatedAt: now, LastAccessedAt: now,
	}
	require.NoError(t, g.AddMemory(m))
	return m
}

func chainConcepts(t *testing.T, g *graph.Graph, names ...string) []string {
	t.Helper()
	ids := make([]string, len(names))
	for i, name := range names {
		c, _, err := g.AddConcept(name)
		require.NoError(t, err)
		ids[i] = c.ID
	}
	for i := 0; i+1 < len(ids); i++ {
		_, err := g.AddConnection(ids[i], ids[i+1], 1.0, store.RelationUnclassified)
		require.NoError(t, err)
	}
	return ids
}

func TestSpreadDecaysPerHop(t *testing.T) {
	_, g := testGraph(t, "g1")
	ids := chainConcepts(t, g, "a", "b", "c", "d", "e")

	s := Spreader{Lambda: 0.5, MaxHops: 3, Floor: 0.01}
	activation := s.Spread(g, []string{ids[0]})

	assert.Equal(t, 1.0, activation[ids[0]])
	assert.InDelta(t, 0.5, activation[ids[1]], 1e-9)
	assert.InDelta(t, 0.25, activation[ids[2]], 1e-9)
	assert.InDelta(t, 0.125, activation[ids[3]], 1e-9)

	// Four hops away is beyond MaxHops.
	_, reached := activation[ids[4]]
	assert.False(t, reached)

	// Activation at hop k never exceeds lambda^k.
	for hop, id := range ids[:4] {
		assert.LessOrEqual(t, activation[id], math.Pow(0.5, float64(hop))+1e-9)
	}
}

func TestSpreadFloorStopsPropagation(t *testing.T) {
	_, g := testGraph(t, "g1")
	ids := chainConcepts(t, g, "a", "b", "c")

	s := Spreader{Lambda: 0.5, MaxHops: 10, Floor: 0.4}
	activation := s.Spread(g, []string{ids[0]})

	assert.Equal(t, 1.0, activation[ids[0]])
	assert.InDelta(t, 0.5, activation[ids[1]], 1e-9)
	_, reached := activation[ids[2]]
	assert.False(t, reached)
}

func TestSpreadMaxOverMultiplePaths(t *testing.T) {
	_, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("a")
	b, _, _ := g.AddConcept("b")
	c, _, _ := g.AddConcept("c")

	// Weak direct edge, strong two-hop path.
	_, err := g.AddConnection(a.ID, c.ID, 0.2, store.RelationUnclassified)
	require.NoError(t, err)
	_, err = g.AddConnection(a.ID, b.ID, 1.0, store.RelationUnclassified)
	require.NoError(t, err)
	_, err = g.AddConnection(b.ID, c.ID, 1.0, store.RelationUnclassified)
	require.NoError(t, err)

	s := Spreader{Lambda: 0.9, MaxHops: 3, Floor: 0.01}
	activation := s.Spread(g, []string{a.ID})

	// Direct: 0.2*0.9 = 0.18; via b: 0.9*0.9 = 0.81. Max wins.
	assert.InDelta(t, 0.81, activation[c.ID], 1e-9)
}

func TestSpreadUnknownSeedIgnored(t *testing.T) {
	_, g := testGraph(t, "g1")
	s := Spreader{Lambda: 0.7, MaxHops: 3, Floor: 0.1}
	assert.Empty(t, s.Spread(g, []string{"ghost"}))
}
