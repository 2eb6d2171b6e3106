package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

func testGraph(t *testing.T, group string) (*store.DB, *Graph) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g, err := Load(db, group, Options{ReinforceStep: 0.1})
	require.NoError(t, err)
	return db, g
}

func addMemory(t *testing.T, g *Graph, conceptID, content string, strength float64) *store.Memory {
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

func TestAddConceptDedup(t *testing.T) {
	_, g := testGraph(t, "g1")

	a, created, err := g.AddConcept("Coffee")
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := g.AddConcept("  coffee ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)

	_, _, err = g.AddConcept("   ")
	assert.True(t, memerr.IsValidation(err))
}

func TestAddMemoryClampsStrength(t *testing.T) {
	_, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	m := addMemory(t, g, c.ID, "espresso every morning", 1.7)
	got := g.Memory(m.ID)
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Strength)

	err = g.AddMemory(&store.Memory{ConceptID: c.ID, Content: "  "})
	assert.True(t, memerr.IsValidation(err))

	err = g.AddMemory(&store.Memory{ConceptID: "nope", Content: "x"})
	assert.True(t, memerr.IsNotFound(err))
}

func TestAddMemoryCrossGroup(t *testing.T) {
	db, g1 := testGraph(t, "g1")
	other, err := Load(db, "g2", Options{})
	require.NoError(t, err)

	foreign, _, err := other.AddConcept("coffee")
	require.NoError(t, err)

	err = g1.AddMemory(&store.Memory{ConceptID: foreign.ID, Content: "latte"})
	assert.True(t, memerr.IsCrossGroup(err))
}

func TestAddConnectionReinforces(t *testing.T) {
	_, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("morning")

	first, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationUnclassified)
	require.NoError(t, err)
	assert.Equal(t, 0.5, first.Strength)

	// Same pair reinforces in place and picks up the classified relation.
	second, err := g.AddConnection(a.ID, b.ID, 0.9, store.RelationTemporal)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.6, second.Strength, 1e-9)
	assert.Equal(t, store.RelationTemporal, second.Relation)

	// Reverse direction is a distinct edge.
	reverse, err := g.AddConnection(b.ID, a.ID, 0.3, store.RelationUnclassified)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, reverse.ID)

	_, err = g.AddConnection(a.ID, a.ID, 0.5, store.RelationUnclassified)
	assert.True(t, memerr.IsValidation(err))
}

func TestRemoveConceptCascades(t *testing.T) {
	db, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("morning")
	m := addMemory(t, g, a.ID, "americano", 0.8)
	conn, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationUnclassified)
	require.NoError(t, err)

	require.NoError(t, g.RemoveConcept(a.ID))

	assert.Nil(t, g.Concept(a.ID))
	assert.Nil(t, g.Memory(m.ID))
	assert.Nil(t, g.Connection(conn.ID))
	assert.Empty(t, g.Neighbors(b.ID))

	// Gone from the rows too.
	row, err := db.GetMemory("g1", m.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	// The freed name can be reused.
	_, created, err := g.AddConcept("coffee")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTouchMemories(t *testing.T) {
	_, g := testGraph(t, "g1")
	c, _, _ := g.AddConcept("coffee")
	m := addMemory(t, g, c.ID, "americano", 0.5)

	g.TouchMemories([]string{m.ID, "unknown"}, 0.02)

	got := g.Memory(m.ID)
	assert.Equal(t, 1, got.AccessCount)
	assert.InDelta(t, 0.52, got.Strength, 1e-9)
	assert.Equal(t, 1, g.Concept(c.ID).ActivationCount)
}

func TestAdjustStrengthClamps(t *testing.T) {
	_, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("tea")
	m := addMemory(t, g, a.ID, "americano", 0.9)
	conn, err := g.AddConnection(a.ID, b.ID, 0.1, store.RelationSimilar)
	require.NoError(t, err)

	s, err := g.AdjustStrength(m.ID, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)

	s, err = g.AdjustStrength(conn.ID, -0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	_, err = g.AdjustStrength("nope", 0.1)
	assert.True(t, memerr.IsNotFound(err))
}

func TestNeighborsBothDirections(t *testing.T) {
	_, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("morning")
	c, _, _ := g.AddConcept("work")
	_, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationTemporal)
	require.NoError(t, err)
	_, err = g.AddConnection(c.ID, a.ID, 0.4, store.RelationCausal)
	require.NoError(t, err)

	neighbors := g.Neighbors(a.ID)
	require.Len(t, neighbors, 2)
	byConcept := map[string]Neighbor{}
	for _, n := range neighbors {
		byConcept[n.ConceptID] = n
	}
	assert.True(t, byConcept[b.ID].Outgoing)
	assert.False(t, byConcept[c.ID].Outgoing)
}

func TestSnapshotStableOrder(t *testing.T) {
	_, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("morning")
	addMemory(t, g, a.ID, "americano", 0.8)
	_, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationTemporal)
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, "g1", snap.Group)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
	assert.Equal(t, 1, snap.MemoryCount)
	assert.Equal(t, snap, g.Snapshot())
}

func TestBatchApplyAtomic(t *testing.T) {
	db, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("lonely")
	m1 := addMemory(t, g, a.ID, "americano", 0.8)
	m2 := addMemory(t, g, a.ID, "latte", 0.4)
	conn, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationUnclassified)
	require.NoError(t, err)

	err = g.Apply(&Batch{
		MemoryStrengths:   map[string]float64{m1.ID: 0.64, "gone": 0.1},
		RemoveMemories:    []string{m2.ID},
		RemoveConnections: []string{conn.ID},
		RemoveConcepts:    []string{b.ID},
		MarkDecayedAt:     12345,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.64, g.Memory(m1.ID).Strength, 1e-9)
	assert.Nil(t, g.Memory(m2.ID))
	assert.Nil(t, g.Connection(conn.ID))
	assert.Nil(t, g.Concept(b.ID))

	meta, err := db.GetGroupMeta("g1")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), meta.LastDecayedAt)

	row, err := db.GetMemory("g1", m1.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.64, row.Strength, 1e-9)
}

func TestLoadRebuildsAdjacency(t *testing.T) {
	db, g := testGraph(t, "g1")
	a, _, _ := g.AddConcept("coffee")
	b, _, _ := g.AddConcept("morning")
	addMemory(t, g, a.ID, "americano", 0.8)
	_, err := g.AddConnection(a.ID, b.ID, 0.5, store.RelationTemporal)
	require.NoError(t, err)

	reloaded, err := Load(db, "g1", Options{ReinforceStep: 0.1})
	require.NoError(t, err)

	assert.Equal(t, g.Snapshot(), reloaded.Snapshot())
	assert.Len(t, reloaded.Neighbors(a.ID), 1)
	assert.Equal(t, a.ID, reloaded.ConceptByName("COFFEE").ID)
}

func TestPartitionIsolatesGroups(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := NewPartition(db, Options{ReinforceStep: 0.1})

	g1, err := p.Graph("alpha")
	require.NoError(t, err)
	g2, err := p.Graph("beta")
	require.NoError(t, err)

	c1, _, err := g1.AddConcept("project")
	require.NoError(t, err)
	c2, _, err := g2.AddConcept("project")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)

	require.NoError(t, g1.AddMemory(&store.Memory{ConceptID: c1.ID, Content: "demo shipped"}))
	assert.Empty(t, g2.Memories())

	// Same graph instance handed back on repeat access.
	again, err := p.Graph("alpha")
	require.NoError(t, err)
	assert.Same(t, g1, again)

	groups, err := p.Groups()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, groups)

	_, err = p.Graph("  ")
	assert.True(t, memerr.IsValidation(err))
}
