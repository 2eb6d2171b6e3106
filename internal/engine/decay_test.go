package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/store"
)

func testDecay(t *testing.T, cfg config.DecayConfig) *Decay {
	t.Helper()
	return NewDecay(cfg, zaptest.NewLogger(t))
}

func decayConfig() config.DecayConfig {
	return config.DecayConfig{
		Enabled:      true,
		Interval:     24 * time.Hour,
		Threshold:    30 * 24 * time.Hour,
		Factor:       0.9,
		RemovalFloor: 0.05,
		Grace:        7 * 24 * time.Hour,
	}
}

func TestDecayIdempotentWithinInterval(t *testing.T) {
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "m1", ConceptID: c.ID, Content: "americano",
		Strength: 0.8, CreatedAt: old, LastAccessedAt: old,
	}))
	require.NoError(t, db.SetLastDecayed("g1", now.Add(-24*time.Hour).UnixMilli()))

	d := testDecay(t, decayConfig())
	d.now = func() time.Time { return now }

	stats, err := d.Run(db, g)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Intervals)
	first := g.Memory("m1").Strength

	// Re-running inside the same interval changes nothing.
	stats, err = d.Run(db, g)
	require.NoError(t, err)
	assert.Zero(t, stats.Intervals)
	assert.Equal(t, first, g.Memory("m1").Strength)
}

func TestDecayComposability(t *testing.T) {
	// Decay applied n times with factor f equals one decay with f^n.
	setup := func(t *testing.T) (*store.DB, *graph.Graph) {
		db, g := testGraph(t, "g1")
		c, _, err := g.AddConcept("coffee")
		require.NoError(t, err)
		old := baseTime.Add(-60 * 24 * time.Hour).UnixMilli()
		require.NoError(t, g.AddMemory(&store.Memory{
			ID: "m1", ConceptID: c.ID, Content: "americano",
			Strength: 0.8, CreatedAt: old, LastAccessedAt: old,
		}))
		return db, g
	}

	cfg := decayConfig()
	cfg.Grace = 10000 * 24 * time.Hour // no removals in this test

	// Three passes, one interval apart.
	dbA, gA := setup(t)
	dA := testDecay(t, cfg)
	require.NoError(t, dbA.SetLastDecayed("g1", baseTime.UnixMilli()))
	for i := 1; i <= 3; i++ {
		step := baseTime.Add(time.Duration(i) * 24 * time.Hour)
		dA.now = func() time.Time { return step }
		_, err := dA.Run(dbA, gA)
		require.NoError(t, err)
	}

	// One pass covering three intervals.
	dbB, gB := setup(t)
	dB := testDecay(t, cfg)
	require.NoError(t, dbB.SetLastDecayed("g1", baseTime.UnixMilli()))
	dB.now = func() time.Time { return baseTime.Add(3 * 24 * time.Hour) }
	_, err := dB.Run(dbB, gB)
	require.NoError(t, err)

	a := gA.Memory("m1").Strength
	b := gB.Memory("m1").Strength
	assert.InDelta(t, a, b, 1e-9)
	assert.InDelta(t, 0.8*math.Pow(0.9, 3), a, 1e-9)
}

func TestDecayAccessCountDampens(t *testing.T) {
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	old := baseTime.Add(-60 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "untouched", ConceptID: c.ID, Content: "americano",
		Strength: 0.8, CreatedAt: old, LastAccessedAt: old,
	}))
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "favorite", ConceptID: c.ID, Content: "espresso",
		Strength: 0.8, CreatedAt: old, LastAccessedAt: old, AccessCount: 9,
	}))
	require.NoError(t, db.SetLastDecayed("g1", baseTime.Add(-24*time.Hour).UnixMilli()))

	d := testDecay(t, decayConfig())
	d.now = func() time.Time { return baseTime }
	_, err = d.Run(db, g)
	require.NoError(t, err)

	assert.Greater(t, g.Memory("favorite").Strength, g.Memory("untouched").Strength)
	assert.InDelta(t, 0.8*math.Pow(0.9, 0.1), g.Memory("favorite").Strength, 1e-9)
}

func TestDecayFreshMemoriesUntouched(t *testing.T) {
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)
	m := addTestMemory(t, g, c.ID, "americano just now", 0.8)

	d := testDecay(t, decayConfig())
	_, err = d.Run(db, g)
	require.NoError(t, err)
	assert.Equal(t, 0.8, g.Memory(m.ID).Strength)
}

func TestDecayScenarioFortyDaysRemoves(t *testing.T) {
	// A 0.8-strength memory idle for 40 days against a 30-day threshold:
	// the backlog of intervals drops it below the 0.05 floor, past the
	// grace window, so the pass removes it and prunes the lone concept.
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "m1", ConceptID: c.ID, Content: "I like unsweetened americano",
		Strength: 0.8, Confidence: 0.8, CreatedAt: old, LastAccessedAt: old,
	}))
	require.NoError(t, db.SetLastDecayed("g1", old))

	d := testDecay(t, decayConfig())
	d.now = func() time.Time { return now }
	stats, err := d.Run(db, g)
	require.NoError(t, err)

	assert.Equal(t, 40, stats.Intervals)
	assert.Equal(t, 1, stats.MemoriesRemoved)
	assert.Equal(t, 1, stats.ConceptsPruned)
	assert.Nil(t, g.Memory("m1"))
	assert.Nil(t, g.ConceptByName("coffee"))

	r := testRecall(t, nil, nil)
	results, err := r.Recall(t.Context(), g, "coffee", RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDecayFirstPassCountsIdleBacklog(t *testing.T) {
	// A group that has never been decayed must still pay off idle backlog:
	// the 40-day-idle memory goes below the floor and out in a single pass,
	// with no prior last-decayed mark to lean on.
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	now := time.Now()
	forgotten := now.Add(-40 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "forgotten", ConceptID: c.ID, Content: "I like unsweetened americano",
		Strength: 0.8, Confidence: 0.8, CreatedAt: forgotten, LastAccessedAt: forgotten,
	}))
	// Idle past the threshold but inside grace: decays hard, survives.
	fading := now.Add(-31 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "fading", ConceptID: c.ID, Content: "espresso",
		Strength: 0.8, CreatedAt: fading, LastAccessedAt: fading,
	}))

	d := testDecay(t, decayConfig())
	d.now = func() time.Time { return now }
	stats, err := d.Run(db, g)
	require.NoError(t, err)

	assert.Equal(t, 40, stats.Intervals)
	assert.Equal(t, 1, stats.MemoriesRemoved)
	assert.Nil(t, g.Memory("forgotten"))
	require.NotNil(t, g.Memory("fading"))
	assert.InDelta(t, 0.8*math.Pow(0.9, 31), g.Memory("fading").Strength, 1e-9)

	// The pass set the mark, so an immediate re-run is a no-op.
	stats, err = d.Run(db, g)
	require.NoError(t, err)
	assert.Zero(t, stats.Intervals)
	assert.InDelta(t, 0.8*math.Pow(0.9, 31), g.Memory("fading").Strength, 1e-9)
}

func TestDecayEntityIdleCapsBacklog(t *testing.T) {
	// A memory that crossed the idle threshold partway through a long group
	// backlog decays by its own idle intervals, not the group's.
	db, g := testGraph(t, "g1")
	c, _, err := g.AddConcept("coffee")
	require.NoError(t, err)

	old := baseTime.Add(-32 * 24 * time.Hour).UnixMilli()
	require.NoError(t, g.AddMemory(&store.Memory{
		ID: "m1", ConceptID: c.ID, Content: "americano",
		Strength: 0.8, CreatedAt: old, LastAccessedAt: old,
	}))
	require.NoError(t, db.SetLastDecayed("g1", baseTime.Add(-40*24*time.Hour).UnixMilli()))

	cfg := decayConfig()
	cfg.Grace = 10000 * 24 * time.Hour // no removals in this test
	d := testDecay(t, cfg)
	d.now = func() time.Time { return baseTime }
	stats, err := d.Run(db, g)
	require.NoError(t, err)

	assert.Equal(t, 40, stats.Intervals)
	assert.InDelta(t, 0.8*math.Pow(0.9, 32), g.Memory("m1").Strength, 1e-9)
}

func TestDecayConnectionsAndGrace(t *testing.T) {
	db, g := testGraph(t, "g1")
	a, _, err := g.AddConcept("coffee")
	require.NoError(t, err)
	b, _, err := g.AddConcept("tea")
	require.NoError(t, err)
	conn, err := g.AddConnection(a.ID, b.ID, 0.3, store.RelationSimilar)
	require.NoError(t, err)

	// Keep the concepts alive with fresh memories.
	addTestMemory(t, g, a.ID, "coffee note", 0.9)
	addTestMemory(t, g, b.ID, "tea note", 0.9)

	// Age the connection 32 days: decayed but inside threshold+grace, so
	// even a sub-floor strength survives.
	old := baseTime.Add(-32 * 24 * time.Hour).UnixMilli()
	_, err = db.Exec("UPDATE connections SET strength = 0.01, last_reinforced_at = ? WHERE id = ?", old, conn.ID)
	require.NoError(t, err)
	reloaded, err := graph.Load(db, "g1", graph.Options{ReinforceStep: 0.1})
	require.NoError(t, err)

	require.NoError(t, db.SetLastDecayed("g1", baseTime.Add(-24*time.Hour).UnixMilli()))
	d := testDecay(t, decayConfig())
	d.now = func() time.Time { return baseTime }
	stats, err := d.Run(db, reloaded)
	require.NoError(t, err)

	assert.Zero(t, stats.ConnectionsRemoved)
	assert.Equal(t, 1, stats.ConnectionsDecayed)
	assert.NotNil(t, reloaded.Connection(conn.ID))
}

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
