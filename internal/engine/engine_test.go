package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

func testEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Recall.MinScore = 0
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(db, cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func TestEngineFormAndRecall(t *testing.T) {
	e := testEngine(t, nil)
	ctx := context.Background()

	ids, err := e.FormMemory(ctx, "g1", []FactRecord{{
		Content:    "I like unsweetened americano",
		Concepts:   []string{"coffee"},
		Confidence: 0.8,
	}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	results, err := e.Recall(ctx, "g1", "coffee", RecallOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].Memory.ID)
	assert.Equal(t, 0.8, results[0].Memory.Strength)
	assert.Greater(t, results[0].Components[StrategyKeyword], 0.0)
}

func TestEngineGroupValidation(t *testing.T) {
	e := testEngine(t, nil)
	_, err := e.Recall(context.Background(), "", "coffee", RecallOptions{})
	assert.True(t, memerr.IsValidation(err))
}

func TestEngineGraphSnapshot(t *testing.T) {
	e := testEngine(t, nil)
	_, err := e.FormMemory(context.Background(), "g1", []FactRecord{{
		Content:    "coffee before work",
		Concepts:   []string{"coffee", "work"},
		Confidence: 0.7,
	}})
	require.NoError(t, err)

	snap, err := e.GraphSnapshot("g1")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
	assert.Equal(t, 1, snap.MemoryCount)
}

func TestEngineAdjustStrength(t *testing.T) {
	e := testEngine(t, nil)
	ids, err := e.FormMemory(context.Background(), "g1", []FactRecord{{
		Content: "coffee", Concepts: []string{"coffee"}, Confidence: 0.5,
	}})
	require.NoError(t, err)

	s, err := e.AdjustStrength("g1", ids[0], 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, s, 1e-9)

	_, err = e.AdjustStrength("g1", "missing", 0.3)
	assert.True(t, memerr.IsNotFound(err))
}

func TestEngineRunMaintenance(t *testing.T) {
	e := testEngine(t, nil)
	ctx := context.Background()

	_, err := e.FormMemory(ctx, "g1", []FactRecord{
		{Content: "the demo went smoothly", Concepts: []string{"project"}, Confidence: 0.9},
		{Content: "the demo went smoothly again", Concepts: []string{"project"}, Confidence: 0.6},
	})
	require.NoError(t, err)

	stats, err := e.RunMaintenance(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", stats.Group)
	assert.Equal(t, 1, stats.Consolidation.Merges)

	// Second run is a fixed point for consolidation and gated for decay.
	stats, err = e.RunMaintenance(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, stats.Consolidation.Merges)
	assert.Zero(t, stats.Decay.Intervals)
}

func TestEngineMaintainAllIsolatesGroups(t *testing.T) {
	e := testEngine(t, nil)
	ctx := context.Background()

	for _, group := range []string{"a", "b"} {
		_, err := e.FormMemory(ctx, group, []FactRecord{{
			Content: "note for " + group, Concepts: []string{"notes"}, Confidence: 0.5,
		}})
		require.NoError(t, err)
	}

	e.maintainAll()

	for _, group := range []string{"a", "b"} {
		meta, err := e.DB.GetGroupMeta(group)
		require.NoError(t, err)
		assert.NotZero(t, meta.LastDecayedAt, "group %s should have been swept", group)
	}
}

func TestEngineStartMaintenanceStops(t *testing.T) {
	e := testEngine(t, func(cfg *config.Config) {
		cfg.Decay.Interval = 10 * time.Millisecond
	})
	e.StartMaintenance()
	time.Sleep(30 * time.Millisecond)
	e.Stop()
}
