// Package engine orchestrates memory formation, recall, and the periodic
// forgetting and consolidation passes.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// MaintenanceStats aggregates one maintenance run over a group.
type MaintenanceStats struct {
	Group         string             `json:"group"`
	Decay         DecayStats         `json:"decay"`
	Consolidation ConsolidationStats `json:"consolidation"`
}

// Engine owns the per-group graphs and the services operating on them.
type Engine struct {
	DB        *store.DB
	Partition *graph.Partition

	cfg       config.Config
	cache     *EmbeddingCache // nil when no embedder is configured
	formation *Formation
	recall    *Recall
	decay     *Decay
	consol    *Consolidation
	log       *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates an engine over an open store. embedder may be nil; recall then
// runs without the semantic strategy and consolidation falls back to token
// overlap.
func New(db *store.DB, cfg config.Config, embedder Embedder, log *zap.Logger) (*Engine, error) {
	var cache *EmbeddingCache
	if embedder != nil {
		var err error
		cache, err = NewEmbeddingCache(db, embedder, cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
	}

	spreader := Spreader{
		Lambda:  cfg.Spreading.Lambda,
		MaxHops: cfg.Spreading.MaxHops,
		Floor:   cfg.Spreading.Floor,
	}

	return &Engine{
		DB:        db,
		Partition: graph.NewPartition(db, graph.Options{ReinforceStep: cfg.Formation.ReinforceStep}),
		cfg:       cfg,
		cache:     cache,
		formation: NewFormation(cfg.Formation, log),
		recall:    NewRecall(cfg.Recall, spreader, cache, log),
		decay:     NewDecay(cfg.Decay, log),
		consol:    NewConsolidation(cfg.Consolidation, cache, log),
		log:       log,
		stopCh:    make(chan struct{}),
	}, nil
}

// FormMemory converts fact records into graph mutations for a group and
// returns the new memory ids.
func (e *Engine) FormMemory(ctx context.Context, group string, records []FactRecord) ([]string, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.formation.Form(g, records)
}

// FormMemoryRaw parses raw summarizer output for a group, falling back to
// keyword extraction when the output is unusable.
func (e *Engine) FormMemoryRaw(ctx context.Context, group, raw string) ([]string, ParseResult, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return nil, ParseResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ParseResult{}, err
	}
	return e.formation.FormRaw(g, raw)
}

// Recall runs the multi-strategy recall pipeline for a group.
func (e *Engine) Recall(ctx context.Context, group, query string, opts RecallOptions) ([]RecallResult, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return nil, err
	}
	return e.recall.Recall(ctx, g, query, opts)
}

// GraphSnapshot returns a group's nodes and edges for visualization.
func (e *Engine) GraphSnapshot(group string) (graph.Snapshot, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return graph.Snapshot{}, err
	}
	return g.Snapshot(), nil
}

// AdjustStrength nudges a memory's or connection's strength by delta.
func (e *Engine) AdjustStrength(group, entityID string, delta float64) (float64, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return 0, err
	}
	return g.AdjustStrength(entityID, delta)
}

// RunMaintenance triggers decay and consolidation for one group on demand.
func (e *Engine) RunMaintenance(ctx context.Context, group string) (MaintenanceStats, error) {
	g, err := e.Partition.Graph(group)
	if err != nil {
		return MaintenanceStats{}, err
	}
	return e.maintainGroup(ctx, g)
}

func (e *Engine) maintainGroup(ctx context.Context, g *graph.Graph) (MaintenanceStats, error) {
	stats := MaintenanceStats{Group: g.Group()}

	if e.cfg.Decay.Enabled {
		ds, err := e.decay.Run(e.DB, g)
		if err != nil {
			return stats, err
		}
		stats.Decay = ds
	}
	if e.cfg.Consolidation.Enabled {
		cs, err := e.consol.Run(ctx, g)
		if err != nil {
			return stats, err
		}
		stats.Consolidation = cs
	}
	return stats, nil
}

// StartMaintenance runs a maintenance sweep across all groups now and then
// on the configured interval, until Stop is called. A group's failure is
// logged and never aborts the other groups.
func (e *Engine) StartMaintenance() {
	interval := e.cfg.Decay.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	e.maintainAll()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.maintainAll()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// maintainAll sweeps every group, finishing the current group's batch before
// honoring a stop. Both passes are idempotent per interval, so a cancelled
// sweep resumes safely at the next tick.
func (e *Engine) maintainAll() {
	groups, err := e.Partition.Groups()
	if err != nil {
		e.log.Error("maintenance: list groups", zap.Error(err))
		return
	}

	for _, group := range groups {
		select {
		case <-e.stopCh:
			return
		default:
		}

		g, err := e.Partition.Graph(group)
		if err != nil {
			e.log.Error("maintenance: load group", zap.String("group", group), zap.Error(err))
			continue
		}
		stats, err := e.maintainGroup(context.Background(), g)
		if err != nil {
			e.log.Error("maintenance: group pass failed",
				zap.String("group", group), zap.Error(err))
			continue
		}
		if stats.Decay.MemoriesRemoved > 0 || stats.Consolidation.Merges > 0 {
			e.log.Info("maintenance: group pass",
				zap.String("group", group),
				zap.Int("memories_removed", stats.Decay.MemoriesRemoved),
				zap.Int("concepts_pruned", stats.Decay.ConceptsPruned),
				zap.Int("merges", stats.Consolidation.Merges))
		}
	}
}

// Stop shuts down the engine's background goroutines and releases the
// embedding cache. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.cache != nil {
			e.cache.Close()
		}
	})
}
