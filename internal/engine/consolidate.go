package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// ConsolidationStats summarizes one consolidation pass over a group.
type ConsolidationStats struct {
	ConceptsVisited int `json:"concepts_visited"`
	Merges          int `json:"merges"`
}

// Consolidation merges near-duplicate memories within each concept. The
// higher-strength memory absorbs the other's metadata and the pair's
// combined strength. A concept over MaxPerConcept keeps merging its most
// similar pairs until it fits. A concept at or under the cap with no pair
// above the merge threshold is a fixed point, so the pass is idempotent.
type Consolidation struct {
	cfg   config.ConsolidationConfig
	cache *EmbeddingCache // nil falls back to token overlap
	log   *zap.Logger
	now   func() time.Time
}

// NewConsolidation creates a consolidation pass. cache may be nil.
func NewConsolidation(cfg config.ConsolidationConfig, cache *EmbeddingCache, log *zap.Logger) *Consolidation {
	return &Consolidation{cfg: cfg, cache: cache, log: log, now: time.Now}
}

// Run consolidates every concept in the group and commits the result as one
// batch.
func (c *Consolidation) Run(ctx context.Context, g *graph.Graph) (ConsolidationStats, error) {
	var stats ConsolidationStats

	batch := &graph.Batch{MarkConsolidatedAt: c.now().UnixMilli()}
	for _, concept := range g.Concepts() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		memories := g.MemoriesOf(concept.ID)
		if len(memories) < 2 {
			continue
		}
		stats.ConceptsVisited++

		sort.Slice(memories, func(i, j int) bool { return memories[i].ID < memories[j].ID })
		stats.Merges += c.consolidateConcept(ctx, g, memories, batch)
	}

	if err := g.Apply(batch); err != nil {
		return stats, err
	}
	if stats.Merges > 0 {
		c.log.Info("consolidation pass merged memories",
			zap.String("group", g.Group()),
			zap.Int("merges", stats.Merges))
	}
	return stats, nil
}

// consolidateConcept greedily merges the most similar pair above the
// threshold until no mergeable pair remains, then keeps merging the most
// similar pairs regardless of threshold while the concept is over
// MaxPerConcept, accumulating the mutations into the batch. Returns the
// number of merges.
func (c *Consolidation) consolidateConcept(ctx context.Context, g *graph.Graph, memories []store.Memory, batch *graph.Batch) int {
	working := make([]store.Memory, len(memories))
	copy(working, memories)

	merges := 0
	for len(working) > 1 {
		overCap := c.cfg.MaxPerConcept > 0 && len(working) > c.cfg.MaxPerConcept

		bestA, bestB := -1, -1
		bestSim := -1.0
		for i := 0; i < len(working); i++ {
			for j := i + 1; j < len(working); j++ {
				sim := c.similarity(ctx, g, &working[i], &working[j])
				if sim < c.cfg.MergeThreshold && !overCap {
					continue
				}
				if sim > bestSim {
					bestA, bestB, bestSim = i, j, sim
				}
			}
		}
		if bestA < 0 {
			break
		}

		primary, absorbed := working[bestA], working[bestB]
		if absorbed.Strength > primary.Strength {
			primary, absorbed = absorbed, primary
		}
		merged := absorb(primary, absorbed, c.cfg.StrengthBonus)

		batch.UpdateMemories = append(batch.UpdateMemories, merged)
		batch.RemoveMemories = append(batch.RemoveMemories, absorbed.ID)
		if c.cache != nil {
			c.cache.Invalidate(g.Group(), absorbed.ID)
		}
		merges++

		next := working[:0]
		for _, m := range working {
			switch m.ID {
			case absorbed.ID:
			case merged.ID:
				next = append(next, merged)
			default:
				next = append(next, m)
			}
		}
		working = next
	}
	return merges
}

// absorb folds the weaker memory into the stronger: union of participants
// and tags, distinguishing details appended, combined strength capped at 1.
func absorb(primary, absorbed store.Memory, bonus float64) store.Memory {
	merged := primary
	merged.Strength = clampUnit(primary.Strength + bonus)
	if absorbed.Confidence > merged.Confidence {
		merged.Confidence = absorbed.Confidence
	}
	merged.Participants = unionList(primary.Participants, absorbed.Participants)
	merged.Tags = unionList(primary.Tags, absorbed.Tags)
	if absorbed.Details != "" && absorbed.Details != primary.Details {
		if merged.Details == "" {
			merged.Details = absorbed.Details
		} else {
			merged.Details = merged.Details + "; " + absorbed.Details
		}
	}
	merged.AccessCount += absorbed.AccessCount
	if absorbed.LastAccessedAt > merged.LastAccessedAt {
		merged.LastAccessedAt = absorbed.LastAccessedAt
	}
	if absorbed.CreatedAt < merged.CreatedAt {
		merged.CreatedAt = absorbed.CreatedAt
	}
	return merged
}

// similarity measures content similarity via embeddings when available,
// falling back to token overlap when the provider is down.
func (c *Consolidation) similarity(ctx context.Context, g *graph.Graph, a, b *store.Memory) float64 {
	if c.cache != nil {
		va, errA := c.cache.MemoryVector(ctx, g.Group(), a)
		vb, errB := c.cache.MemoryVector(ctx, g.Group(), b)
		if errA == nil && errB == nil {
			return CosineSimilarity(va, vb)
		}
		if !errors.Is(errA, memerr.ErrEmbeddingUnavailable) && !errors.Is(errB, memerr.ErrEmbeddingUnavailable) {
			return 0
		}
	}
	return jaccard(tokenize(a.Content), tokenize(b.Content))
}

// jaccard is token-set overlap, used when no embedder is reachable.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func unionList(a, b string) string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range append(splitList(a), splitList(b)...) {
		key := strings.ToLower(part)
		if part == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, part)
	}
	return strings.Join(out, ", ")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
