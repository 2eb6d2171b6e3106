package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// Strategy names, used as keys in result component breakdowns and weight
// overrides.
const (
	StrategyKeyword     = "keyword"
	StrategySemantic    = "semantic"
	StrategyAssociative = "associative"
	StrategyTemporal    = "temporal"
	StrategyStrength    = "strength"
)

// RecallOptions shapes one recall call.
type RecallOptions struct {
	Limit int
	// Seed optionally names a concept to spread association from even when
	// no strategy matched it.
	Seed string
	// Weights overrides the configured strategy weights. A strategy with
	// weight 0 is disabled. Nil means configured defaults.
	Weights map[string]float64
}

// RecallResult is one ranked memory with its per-strategy score breakdown.
type RecallResult struct {
	Memory     store.Memory       `json:"memory"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// Recall runs the multi-strategy recall pipeline over one group's graph.
type Recall struct {
	cfg    config.RecallConfig
	spread Spreader
	cache  *EmbeddingCache // nil disables the semantic strategy entirely
	log    *zap.Logger
	now    func() time.Time
}

// NewRecall creates a recall pipeline. cache may be nil.
func NewRecall(cfg config.RecallConfig, spread Spreader, cache *EmbeddingCache, log *zap.Logger) *Recall {
	return &Recall{cfg: cfg, spread: spread, cache: cache, log: log, now: time.Now}
}

// Recall scores the group's memories with every enabled strategy, fuses the
// normalized scores by weighted sum, and returns the ranked results. As a
// side effect, returned memories are touched: access count, timestamp, and a
// small strength reinforcement.
func (r *Recall) Recall(ctx context.Context, g *graph.Graph, query string, opts RecallOptions) ([]RecallResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, memerr.NewValidation("query", "must not be empty")
	}

	memories := g.Memories()
	if len(memories) == 0 {
		return nil, nil
	}

	weights := r.weights(opts.Weights)

	// Phase one: the independent strategies run concurrently. Associative
	// runs after the join since it seeds from keyword and semantic hits.
	var (
		wg          sync.WaitGroup
		keyword     map[string]float64
		semantic    map[string]float64
		temporal    map[string]float64
		strength    map[string]float64
		semanticOK  bool
		semanticErr error
	)

	if weights[StrategyKeyword] > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keyword = r.scoreKeyword(g, memories, query)
		}()
	}
	if weights[StrategySemantic] > 0 && r.cache != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic, semanticErr = r.scoreSemantic(ctx, g, memories, query)
			semanticOK = semanticErr == nil
		}()
	}
	if weights[StrategyTemporal] > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			temporal = r.scoreTemporal(memories)
		}()
	}
	if weights[StrategyStrength] > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			strength = r.scoreStrength(memories)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if semanticErr != nil {
		if !errors.Is(semanticErr, memerr.ErrEmbeddingUnavailable) {
			return nil, semanticErr
		}
		r.log.Warn("semantic strategy disabled for this call",
			zap.String("group", g.Group()), zap.Error(semanticErr))
	}

	var associative map[string]float64
	if weights[StrategyAssociative] > 0 {
		associative = r.scoreAssociative(g, memories, keyword, semantic, opts.Seed)
	}

	components := map[string]map[string]float64{}
	if weights[StrategyKeyword] > 0 {
		components[StrategyKeyword] = keyword
	}
	if weights[StrategySemantic] > 0 && r.cache != nil && semanticOK {
		components[StrategySemantic] = semantic
	}
	if weights[StrategyAssociative] > 0 {
		components[StrategyAssociative] = associative
	}
	if weights[StrategyTemporal] > 0 {
		components[StrategyTemporal] = temporal
	}
	if weights[StrategyStrength] > 0 {
		components[StrategyStrength] = strength
	}

	results := r.fuse(memories, components, weights)
	limit := opts.Limit
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, res := range results {
			ids[i] = res.Memory.ID
		}
		g.TouchMemories(ids, r.cfg.TouchReinforce)
	}
	return results, nil
}

// weights resolves the effective per-strategy weights.
func (r *Recall) weights(override map[string]float64) map[string]float64 {
	if override != nil {
		return override
	}
	return map[string]float64{
		StrategyKeyword:     r.cfg.KeywordWeight,
		StrategySemantic:    r.cfg.SemanticWeight,
		StrategyAssociative: r.cfg.AssociativeWeight,
		StrategyTemporal:    r.cfg.TemporalWeight,
		StrategyStrength:    r.cfg.StrengthWeight,
	}
}

// fuse deduplicates by memory id, computes the weighted sum of component
// scores with weights normalized over the strategies that actually ran, and
// ranks descending with deterministic tie-breaks.
func (r *Recall) fuse(memories []store.Memory, components map[string]map[string]float64, weights map[string]float64) []RecallResult {
	var totalWeight float64
	for name := range components {
		totalWeight += weights[name]
	}
	if totalWeight == 0 {
		return nil
	}

	byID := make(map[string]*store.Memory, len(memories))
	for i := range memories {
		byID[memories[i].ID] = &memories[i]
	}

	scored := make(map[string]map[string]float64)
	for name, scores := range components {
		for id, s := range scores {
			if s <= 0 {
				continue
			}
			if scored[id] == nil {
				scored[id] = make(map[string]float64, len(components))
			}
			scored[id][name] = s
		}
	}

	results := make([]RecallResult, 0, len(scored))
	for id, parts := range scored {
		m, ok := byID[id]
		if !ok {
			continue
		}
		var fused float64
		full := make(map[string]float64, len(components))
		for name := range components {
			s := parts[name]
			full[name] = s
			fused += weights[name] * s
		}
		fused /= totalWeight
		if fused < r.cfg.MinScore {
			continue
		}
		results = append(results, RecallResult{Memory: *m, Score: fused, Components: full})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Strength != b.Memory.Strength {
			return a.Memory.Strength > b.Memory.Strength
		}
		if a.Memory.LastAccessedAt != b.Memory.LastAccessedAt {
			return a.Memory.LastAccessedAt > b.Memory.LastAccessedAt
		}
		return a.Memory.ID < b.Memory.ID
	})
	return results
}

// scoreKeyword matches query tokens against a memory's content, tags,
// participants, and its concept's name. Exact token hits count fully, prefix
// hits half.
func (r *Recall) scoreKeyword(g *graph.Graph, memories []store.Memory, query string) map[string]float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	conceptNames := make(map[string]string)
	for i := range memories {
		m := &memories[i]
		name, ok := conceptNames[m.ConceptID]
		if !ok {
			if c := g.Concept(m.ConceptID); c != nil {
				name = c.Name
			}
			conceptNames[m.ConceptID] = name
		}

		haystack := make(map[string]bool)
		for _, tok := range tokenize(m.Content + " " + m.Tags + " " + m.Participants + " " + name) {
			haystack[tok] = true
		}

		var matched float64
		for _, qt := range queryTokens {
			if haystack[qt] {
				matched++
				continue
			}
			for ht := range haystack {
				if strings.HasPrefix(ht, qt) || strings.HasPrefix(qt, ht) {
					matched += 0.5
					break
				}
			}
		}
		if matched > 0 {
			scores[m.ID] = clampUnit(matched / float64(len(queryTokens)))
		}
	}
	return scores
}

// scoreSemantic ranks memories by cosine similarity between the query
// embedding and each memory's cached embedding. Similarity below the
// configured floor contributes nothing.
func (r *Recall) scoreSemantic(ctx context.Context, g *graph.Graph, memories []store.Memory, query string) (map[string]float64, error) {
	queryVec, err := r.cache.QueryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	for i := range memories {
		m := &memories[i]
		vec, err := r.cache.MemoryVector(ctx, g.Group(), m)
		if err != nil {
			if errors.Is(err, memerr.ErrEmbeddingUnavailable) {
				return nil, err
			}
			continue
		}
		sim := CosineSimilarity(queryVec, vec)
		if sim < r.cfg.SemanticFloor {
			continue
		}
		scores[m.ID] = clampUnit(sim)
	}
	return scores, nil
}

// scoreAssociative spreads activation from the concepts hit by keyword and
// semantic matches (plus an optional explicit seed) and scores each
// activated concept's strongest memories by the activation reached.
func (r *Recall) scoreAssociative(g *graph.Graph, memories []store.Memory, keyword, semantic map[string]float64, seed string) map[string]float64 {
	conceptOf := make(map[string]string, len(memories))
	for i := range memories {
		conceptOf[memories[i].ID] = memories[i].ConceptID
	}

	seedSet := make(map[string]struct{})
	for id := range keyword {
		seedSet[conceptOf[id]] = struct{}{}
	}
	for id := range semantic {
		seedSet[conceptOf[id]] = struct{}{}
	}
	if seed != "" {
		if c := g.ConceptByName(seed); c != nil {
			seedSet[c.ID] = struct{}{}
		} else if c := g.Concept(seed); c != nil {
			seedSet[c.ID] = struct{}{}
		}
	}
	if len(seedSet) == 0 {
		return nil
	}

	seeds := make([]string, 0, len(seedSet))
	for id := range seedSet {
		seeds = append(seeds, id)
	}
	activation := r.spread.Spread(g, seeds)

	perConcept := r.cfg.PerConceptLimit
	if perConcept <= 0 {
		perConcept = 2
	}

	scores := make(map[string]float64)
	for conceptID, act := range activation {
		conceptMemories := g.MemoriesOf(conceptID)
		sort.Slice(conceptMemories, func(i, j int) bool {
			if conceptMemories[i].Strength != conceptMemories[j].Strength {
				return conceptMemories[i].Strength > conceptMemories[j].Strength
			}
			return conceptMemories[i].ID < conceptMemories[j].ID
		})
		if len(conceptMemories) > perConcept {
			conceptMemories = conceptMemories[:perConcept]
		}
		for _, m := range conceptMemories {
			if act > scores[m.ID] {
				scores[m.ID] = clampUnit(act)
			}
		}
	}
	return scores
}

// scoreTemporal implements the bimodal recency curve: a boost for memories
// accessed inside the recent window, a smaller boost near age anniversaries,
// and nothing for the forgotten middle.
func (r *Recall) scoreTemporal(memories []store.Memory) map[string]float64 {
	now := r.now().UnixMilli()
	scores := make(map[string]float64)
	for i := range memories {
		m := &memories[i]

		var recent float64
		if window := r.cfg.RecentWindow.Milliseconds(); window > 0 {
			age := now - m.LastAccessedAt
			if age >= 0 && age <= window {
				recent = r.cfg.RecentWeight * (1 - float64(age)/float64(window))
			}
		}

		var anniversary float64
		ageDays := float64(now-m.CreatedAt) / float64(24*time.Hour.Milliseconds())
		slack := float64(r.cfg.AnniversarySlack)
		for _, period := range r.cfg.AnniversaryDays {
			if period <= 0 {
				continue
			}
			k := math.Round(ageDays / float64(period))
			if k < 1 {
				continue
			}
			diff := math.Abs(ageDays - k*float64(period))
			if diff <= slack {
				score := r.cfg.AnniversaryWeight * (1 - diff/(slack+1))
				if score > anniversary {
					anniversary = score
				}
			}
		}

		if s := math.Max(recent, anniversary); s > 0 {
			scores[m.ID] = clampUnit(s)
		}
	}
	return scores
}

// scoreStrength is the raw current strength, already in [0,1].
func (r *Recall) scoreStrength(memories []store.Memory) map[string]float64 {
	scores := make(map[string]float64, len(memories))
	for i := range memories {
		if memories[i].Strength > 0 {
			scores[memories[i].ID] = memories[i].Strength
		}
	}
	return scores
}
