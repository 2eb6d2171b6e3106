package engine

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// DecayStats summarizes one decay pass over a group. Intervals is the group
// backlog applied; on a group's first pass it reports the largest per-entity
// backlog instead.
type DecayStats struct {
	Intervals          int `json:"intervals"`
	MemoriesDecayed    int `json:"memories_decayed"`
	MemoriesRemoved    int `json:"memories_removed"`
	ConnectionsDecayed int `json:"connections_decayed"`
	ConnectionsRemoved int `json:"connections_removed"`
	ConceptsPruned     int `json:"concepts_pruned"`
}

// Decay weakens and eventually removes idle memories and connections.
// A pass is idempotent per interval: the group's last-decayed timestamp
// gates how many intervals apply, so re-running inside the same interval is
// a no-op.
type Decay struct {
	cfg config.DecayConfig
	log *zap.Logger
	now func() time.Time
}

// NewDecay creates a decay scheduler pass.
func NewDecay(cfg config.DecayConfig, log *zap.Logger) *Decay {
	return &Decay{cfg: cfg, log: log, now: time.Now}
}

// Run applies decay to one group. Entities idle beyond the threshold lose
// strength by factor^n, where n counts whole intervals of the entity's own
// idle time, capped by the group backlog since the last pass; frequent access
// slows the slide. A group that has never been decayed carries no cap, so a
// first pass still pays off the full idle backlog. Entities below the removal
// floor whose idle time also exceeds threshold+grace are deleted, and
// concepts left without memories or connections are pruned. The whole pass
// commits as one batch.
func (d *Decay) Run(db *store.DB, g *graph.Graph) (DecayStats, error) {
	var stats DecayStats

	meta, err := db.GetGroupMeta(g.Group())
	if err != nil {
		return stats, err
	}

	now := d.now().UnixMilli()
	interval := d.cfg.Interval.Milliseconds()
	if interval <= 0 {
		return stats, nil
	}

	firstPass := meta.LastDecayedAt == 0
	backlog := int64(math.MaxInt64)
	mark := now
	if !firstPass {
		backlog = (now - meta.LastDecayedAt) / interval
		if backlog <= 0 {
			return stats, nil
		}
		mark = meta.LastDecayedAt + backlog*interval
		stats.Intervals = int(backlog)
	}

	// entityIntervals keeps factor^n composable across passes: an entity's
	// total applied intervals always tracks floor(idle/interval), no matter
	// how the passes were spaced.
	entityIntervals := func(idle int64) int64 {
		n := idle / interval
		if n > backlog {
			n = backlog
		}
		return n
	}

	threshold := d.cfg.Threshold.Milliseconds()
	graceCutoff := threshold + d.cfg.Grace.Milliseconds()

	batch := &graph.Batch{
		MemoryStrengths:     make(map[string]float64),
		ConnectionStrengths: make(map[string]float64),
		MarkDecayedAt:       mark,
	}

	memories := g.Memories()
	connections := g.Connections()

	memCount := make(map[string]int)
	connCount := make(map[string]int)
	for i := range memories {
		memCount[memories[i].ConceptID]++
	}
	for i := range connections {
		connCount[connections[i].FromConceptID]++
		connCount[connections[i].ToConceptID]++
	}

	for i := range memories {
		m := &memories[i]
		idle := now - m.LastAccessedAt
		if idle <= threshold {
			continue
		}
		n := entityIntervals(idle)
		if n <= 0 {
			continue
		}
		if firstPass && int(n) > stats.Intervals {
			stats.Intervals = int(n)
		}
		// Frequently accessed memories resist forgetting.
		effective := math.Pow(d.cfg.Factor, 1/(1+float64(m.AccessCount)))
		next := m.Strength * math.Pow(effective, float64(n))
		if next < d.cfg.RemovalFloor && idle > graceCutoff {
			batch.RemoveMemories = append(batch.RemoveMemories, m.ID)
			memCount[m.ConceptID]--
			stats.MemoriesRemoved++
			continue
		}
		batch.MemoryStrengths[m.ID] = next
		stats.MemoriesDecayed++
	}

	for i := range connections {
		c := &connections[i]
		idle := now - c.LastReinforcedAt
		if idle <= threshold {
			continue
		}
		n := entityIntervals(idle)
		if n <= 0 {
			continue
		}
		if firstPass && int(n) > stats.Intervals {
			stats.Intervals = int(n)
		}
		next := c.Strength * math.Pow(d.cfg.Factor, float64(n))
		if next < d.cfg.RemovalFloor && idle > graceCutoff {
			batch.RemoveConnections = append(batch.RemoveConnections, c.ID)
			connCount[c.FromConceptID]--
			connCount[c.ToConceptID]--
			stats.ConnectionsRemoved++
			continue
		}
		batch.ConnectionStrengths[c.ID] = next
		stats.ConnectionsDecayed++
	}

	for _, c := range g.Concepts() {
		if memCount[c.ID] == 0 && connCount[c.ID] == 0 {
			batch.RemoveConcepts = append(batch.RemoveConcepts, c.ID)
			stats.ConceptsPruned++
		}
	}

	if err := g.Apply(batch); err != nil {
		return stats, err
	}

	d.log.Debug("decay pass complete",
		zap.String("group", g.Group()),
		zap.Int("intervals", stats.Intervals),
		zap.Int("memories_removed", stats.MemoriesRemoved),
		zap.Int("connections_removed", stats.ConnectionsRemoved),
		zap.Int("concepts_pruned", stats.ConceptsPruned))
	return stats, nil
}
