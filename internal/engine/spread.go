package engine

import (
	"github.com/mnemo-dev/mnemo/internal/graph"
)

// Spreader propagates activation from seed concepts across the connection
// graph. Activation fades by the connection strength and Lambda at every
// hop, so propagation always dies out within MaxHops.
type Spreader struct {
	Lambda  float64 // hop decay factor, in (0,1)
	MaxHops int
	Floor   float64 // minimum activation worth propagating
}

// Spread runs breadth-first propagation from the seeds. Seeds start at
// activation 1.0; a neighbor receives source activation multiplied by the
// connection strength and Lambda, and only joins the frontier above Floor.
// A concept reached by several paths keeps the maximum activation seen.
func (s Spreader) Spread(g *graph.Graph, seeds []string) map[string]float64 {
	activation := make(map[string]float64, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if g.Concept(id) == nil {
			continue
		}
		if activation[id] < 1.0 {
			activation[id] = 1.0
			frontier = append(frontier, id)
		}
	}

	for hop := 0; hop < s.MaxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			source := activation[id]
			for _, n := range g.Neighbors(id) {
				candidate := source * n.Strength * s.Lambda
				if candidate <= s.Floor {
					continue
				}
				if candidate > activation[n.ConceptID] {
					activation[n.ConceptID] = candidate
					next = append(next, n.ConceptID)
				}
			}
		}
		frontier = next
	}
	return activation
}
