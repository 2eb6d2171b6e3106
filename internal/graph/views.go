package graph

import (
	"sort"
	"strings"

	"github.com/mnemo-dev/mnemo/internal/store"
)

// Neighbor is one hop from a concept, in either edge direction.
type Neighbor struct {
	ConceptID    string
	ConnectionID string
	Strength     float64
	Relation     store.RelationType
	Outgoing     bool
}

// Snapshot is a serializable view of a group's graph for dashboards.
type Snapshot struct {
	Group       string         `json:"group"`
	Nodes       []SnapshotNode `json:"nodes"`
	Edges       []SnapshotEdge `json:"edges"`
	MemoryCount int            `json:"memory_count"`
}

type SnapshotNode struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Importance      float64 `json:"importance"`
	Abstractness    float64 `json:"abstractness"`
	MemoryCount     int     `json:"memory_count"`
	ActivationCount int     `json:"activation_count"`
}

type SnapshotEdge struct {
	ID       string             `json:"id"`
	From     string             `json:"from"`
	To       string             `json:"to"`
	Strength float64            `json:"strength"`
	Relation store.RelationType `json:"relation"`
}

// Concept returns a copy of a concept, or nil.
func (g *Graph) Concept(id string) *store.Concept {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.concepts[id]
	if !ok {
		return nil
	}
	out := *c
	return &out
}

// ConceptByName looks a concept up by its case-insensitive name.
func (g *Graph) ConceptByName(name string) *store.Concept {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	out := *g.concepts[id]
	return &out
}

// Memory returns a copy of a memory, or nil.
func (g *Graph) Memory(id string) *store.Memory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.memories[id]
	if !ok {
		return nil
	}
	out := *m
	return &out
}

// Connection returns a copy of a connection, or nil.
func (g *Graph) Connection(id string) *store.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.connections[id]
	if !ok {
		return nil
	}
	out := *c
	return &out
}

// Concepts returns copies of every concept in the group.
func (g *Graph) Concepts() []store.Concept {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]store.Concept, 0, len(g.concepts))
	for _, c := range g.concepts {
		out = append(out, *c)
	}
	return out
}

// Memories returns copies of every memory in the group.
func (g *Graph) Memories() []store.Memory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]store.Memory, 0, len(g.memories))
	for _, m := range g.memories {
		out = append(out, *m)
	}
	return out
}

// Connections returns copies of every connection in the group.
func (g *Graph) Connections() []store.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]store.Connection, 0, len(g.connections))
	for _, c := range g.connections {
		out = append(out, *c)
	}
	return out
}

// MemoriesOf returns copies of the memories attached to one concept.
func (g *Graph) MemoriesOf(conceptID string) []store.Memory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]store.Memory, 0, len(g.byConcept[conceptID]))
	for id := range g.byConcept[conceptID] {
		out = append(out, *g.memories[id])
	}
	return out
}

// Neighbors returns every concept one hop away, across both edge directions.
func (g *Graph) Neighbors(conceptID string) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Neighbor, 0, len(g.out[conceptID])+len(g.in[conceptID]))
	for connID, toID := range g.out[conceptID] {
		c := g.connections[connID]
		out = append(out, Neighbor{ConceptID: toID, ConnectionID: connID, Strength: c.Strength, Relation: c.Relation, Outgoing: true})
	}
	for connID, fromID := range g.in[conceptID] {
		c := g.connections[connID]
		out = append(out, Neighbor{ConceptID: fromID, ConnectionID: connID, Strength: c.Strength, Relation: c.Relation})
	}
	return out
}

// CountMemories returns how many memories a concept holds.
func (g *Graph) CountMemories(conceptID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byConcept[conceptID])
}

// Snapshot renders the whole group for visualization, nodes and edges sorted
// by id for stable output.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Group:       g.group,
		Nodes:       make([]SnapshotNode, 0, len(g.concepts)),
		Edges:       make([]SnapshotEdge, 0, len(g.connections)),
		MemoryCount: len(g.memories),
	}
	for _, c := range g.concepts {
		snap.Nodes = append(snap.Nodes, SnapshotNode{
			ID:              c.ID,
			Name:            c.Name,
			Importance:      c.Importance,
			Abstractness:    c.Abstractness,
			MemoryCount:     len(g.byConcept[c.ID]),
			ActivationCount: c.ActivationCount,
		})
	}
	for _, c := range g.connections {
		snap.Edges = append(snap.Edges, SnapshotEdge{
			ID: c.ID, From: c.FromConceptID, To: c.ToConceptID,
			Strength: c.Strength, Relation: c.Relation,
		})
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap
}
