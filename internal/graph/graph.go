// Package graph holds the authoritative in-memory memory graph for one group
// and keeps it consistent with the SQLite row store underneath.
package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// Options tunes graph mutation behavior.
type Options struct {
	// ReinforceStep is added to a connection's strength when the same
	// concept pair co-occurs again.
	ReinforceStep float64
}

// Graph is the in-memory view of one group's concepts, memories, and
// connections, plus the adjacency index derived from the connections.
// All mutations write the row store first, then the maps, under one
// write lock, so readers never observe a half-applied change.
type Graph struct {
	mu    sync.RWMutex
	group string
	db    *store.DB
	opts  Options

	concepts    map[string]*store.Concept
	memories    map[string]*store.Memory
	connections map[string]*store.Connection

	byName    map[string]string              // lower(name) -> concept id
	byConcept map[string]map[string]struct{} // concept id -> memory ids
	out       map[string]map[string]string   // concept id -> connection id -> to id
	in        map[string]map[string]string   // concept id -> connection id -> from id
	pairs     map[string]string              // from + "\x00" + to -> connection id
}

// Load reads a group's rows from the store and rebuilds the adjacency index.
func Load(db *store.DB, group string, opts Options) (*Graph, error) {
	g := &Graph{
		group:       group,
		db:          db,
		opts:        opts,
		concepts:    make(map[string]*store.Concept),
		memories:    make(map[string]*store.Memory),
		connections: make(map[string]*store.Connection),
		byName:      make(map[string]string),
		byConcept:   make(map[string]map[string]struct{}),
		out:         make(map[string]map[string]string),
		in:          make(map[string]map[string]string),
		pairs:       make(map[string]string),
	}

	concepts, err := db.ListConcepts(group)
	if err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}
	for i := range concepts {
		c := concepts[i]
		g.concepts[c.ID] = &c
		g.byName[strings.ToLower(c.Name)] = c.ID
	}

	memories, err := db.ListMemories(group)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	for i := range memories {
		m := memories[i]
		g.memories[m.ID] = &m
		g.indexMemory(&m)
	}

	connections, err := db.ListConnections(group)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	for i := range connections {
		c := connections[i]
		g.connections[c.ID] = &c
		g.indexConnection(&c)
	}

	return g, nil
}

// Group returns the group id this graph belongs to.
func (g *Graph) Group() string { return g.group }

func (g *Graph) indexMemory(m *store.Memory) {
	if g.byConcept[m.ConceptID] == nil {
		g.byConcept[m.ConceptID] = make(map[string]struct{})
	}
	g.byConcept[m.ConceptID][m.ID] = struct{}{}
}

func (g *Graph) indexConnection(c *store.Connection) {
	if g.out[c.FromConceptID] == nil {
		g.out[c.FromConceptID] = make(map[string]string)
	}
	g.out[c.FromConceptID][c.ID] = c.ToConceptID
	if g.in[c.ToConceptID] == nil {
		g.in[c.ToConceptID] = make(map[string]string)
	}
	g.in[c.ToConceptID][c.ID] = c.FromConceptID
	g.pairs[pairKey(c.FromConceptID, c.ToConceptID)] = c.ID
}

func (g *Graph) unindexConnection(c *store.Connection) {
	delete(g.out[c.FromConceptID], c.ID)
	delete(g.in[c.ToConceptID], c.ID)
	delete(g.pairs, pairKey(c.FromConceptID, c.ToConceptID))
}

func pairKey(from, to string) string { return from + "\x00" + to }

// AddConcept creates a concept or returns the existing one when the name is
// already taken within the group (case-insensitive). The returned bool
// reports whether a new concept was created.
func (g *Graph) AddConcept(name string) (*store.Concept, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, memerr.NewValidation("name", "must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byName[strings.ToLower(name)]; ok {
		c := *g.concepts[id]
		return &c, false, nil
	}

	now := time.Now().UnixMilli()
	c := &store.Concept{
		ID:              uuid.NewString(),
		GroupID:         g.group,
		Name:            name,
		Abstractness:    nameAbstractness(name),
		CreatedAt:       now,
		LastActivatedAt: now,
	}
	if err := g.db.SaveConcept(c); err != nil {
		return nil, false, err
	}
	g.concepts[c.ID] = c
	g.byName[strings.ToLower(name)] = c.ID

	out := *c
	return &out, true, nil
}

// AddMemory attaches a memory to an existing concept. Strength is clamped
// to [0,1]. Fails with NotFound for unknown concepts and CrossGroup when the
// concept lives in another group.
func (g *Graph) AddMemory(m *store.Memory) error {
	if strings.TrimSpace(m.Content) == "" {
		return memerr.NewValidation("content", "must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.requireConcept(m.ConceptID); err != nil {
		return err
	}

	m.GroupID = g.group
	m.Strength = clamp01(m.Strength)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := g.db.SaveMemory(m); err != nil {
		return err
	}

	stored := *m
	g.memories[stored.ID] = &stored
	g.indexMemory(&stored)
	g.rescoreConcept(m.ConceptID)
	return nil
}

// AddConnection links two concepts. When the directed pair already exists the
// edge is reinforced instead: strength = min(1, existing + ReinforceStep),
// and an unclassified relation is upgraded to the supplied one.
func (g *Graph) AddConnection(fromID, toID string, strength float64, relation store.RelationType) (*store.Connection, error) {
	if fromID == toID {
		return nil, memerr.NewValidation("connection", "cannot link a concept to itself")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.requireConcept(fromID); err != nil {
		return nil, err
	}
	if err := g.requireConcept(toID); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	if id, ok := g.pairs[pairKey(fromID, toID)]; ok {
		existing := *g.connections[id]
		existing.Strength = clamp01(existing.Strength + g.opts.ReinforceStep)
		existing.LastReinforcedAt = now
		if existing.Relation == store.RelationUnclassified && relation != store.RelationUnclassified {
			existing.Relation = relation
		}
		if err := g.db.SaveConnection(&existing); err != nil {
			return nil, err
		}
		g.connections[id] = &existing
		out := existing
		return &out, nil
	}

	c := &store.Connection{
		ID:               uuid.NewString(),
		GroupID:          g.group,
		FromConceptID:    fromID,
		ToConceptID:      toID,
		Strength:         clamp01(strength),
		Relation:         relation,
		CreatedAt:        now,
		LastReinforcedAt: now,
	}
	if err := g.db.SaveConnection(c); err != nil {
		return nil, err
	}
	g.connections[c.ID] = c
	g.indexConnection(c)
	g.rescoreConcept(fromID)
	g.rescoreConcept(toID)

	out := *c
	return &out, nil
}

// requireConcept distinguishes a cross-group reference from a plain unknown
// id. Caller holds the write lock.
func (g *Graph) requireConcept(id string) error {
	if _, ok := g.concepts[id]; ok {
		return nil
	}
	group, found, err := g.db.FindConceptGroup(id)
	if err != nil {
		return err
	}
	if found && group != g.group {
		return memerr.CrossGroupError{ID: id, WantGroup: g.group, GotGroup: group}
	}
	return memerr.NewNotFound("concept", id, g.group)
}

// RemoveConcept deletes a concept, its memories, and its incident
// connections, and repairs the adjacency index.
func (g *Graph) RemoveConcept(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.concepts[id]
	if !ok {
		return memerr.NewNotFound("concept", id, g.group)
	}
	if err := g.db.DeleteConceptCascade(g.group, id); err != nil {
		return err
	}
	g.dropConceptLocked(c)
	return nil
}

// dropConceptLocked removes a concept and everything hanging off it from the
// in-memory maps. Caller holds the write lock and has persisted the delete.
func (g *Graph) dropConceptLocked(c *store.Concept) {
	for memID := range g.byConcept[c.ID] {
		delete(g.memories, memID)
	}
	delete(g.byConcept, c.ID)

	for connID := range g.out[c.ID] {
		if conn, ok := g.connections[connID]; ok {
			g.unindexConnection(conn)
			delete(g.connections, connID)
		}
	}
	for connID := range g.in[c.ID] {
		if conn, ok := g.connections[connID]; ok {
			g.unindexConnection(conn)
			delete(g.connections, connID)
		}
	}
	delete(g.out, c.ID)
	delete(g.in, c.ID)
	delete(g.byName, strings.ToLower(c.Name))
	delete(g.concepts, c.ID)
}

// RemoveMemory deletes one memory and its cached vector.
func (g *Graph) RemoveMemory(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.memories[id]
	if !ok {
		return memerr.NewNotFound("memory", id, g.group)
	}
	if err := g.db.DeleteMemory(g.group, id); err != nil {
		return err
	}
	delete(g.byConcept[m.ConceptID], id)
	delete(g.memories, id)
	g.rescoreConcept(m.ConceptID)
	return nil
}

// TouchMemories marks memories as accessed: access count and timestamp are
// bumped and strength receives a small reinforcement. The owning concepts
// register an activation. Unknown ids are skipped.
func (g *Graph) TouchMemories(ids []string, reinforce float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	touched := make(map[string]struct{})
	for _, id := range ids {
		m, ok := g.memories[id]
		if !ok {
			continue
		}
		updated := *m
		updated.AccessCount++
		updated.LastAccessedAt = now
		updated.Strength = clamp01(updated.Strength + reinforce)
		if err := g.db.SaveMemory(&updated); err != nil {
			continue
		}
		g.memories[id] = &updated
		touched[m.ConceptID] = struct{}{}
	}

	for conceptID := range touched {
		c, ok := g.concepts[conceptID]
		if !ok {
			continue
		}
		updated := *c
		updated.ActivationCount++
		updated.LastActivatedAt = now
		g.concepts[conceptID] = &updated
		g.rescoreConcept(conceptID)
	}
}

// AdjustStrength applies a delta to a memory's or connection's strength,
// clamped to [0,1]. The id is looked up across both kinds.
func (g *Graph) AdjustStrength(id string, delta float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.memories[id]; ok {
		updated := *m
		updated.Strength = clamp01(updated.Strength + delta)
		if err := g.db.SaveMemory(&updated); err != nil {
			return 0, err
		}
		g.memories[id] = &updated
		return updated.Strength, nil
	}
	if c, ok := g.connections[id]; ok {
		updated := *c
		updated.Strength = clamp01(updated.Strength + delta)
		updated.LastReinforcedAt = time.Now().UnixMilli()
		if err := g.db.SaveConnection(&updated); err != nil {
			return 0, err
		}
		g.connections[id] = &updated
		return updated.Strength, nil
	}
	return 0, memerr.NewNotFound("entity", id, g.group)
}

// rescoreConcept recomputes a concept's importance from its activity and its
// degree in the graph. Caller holds the write lock. Persistence failures are
// tolerated; the score is derived state and converges on the next mutation.
func (g *Graph) rescoreConcept(id string) {
	c, ok := g.concepts[id]
	if !ok {
		return
	}
	updated := *c
	degree := len(g.out[id]) + len(g.in[id])
	updated.Importance = min(0.4, float64(updated.ActivationCount)*0.02) +
		min(0.3, float64(degree)*0.03) +
		min(0.3, float64(len(g.byConcept[id]))*0.03)

	hier := 0
	for connID := range g.in[id] {
		if conn, ok := g.connections[connID]; ok && conn.Relation == store.RelationHierarchical {
			hier++
		}
	}
	updated.Abstractness = clamp01(nameAbstractness(updated.Name) + min(0.5, float64(hier)*0.25))

	if err := g.db.SaveConcept(&updated); err != nil {
		return
	}
	g.concepts[id] = &updated
}

// nameAbstractness scores a name's length: short names tend to be broader
// topics. Range [0, 0.5].
func nameAbstractness(name string) float64 {
	n := 0
	for _, r := range name {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	score := 0.5 - float64(n-2)*0.05
	if score < 0 {
		return 0
	}
	if score > 0.5 {
		return 0.5
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
