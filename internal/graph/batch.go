package graph

import (
	"fmt"

	"github.com/mnemo-dev/mnemo/internal/store"
)

// Batch is a set of maintenance mutations applied atomically: one SQL
// transaction, one write-lock hold. Decay and consolidation build batches
// from a read snapshot, so a cancelled pass never leaves a group
// half-decayed.
type Batch struct {
	MemoryStrengths     map[string]float64
	ConnectionStrengths map[string]float64
	UpdateMemories      []store.Memory
	RemoveMemories      []string
	RemoveConnections   []string
	RemoveConcepts      []string

	MarkDecayedAt      int64
	MarkConsolidatedAt int64
}

// Empty reports whether the batch carries no mutations besides bookkeeping.
func (b *Batch) Empty() bool {
	return len(b.MemoryStrengths) == 0 && len(b.ConnectionStrengths) == 0 &&
		len(b.UpdateMemories) == 0 && len(b.RemoveMemories) == 0 &&
		len(b.RemoveConnections) == 0 && len(b.RemoveConcepts) == 0
}

// Apply commits a batch. Ids that vanished since the snapshot was taken are
// skipped rather than failed; maintenance tolerates racing writers.
func (g *Graph) Apply(b *Batch) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	rollback := func(err error) error {
		tx.Rollback()
		return err
	}

	for id, s := range b.MemoryStrengths {
		if _, ok := g.memories[id]; !ok {
			continue
		}
		if _, err := tx.Exec("UPDATE memories SET strength = ? WHERE group_id = ? AND id = ?",
			clamp01(s), g.group, id); err != nil {
			return rollback(fmt.Errorf("batch memory strength: %w", err))
		}
	}
	for id, s := range b.ConnectionStrengths {
		if _, ok := g.connections[id]; !ok {
			continue
		}
		if _, err := tx.Exec("UPDATE connections SET strength = ? WHERE group_id = ? AND id = ?",
			clamp01(s), g.group, id); err != nil {
			return rollback(fmt.Errorf("batch connection strength: %w", err))
		}
	}
	for i := range b.UpdateMemories {
		m := b.UpdateMemories[i]
		if _, ok := g.memories[m.ID]; !ok {
			continue
		}
		if _, err := tx.Exec(`
			UPDATE memories SET content = ?, details = ?, participants = ?, location = ?,
				emotion = ?, tags = ?, strength = ?, confidence = ?,
				last_accessed_at = ?, access_count = ?
			WHERE group_id = ? AND id = ?
		`, m.Content, m.Details, m.Participants, m.Location, m.Emotion, m.Tags,
			clamp01(m.Strength), m.Confidence, m.LastAccessedAt, m.AccessCount,
			g.group, m.ID); err != nil {
			return rollback(fmt.Errorf("batch memory update: %w", err))
		}
	}
	for _, id := range b.RemoveMemories {
		if _, ok := g.memories[id]; !ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM memory_vectors WHERE group_id = ? AND memory_id = ?", g.group, id); err != nil {
			return rollback(fmt.Errorf("batch vector delete: %w", err))
		}
		if _, err := tx.Exec("DELETE FROM memories WHERE group_id = ? AND id = ?", g.group, id); err != nil {
			return rollback(fmt.Errorf("batch memory delete: %w", err))
		}
	}
	for _, id := range b.RemoveConnections {
		if _, ok := g.connections[id]; !ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM connections WHERE group_id = ? AND id = ?", g.group, id); err != nil {
			return rollback(fmt.Errorf("batch connection delete: %w", err))
		}
	}
	for _, id := range b.RemoveConcepts {
		if _, ok := g.concepts[id]; !ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM concepts WHERE group_id = ? AND id = ?", g.group, id); err != nil {
			return rollback(fmt.Errorf("batch concept delete: %w", err))
		}
	}
	if b.MarkDecayedAt > 0 {
		if _, err := tx.Exec(`
			INSERT INTO group_meta (group_id, last_decayed_at) VALUES (?, ?)
			ON CONFLICT(group_id) DO UPDATE SET last_decayed_at = excluded.last_decayed_at
		`, g.group, b.MarkDecayedAt); err != nil {
			return rollback(fmt.Errorf("batch mark decayed: %w", err))
		}
	}
	if b.MarkConsolidatedAt > 0 {
		if _, err := tx.Exec(`
			INSERT INTO group_meta (group_id, last_consolidated_at) VALUES (?, ?)
			ON CONFLICT(group_id) DO UPDATE SET last_consolidated_at = excluded.last_consolidated_at
		`, g.group, b.MarkConsolidatedAt); err != nil {
			return rollback(fmt.Errorf("batch mark consolidated: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// Rows are durable; now mutate the maps.
	for id, s := range b.MemoryStrengths {
		if m, ok := g.memories[id]; ok {
			updated := *m
			updated.Strength = clamp01(s)
			g.memories[id] = &updated
		}
	}
	for id, s := range b.ConnectionStrengths {
		if c, ok := g.connections[id]; ok {
			updated := *c
			updated.Strength = clamp01(s)
			g.connections[id] = &updated
		}
	}
	for i := range b.UpdateMemories {
		m := b.UpdateMemories[i]
		if _, ok := g.memories[m.ID]; ok {
			m.GroupID = g.group
			m.Strength = clamp01(m.Strength)
			stored := m
			g.memories[m.ID] = &stored
		}
	}
	for _, id := range b.RemoveMemories {
		if m, ok := g.memories[id]; ok {
			delete(g.byConcept[m.ConceptID], id)
			delete(g.memories, id)
		}
	}
	for _, id := range b.RemoveConnections {
		if c, ok := g.connections[id]; ok {
			g.unindexConnection(c)
			delete(g.connections, id)
		}
	}
	for _, id := range b.RemoveConcepts {
		if c, ok := g.concepts[id]; ok {
			g.dropConceptLocked(c)
		}
	}
	return nil
}
