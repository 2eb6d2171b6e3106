package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Concept is a named topic node in the memory graph.
type Concept struct {
	ID              string
	GroupID         string
	Name            string
	Importance      float64
	Abstractness    float64
	CreatedAt       int64
	LastActivatedAt int64
	ActivationCount int
}

// SaveConcept inserts or replaces a concept row.
func (db *DB) SaveConcept(c *Concept) error {
	_, err := db.Exec(`
		INSERT INTO concepts (group_id, id, name, name_lower, importance, abstractness,
			created_at, last_activated_at, activation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, id) DO UPDATE SET
			name = excluded.name, name_lower = excluded.name_lower,
			importance = excluded.importance, abstractness = excluded.abstractness,
			last_activated_at = excluded.last_activated_at,
			activation_count = excluded.activation_count
	`, c.GroupID, c.ID, c.Name, strings.ToLower(c.Name), c.Importance, c.Abstractness,
		c.CreatedAt, c.LastActivatedAt, c.ActivationCount)
	if err != nil {
		return fmt.Errorf("save concept: %w", err)
	}
	return nil
}

// GetConcept returns a concept by id, or nil if not found.
func (db *DB) GetConcept(group, id string) (*Concept, error) {
	var c Concept
	err := db.QueryRow(`
		SELECT group_id, id, name, importance, abstractness, created_at, last_activated_at, activation_count
		FROM concepts WHERE group_id = ? AND id = ?
	`, group, id).Scan(&c.GroupID, &c.ID, &c.Name, &c.Importance, &c.Abstractness,
		&c.CreatedAt, &c.LastActivatedAt, &c.ActivationCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get concept: %w", err)
	}
	return &c, nil
}

// ListConcepts returns all concepts in a group.
func (db *DB) ListConcepts(group string) ([]Concept, error) {
	rows, err := db.Query(`
		SELECT group_id, id, name, importance, abstractness, created_at, last_activated_at, activation_count
		FROM concepts WHERE group_id = ?
		ORDER BY id
	`, group)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	defer rows.Close()

	var concepts []Concept
	for rows.Next() {
		var c Concept
		if err := rows.Scan(&c.GroupID, &c.ID, &c.Name, &c.Importance, &c.Abstractness,
			&c.CreatedAt, &c.LastActivatedAt, &c.ActivationCount); err != nil {
			return nil, fmt.Errorf("scan concept: %w", err)
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

// FindConceptGroup returns the group a concept id belongs to, if any.
// Used to distinguish cross-group references from plain unknown ids.
func (db *DB) FindConceptGroup(id string) (string, bool, error) {
	var group string
	err := db.QueryRow("SELECT group_id FROM concepts WHERE id = ?", id).Scan(&group)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find concept group: %w", err)
	}
	return group, true, nil
}

// DeleteConceptCascade removes a concept plus its memories, memory vectors,
// and incident connections in one transaction.
func (db *DB) DeleteConceptCascade(group, id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin cascade: %w", err)
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM memory_vectors WHERE group_id = ? AND memory_id IN
			(SELECT id FROM memories WHERE group_id = ? AND concept_id = ?)`, []any{group, group, id}},
		{`DELETE FROM memories WHERE group_id = ? AND concept_id = ?`, []any{group, id}},
		{`DELETE FROM connections WHERE group_id = ? AND (from_concept_id = ? OR to_concept_id = ?)`, []any{group, id, id}},
		{`DELETE FROM concepts WHERE group_id = ? AND id = ?`, []any{group, id}},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s.query, s.args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("cascade delete concept %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cascade: %w", err)
	}
	return nil
}
