package store

import (
	"database/sql"
	"fmt"
)

// RelationType classifies the nature of a connection between concepts.
type RelationType string

const (
	RelationCausal       RelationType = "causal"
	RelationTemporal     RelationType = "temporal"
	RelationHierarchical RelationType = "hierarchical"
	RelationSimilar      RelationType = "similar"
	RelationOppositional RelationType = "oppositional"
	RelationUnclassified RelationType = "unclassified"
)

// Connection is a directed weighted edge between two concepts.
type Connection struct {
	ID               string
	GroupID          string
	FromConceptID    string
	ToConceptID      string
	Strength         float64
	Relation         RelationType
	CreatedAt        int64
	LastReinforcedAt int64
}

// SaveConnection inserts or replaces a connection row.
func (db *DB) SaveConnection(c *Connection) error {
	_, err := db.Exec(`
		INSERT INTO connections (group_id, id, from_concept_id, to_concept_id,
			strength, relation_type, created_at, last_reinforced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, id) DO UPDATE SET
			strength = excluded.strength, relation_type = excluded.relation_type,
			last_reinforced_at = excluded.last_reinforced_at
	`, c.GroupID, c.ID, c.FromConceptID, c.ToConceptID,
		c.Strength, string(c.Relation), c.CreatedAt, c.LastReinforcedAt)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

// ListConnections returns all connections in a group.
func (db *DB) ListConnections(group string) ([]Connection, error) {
	rows, err := db.Query(`
		SELECT group_id, id, from_concept_id, to_concept_id, strength, relation_type,
			created_at, last_reinforced_at
		FROM connections WHERE group_id = ?
		ORDER BY id
	`, group)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var connections []Connection
	for rows.Next() {
		var c Connection
		var relation string
		if err := rows.Scan(&c.GroupID, &c.ID, &c.FromConceptID, &c.ToConceptID,
			&c.Strength, &relation, &c.CreatedAt, &c.LastReinforcedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		c.Relation = RelationType(relation)
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// GetConnection returns a connection by id, or nil if not found.
func (db *DB) GetConnection(group, id string) (*Connection, error) {
	var c Connection
	var relation string
	err := db.QueryRow(`
		SELECT group_id, id, from_concept_id, to_concept_id, strength, relation_type,
			created_at, last_reinforced_at
		FROM connections WHERE group_id = ? AND id = ?
	`, group, id).Scan(&c.GroupID, &c.ID, &c.FromConceptID, &c.ToConceptID,
		&c.Strength, &relation, &c.CreatedAt, &c.LastReinforcedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	c.Relation = RelationType(relation)
	return &c, nil
}

// DeleteConnection removes a connection row.
func (db *DB) DeleteConnection(group, id string) error {
	_, err := db.Exec("DELETE FROM connections WHERE group_id = ? AND id = ?", group, id)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	return nil
}
