package store

import (
	"database/sql"
	"fmt"
)

// Memory is a stored fact or episode attached to one concept.
type Memory struct {
	ID             string
	GroupID        string
	ConceptID      string
	Content        string
	Details        string
	Participants   string
	Location       string
	Emotion        string
	Tags           string
	Strength       float64
	Confidence     float64
	CreatedAt      int64
	LastAccessedAt int64
	AccessCount    int
}

// SaveMemory inserts or replaces a memory row.
func (db *DB) SaveMemory(m *Memory) error {
	_, err := db.Exec(`
		INSERT INTO memories (group_id, id, concept_id, content, details, participants,
			location, emotion, tags, strength, confidence, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, id) DO UPDATE SET
			concept_id = excluded.concept_id, content = excluded.content,
			details = excluded.details, participants = excluded.participants,
			location = excluded.location, emotion = excluded.emotion, tags = excluded.tags,
			strength = excluded.strength, confidence = excluded.confidence,
			last_accessed_at = excluded.last_accessed_at, access_count = excluded.access_count
	`, m.GroupID, m.ID, m.ConceptID, m.Content, m.Details, m.Participants,
		m.Location, m.Emotion, m.Tags, m.Strength, m.Confidence,
		m.CreatedAt, m.LastAccessedAt, m.AccessCount)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(group, id string) (*Memory, error) {
	row := db.QueryRow(`
		SELECT group_id, id, concept_id, content, details, participants, location, emotion, tags,
			strength, confidence, created_at, last_accessed_at, access_count
		FROM memories WHERE group_id = ? AND id = ?
	`, group, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// ListMemories returns all memories in a group.
func (db *DB) ListMemories(group string) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT group_id, id, concept_id, content, details, participants, location, emotion, tags,
			strength, confidence, created_at, last_accessed_at, access_count
		FROM memories WHERE group_id = ?
		ORDER BY id
	`, group)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

// DeleteMemory removes a memory and its vector.
func (db *DB) DeleteMemory(group, id string) error {
	if err := db.DeleteVector(group, id); err != nil {
		return fmt.Errorf("delete vector for memory %s: %w", id, err)
	}
	_, err := db.Exec("DELETE FROM memories WHERE group_id = ? AND id = ?", group, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var m Memory
	var details, participants, location, emotion, tags sql.NullString
	err := r.Scan(&m.GroupID, &m.ID, &m.ConceptID, &m.Content,
		&details, &participants, &location, &emotion, &tags,
		&m.Strength, &m.Confidence, &m.CreatedAt, &m.LastAccessedAt, &m.AccessCount)
	if err != nil {
		return nil, err
	}
	m.Details = details.String
	m.Participants = participants.String
	m.Location = location.String
	m.Emotion = emotion.String
	m.Tags = tags.String
	return &m, nil
}
