package store

import (
	"database/sql"
	"fmt"
)

// GroupMeta tracks per-group maintenance timestamps.
type GroupMeta struct {
	GroupID            string
	LastDecayedAt      int64
	LastConsolidatedAt int64
}

// GetGroupMeta returns the maintenance bookkeeping for a group. A group that
// has never been maintained gets a zero-valued record.
func (db *DB) GetGroupMeta(group string) (*GroupMeta, error) {
	var m GroupMeta
	err := db.QueryRow(`
		SELECT group_id, last_decayed_at, last_consolidated_at
		FROM group_meta WHERE group_id = ?
	`, group).Scan(&m.GroupID, &m.LastDecayedAt, &m.LastConsolidatedAt)
	if err == sql.ErrNoRows {
		return &GroupMeta{GroupID: group}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group meta: %w", err)
	}
	return &m, nil
}

// SetLastDecayed records when a group's decay pass last completed.
func (db *DB) SetLastDecayed(group string, at int64) error {
	_, err := db.Exec(`
		INSERT INTO group_meta (group_id, last_decayed_at) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET last_decayed_at = excluded.last_decayed_at
	`, group, at)
	if err != nil {
		return fmt.Errorf("set last decayed: %w", err)
	}
	return nil
}

// SetLastConsolidated records when a group's consolidation pass last completed.
func (db *DB) SetLastConsolidated(group string, at int64) error {
	_, err := db.Exec(`
		INSERT INTO group_meta (group_id, last_consolidated_at) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET last_consolidated_at = excluded.last_consolidated_at
	`, group, at)
	if err != nil {
		return fmt.Errorf("set last consolidated: %w", err)
	}
	return nil
}
