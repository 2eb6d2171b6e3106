package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "concepts: named topic nodes, partitioned by group",
		SQL: `
CREATE TABLE concepts (
    group_id          TEXT NOT NULL,
    id                TEXT NOT NULL,
    name              TEXT NOT NULL,
    name_lower        TEXT NOT NULL,
    importance        REAL NOT NULL DEFAULT 0,
    abstractness      REAL NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    last_activated_at INTEGER NOT NULL,
    activation_count  INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (group_id, id)
);

CREATE UNIQUE INDEX idx_concepts_name ON concepts(group_id, name_lower);
`,
	},
	{
		Version:     2,
		Description: "memories: stored facts attached to concepts",
		SQL: `
CREATE TABLE memories (
    group_id         TEXT NOT NULL,
    id               TEXT NOT NULL,
    concept_id       TEXT NOT NULL,
    content          TEXT NOT NULL,
    details          TEXT,
    participants     TEXT,
    location         TEXT,
    emotion          TEXT,
    tags             TEXT,
    strength         REAL NOT NULL DEFAULT 1.0,
    confidence       REAL NOT NULL DEFAULT 1.0,
    created_at       INTEGER NOT NULL,
    last_accessed_at INTEGER NOT NULL,
    access_count     INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (group_id, id)
);

CREATE INDEX idx_memories_concept  ON memories(group_id, concept_id);
CREATE INDEX idx_memories_strength ON memories(group_id, strength DESC);
`,
	},
	{
		Version:     3,
		Description: "connections: directed weighted edges between concepts",
		SQL: `
CREATE TABLE connections (
    group_id           TEXT NOT NULL,
    id                 TEXT NOT NULL,
    from_concept_id    TEXT NOT NULL,
    to_concept_id      TEXT NOT NULL,
    strength           REAL NOT NULL DEFAULT 1.0,
    relation_type      TEXT NOT NULL DEFAULT 'unclassified',
    created_at         INTEGER NOT NULL,
    last_reinforced_at INTEGER NOT NULL,

    PRIMARY KEY (group_id, id)
);

CREATE UNIQUE INDEX idx_connections_pair ON connections(group_id, from_concept_id, to_concept_id);
CREATE INDEX idx_connections_from ON connections(group_id, from_concept_id);
CREATE INDEX idx_connections_to   ON connections(group_id, to_concept_id);
`,
	},
	{
		Version:     4,
		Description: "memory_vectors: embedding vectors for semantic recall",
		SQL: `
CREATE TABLE memory_vectors (
    group_id   TEXT NOT NULL,
    memory_id  TEXT NOT NULL,
    text_hash  TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (group_id, memory_id)
);
`,
	},
	{
		Version:     5,
		Description: "group_meta: per-group maintenance bookkeeping",
		SQL: `
CREATE TABLE group_meta (
    group_id             TEXT PRIMARY KEY,
    last_decayed_at      INTEGER NOT NULL DEFAULT 0,
    last_consolidated_at INTEGER NOT NULL DEFAULT 0
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
