package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// VectorRecord holds an embedding for a memory.
type VectorRecord struct {
	GroupID    string
	MemoryID   string
	TextHash   string
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for a memory. The text hash
// invalidates stale vectors after consolidation rewrites content.
func (db *DB) SaveVector(group, memoryID, textHash string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.Exec(`
		INSERT INTO memory_vectors (group_id, memory_id, text_hash, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, memory_id) DO UPDATE SET
			text_hash = excluded.text_hash, embedding = excluded.embedding,
			model = excluded.model, dimensions = excluded.dimensions, created_at = excluded.created_at
	`, group, memoryID, textHash, blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for a memory, or nil if not found.
func (db *DB) GetVector(group, memoryID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRow(`
		SELECT group_id, memory_id, text_hash, embedding, model, dimensions, created_at
		FROM memory_vectors WHERE group_id = ? AND memory_id = ?
	`, group, memoryID).Scan(&v.GroupID, &v.MemoryID, &v.TextHash, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// DeleteVector removes the embedding for a memory.
func (db *DB) DeleteVector(group, memoryID string) error {
	_, err := db.Exec("DELETE FROM memory_vectors WHERE group_id = ? AND memory_id = ?", group, memoryID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}
