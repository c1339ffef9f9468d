package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ceobrain/cortex/internal/storage"
)

// Ensure *VectorIndex implements storage.VectorIndex at compile time.
var _ storage.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements cosine similarity search on pgvector. It shares the
// relational store's connection and requires the pgvector extension; a
// missing extension is a configuration error surfaced at startup.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex applies the vector schema and returns the index.
func NewVectorIndex(db *sql.DB) (*VectorIndex, error) {
	if _, err := db.Exec(VectorSchema); err != nil {
		return nil, fmt.Errorf("postgres: pgvector unavailable (install the vector extension): %w", err)
	}
	return &VectorIndex{db: db}, nil
}

// Upsert stores or replaces the embedding for the given ID.
func (v *VectorIndex) Upsert(ctx context.Context, id string, embedding []float32, meta storage.VectorMetadata) error {
	if id == "" || len(embedding) == 0 {
		return storage.ErrInvalidInput
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal vector metadata: %w", err)
	}
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO note_vectors (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
		id, pgvector.NewVector(embedding), metaJSON)
	if err != nil {
		return fmt.Errorf("postgres: upsert vector %s: %w", id, err)
	}
	return nil
}

// Search returns up to topK matches ranked by cosine similarity descending.
// pgvector's <=> operator is cosine distance; similarity = 1 - distance.
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int, userID string) ([]storage.VectorMatch, error) {
	if len(embedding) == 0 || topK < 1 {
		return []storage.VectorMatch{}, nil
	}

	query := `
		SELECT id, 1 - (embedding <=> $1::vector) AS similarity, metadata
		FROM note_vectors`
	args := []interface{}{pgvector.NewVector(embedding)}
	if userID != "" {
		query += ` WHERE metadata->>'user_id' = $2`
		args = append(args, userID)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1::vector LIMIT %d`, topK)

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.VectorMatch
	for rows.Next() {
		var (
			m        storage.VectorMatch
			metaJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Score, &metaJSON); err != nil {
			return nil, fmt.Errorf("postgres: vector search scan: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode vector metadata: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Delete removes the embedding for the given ID. Missing IDs are a no-op.
func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM note_vectors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete vector %s: %w", id, err)
	}
	return nil
}
