package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/ceobrain/cortex/internal/storage"
)

var _ storage.VectorIndex = (*VectorIndex)(nil)

// VectorIndex stores embeddings as float32 blobs and ranks them with
// an in-process cosine scan. Fine for a single-user corpus; swap in the
// pgvector backend when the note count grows past a few tens of thousands.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex builds a vector index on the store's connection. The
// note_vectors table is part of the base schema, so there is nothing
// extra to apply.
func NewVectorIndex(db *sql.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// Upsert inserts or replaces the embedding for the given ID.
func (v *VectorIndex) Upsert(ctx context.Context, id string, embedding []float32, meta storage.VectorMetadata) error {
	if id == "" || len(embedding) == 0 {
		return storage.ErrInvalidInput
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("sqlite: marshal vector metadata: %w", err)
	}
	if _, err := v.db.ExecContext(ctx, `
		INSERT INTO note_vectors (id, embedding, metadata) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata`,
		id, encodeEmbedding(embedding), metaJSON,
	); err != nil {
		return fmt.Errorf("sqlite: upsert vector %s: %w", id, err)
	}
	return nil
}

// Search loads all stored vectors and ranks them by cosine similarity,
// returning up to topK matches ordered best first.
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int, userID string) ([]storage.VectorMatch, error) {
	if len(embedding) == 0 || topK < 1 {
		return []storage.VectorMatch{}, nil
	}

	rows, err := v.db.QueryContext(ctx, `SELECT id, embedding, metadata FROM note_vectors`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.VectorMatch
	for rows.Next() {
		var (
			id       string
			blob     []byte
			metaJSON []byte
		)
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("sqlite: vector search scan: %w", err)
		}

		var meta storage.VectorMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: decode vector metadata %s: %w", id, err)
		}
		if userID != "" && meta.UserID != userID {
			continue
		}

		candidate, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode embedding %s: %w", id, err)
		}
		if len(candidate) != len(embedding) {
			continue
		}

		matches = append(matches, storage.VectorMatch{
			ID:       id,
			Score:    cosineSimilarity(embedding, candidate),
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector search rows: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes the embedding for an ID. Missing IDs are not an error.
func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM note_vectors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete vector %s: %w", id, err)
	}
	return nil
}

// encodeEmbedding packs float32 values as little-endian bytes.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
