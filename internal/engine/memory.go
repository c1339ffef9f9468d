package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ceobrain/cortex/internal/llm"
	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

const (
	// compressThreshold is the character budget for the memory block
	// injected into prompts. Larger blocks get condensed by the LLM, or
	// truncated when that fails.
	compressThreshold = 2000

	// overfetchFactor widens the vector search so re-ranking by recency
	// and orphan filtering still leave topK results to choose from.
	overfetchFactor = 2
)

// Memory stores notes with their embeddings and retrieves them ranked by
// blended similarity and recency.
type Memory struct {
	store     storage.Store
	index     storage.VectorIndex
	embedder  llm.EmbeddingGenerator
	generator llm.TextGenerator
}

// NewMemory creates the memory engine.
func NewMemory(store storage.Store, index storage.VectorIndex, embedder llm.EmbeddingGenerator, generator llm.TextGenerator) *Memory {
	return &Memory{
		store:     store,
		index:     index,
		embedder:  embedder,
		generator: generator,
	}
}

// ScoredMemory is one retrieved note with its ranking score.
type ScoredMemory struct {
	Note  *types.Note
	Score float64
}

// Save persists a note, links it to the given entities (creating them on
// first mention), and indexes its embedding under the note's ID. Entity IDs
// of everything linked are returned via the note.
func (m *Memory) Save(ctx context.Context, content string, entities []types.ExtractedEntity, userID string) (*types.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, storage.ErrInvalidInput
	}

	entityIDs := make([]string, 0, len(entities))
	entityNames := make([]string, 0, len(entities))
	for _, ext := range entities {
		e := &types.Entity{Name: ext.Name, Type: ext.Type, Description: ext.Description}
		if err := storage.WithRetry(ctx, "upsert entity", func() error {
			return m.store.UpsertEntity(ctx, e)
		}); err != nil {
			return nil, fmt.Errorf("save memory: %w", err)
		}
		entityIDs = append(entityIDs, e.ID)
		entityNames = append(entityNames, e.Name)
	}

	note := &types.Note{Content: content, CreatedAt: time.Now()}
	if err := storage.WithRetry(ctx, "create note", func() error {
		return m.store.CreateNote(ctx, note, entityIDs)
	}); err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		// The relational row exists; without a vector the note would be
		// invisible to retrieval, so roll it back.
		if delErr := m.store.DeleteNote(ctx, note.ID); delErr != nil {
			log.Printf("Memory: failed to roll back unindexed note %s: %v", note.ID, delErr)
		}
		return nil, fmt.Errorf("save memory: embed: %w", err)
	}

	meta := storage.VectorMetadata{
		NoteID:    note.ID,
		UserID:    userID,
		Timestamp: note.CreatedAt,
		Entities:  entityNames,
	}
	if err := storage.WithRetry(ctx, "index embedding", func() error {
		return m.index.Upsert(ctx, note.ID, embedding, meta)
	}); err != nil {
		if delErr := m.store.DeleteNote(ctx, note.ID); delErr != nil {
			log.Printf("Memory: failed to roll back unindexed note %s: %v", note.ID, delErr)
		}
		return nil, fmt.Errorf("save memory: %w", err)
	}
	return note, nil
}

// Retrieve searches for memories relevant to the query and returns them as
// a formatted block ready for prompt injection. Retrieval never fails the
// turn: any error degrades to an empty block.
func (m *Memory) Retrieve(ctx context.Context, query, userID string, topK int) string {
	scored := m.RetrieveScored(ctx, query, userID, topK)
	if len(scored) == 0 {
		return ""
	}

	lines := make([]string, len(scored))
	for i, sm := range scored {
		lines[i] = fmt.Sprintf("[%s] %s (Relevance: %.2f)",
			sm.Note.CreatedAt.Format("2006-01-02"), sm.Note.Content, sm.Score)
	}
	block := strings.Join(lines, "\n")

	if len(block) > compressThreshold {
		block = m.compress(ctx, block)
	}
	return block
}

// RetrieveScored returns the ranked raw matches. Errors degrade to nil.
func (m *Memory) RetrieveScored(ctx context.Context, query, userID string, topK int) []ScoredMemory {
	query = strings.TrimSpace(query)
	if query == "" || topK < 1 {
		return nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("Memory: query embedding failed, returning no memories: %v", err)
		return nil
	}

	matches, err := m.index.Search(ctx, embedding, topK*overfetchFactor, userID)
	if err != nil {
		log.Printf("Memory: vector search failed, returning no memories: %v", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]string, len(matches))
	simByID := make(map[string]float64, len(matches))
	for i, match := range matches {
		ids[i] = match.ID
		simByID[match.ID] = match.Score
	}

	notes, err := m.store.GetNotes(ctx, ids)
	if err != nil {
		log.Printf("Memory: note fetch failed, returning no memories: %v", err)
		return nil
	}
	if len(notes) < len(ids) {
		// Vector entries whose notes are gone are stale index garbage.
		log.Printf("Memory: dropped %d orphaned vector matches", len(ids)-len(notes))
	}

	now := time.Now()
	scored := make([]ScoredMemory, 0, len(notes))
	for _, note := range notes {
		scored = append(scored, ScoredMemory{
			Note:  note,
			Score: FinalScore(simByID[note.ID], note.CreatedAt, now),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Delete removes a note from both the relational store and the vector index.
func (m *Memory) Delete(ctx context.Context, noteID string) error {
	if err := m.store.DeleteNote(ctx, noteID); err != nil {
		return fmt.Errorf("delete memory %s: %w", noteID, err)
	}
	if err := m.index.Delete(ctx, noteID); err != nil {
		return fmt.Errorf("delete memory %s: vector: %w", noteID, err)
	}
	return nil
}

// compress shrinks an oversized memory block, preferring an LLM digest and
// falling back to a hard truncation.
func (m *Memory) compress(ctx context.Context, block string) string {
	condensed, err := m.generator.Complete(ctx, llm.CompressPrompt(block))
	condensed = strings.TrimSpace(condensed)
	if err != nil || condensed == "" {
		log.Printf("Memory: compression failed, truncating instead: %v", err)
		return truncate(block, compressThreshold)
	}
	return truncate(condensed, compressThreshold)
}

// truncate cuts s at limit bytes, backing up so a multi-byte rune is never
// split mid-sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
