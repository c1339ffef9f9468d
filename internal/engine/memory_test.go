package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

func TestMemorySaveIndexesUnderNoteID(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().set("rent is due on the 1st", []float32{1, 0, 0})
	mem := NewMemory(store, store, embedder, &fakeGenerator{})

	note, err := mem.Save(context.Background(), "rent is due on the 1st",
		[]types.ExtractedEntity{{Name: "Rent", Type: "CONCEPT"}}, "usr:1")
	require.NoError(t, err)

	assert.Len(t, note.EntityIDs, 1)
	entry, ok := store.vectors[note.ID]
	require.True(t, ok, "embedding must be indexed under the note ID")
	assert.Equal(t, note.ID, entry.meta.NoteID)
	assert.Equal(t, []string{"Rent"}, entry.meta.Entities)
}

func TestMemorySaveRollsBackOnEmbedFailure(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder()
	embedder.err = errors.New("embedder down")
	mem := NewMemory(store, store, embedder, &fakeGenerator{})

	_, err := mem.Save(context.Background(), "important fact", nil, "usr:1")
	require.Error(t, err)
	assert.Empty(t, store.notes, "note without an embedding must not survive")
}

func TestMemoryRetrieveFormatsAndRanks(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().
		set("exact match note", []float32{1, 0, 0}).
		set("unrelated note", []float32{0, 1, 0}).
		set("the query", []float32{1, 0, 0})
	mem := NewMemory(store, store, embedder, &fakeGenerator{})
	ctx := context.Background()

	_, err := mem.Save(ctx, "exact match note", nil, "usr:1")
	require.NoError(t, err)
	_, err = mem.Save(ctx, "unrelated note", nil, "usr:1")
	require.NoError(t, err)

	block := mem.Retrieve(ctx, "the query", "usr:1", 1)

	today := time.Now().Format("2006-01-02")
	assert.Contains(t, block, "["+today+"] exact match note (Relevance: ")
	assert.NotContains(t, block, "unrelated note")
}

func TestMemoryRetrieveRecencyBreaksTies(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().set("q", []float32{1, 0, 0})
	mem := NewMemory(store, store, embedder, &fakeGenerator{})
	ctx := context.Background()

	// Two notes with identical similarity, one a month older.
	oldNote := &types.Note{Content: "old fact", CreatedAt: time.Now().Add(-30 * 24 * time.Hour)}
	require.NoError(t, store.CreateNote(ctx, oldNote, nil))
	require.NoError(t, store.Upsert(ctx, oldNote.ID, []float32{1, 0, 0},
		storage.VectorMetadata{NoteID: oldNote.ID, UserID: "usr:1"}))

	newNote := &types.Note{Content: "new fact", CreatedAt: time.Now()}
	require.NoError(t, store.CreateNote(ctx, newNote, nil))
	require.NoError(t, store.Upsert(ctx, newNote.ID, []float32{1, 0, 0},
		storage.VectorMetadata{NoteID: newNote.ID, UserID: "usr:1"}))

	scored := mem.RetrieveScored(ctx, "q", "usr:1", 2)
	require.Len(t, scored, 2)
	assert.Equal(t, "new fact", scored[0].Note.Content)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestMemoryRetrieveDropsOrphanedVectors(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().set("q", []float32{1, 0, 0})
	mem := NewMemory(store, store, embedder, &fakeGenerator{})
	ctx := context.Background()

	// A vector entry whose note was deleted out from under it.
	require.NoError(t, store.Upsert(ctx, "note:ghost", []float32{1, 0, 0},
		storage.VectorMetadata{NoteID: "note:ghost", UserID: "usr:1"}))

	note := &types.Note{Content: "real note", CreatedAt: time.Now()}
	require.NoError(t, store.CreateNote(ctx, note, nil))
	require.NoError(t, store.Upsert(ctx, note.ID, []float32{0.9, 0.1, 0},
		storage.VectorMetadata{NoteID: note.ID, UserID: "usr:1"}))

	scored := mem.RetrieveScored(ctx, "q", "usr:1", 5)
	require.Len(t, scored, 1)
	assert.Equal(t, "real note", scored[0].Note.Content)
}

func TestMemoryRetrieveNeverErrors(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder()
	embedder.err = errors.New("embedder down")
	mem := NewMemory(store, store, embedder, &fakeGenerator{})

	assert.Empty(t, mem.Retrieve(context.Background(), "anything", "usr:1", 5))
	assert.Empty(t, mem.Retrieve(context.Background(), "", "usr:1", 5))
}

func TestMemoryRetrieveCompressesLongBlocks(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().set("q", []float32{1, 0, 0})
	gen := (&fakeGenerator{}).on("Condense", "a short digest")
	mem := NewMemory(store, store, embedder, gen)
	ctx := context.Background()

	long := strings.Repeat("every word matters here ", 50)
	for i := 0; i < 5; i++ {
		note := &types.Note{Content: long, CreatedAt: time.Now()}
		require.NoError(t, store.CreateNote(ctx, note, nil))
		require.NoError(t, store.Upsert(ctx, note.ID, []float32{1, 0, 0},
			storage.VectorMetadata{NoteID: note.ID, UserID: "usr:1"}))
	}

	block := mem.Retrieve(ctx, "q", "usr:1", 5)
	assert.Equal(t, "a short digest", block)
}

func TestMemoryRetrieveTruncatesWhenCompressionFails(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().set("q", []float32{1, 0, 0})
	gen := (&fakeGenerator{}).failOn("Condense", errors.New("llm down"))
	mem := NewMemory(store, store, embedder, gen)
	ctx := context.Background()

	long := strings.Repeat("x", 3000)
	note := &types.Note{Content: long, CreatedAt: time.Now()}
	require.NoError(t, store.CreateNote(ctx, note, nil))
	require.NoError(t, store.Upsert(ctx, note.ID, []float32{1, 0, 0},
		storage.VectorMetadata{NoteID: note.ID, UserID: "usr:1"}))

	block := mem.Retrieve(ctx, "q", "usr:1", 1)
	assert.True(t, strings.HasSuffix(block, "..."))
	assert.LessOrEqual(t, len(block), compressThreshold+3)
}

func TestTruncateBacksUpToRuneBoundary(t *testing.T) {
	assert.Equal(t, "ab", truncate("ab", 5))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// Two-byte runes land the cut mid-sequence; it must back up, not split.
	accented := strings.Repeat("é", 2000)
	cut := truncate(accented, 2001)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, strings.Repeat("é", 1000)+"...", cut)
}

func TestMemoryDeleteRemovesBothSides(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder()
	mem := NewMemory(store, store, embedder, &fakeGenerator{})
	ctx := context.Background()

	note, err := mem.Save(ctx, "disposable", nil, "usr:1")
	require.NoError(t, err)

	require.NoError(t, mem.Delete(ctx, note.ID))
	assert.Empty(t, store.notes)
	assert.Empty(t, store.vectors)

	err = mem.Delete(ctx, note.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
