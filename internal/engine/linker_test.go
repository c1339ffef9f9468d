package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

func seedEntity(t *testing.T, store *memStore, name, typ string) *types.Entity {
	t.Helper()
	e := &types.Entity{Name: name, Type: typ}
	require.NoError(t, store.UpsertEntity(context.Background(), e))
	return e
}

func TestAutolinkSkipsFailedCandidates(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	subject := seedEntity(t, store, "Titan", "PROJECT")
	seedEntity(t, store, "Alice", "PERSON")
	seedEntity(t, store, "Budget", "CONCEPT")
	seedEntity(t, store, "Gym", "CONCEPT")

	// One nearby note mentioning all three candidates.
	require.NoError(t, store.Upsert(ctx, "note:1", []float32{1, 0, 0}, storage.VectorMetadata{
		NoteID: "note:1", UserID: "usr:1", Entities: []string{"Alice", "Budget", "Gym"},
	}))

	gen := (&fakeGenerator{}).
		on("Candidate: Alice", `{"relation": "OWNER_OF"}`).
		failOn("Candidate: Budget", errors.New("llm timeout")).
		on("Candidate: Gym", `{"relation": "NONE"}`)
	embedder := newFakeEmbedder().set("Titan kickoff", []float32{1, 0, 0})
	linker := NewLinker(store, store, embedder, gen)

	require.NoError(t, linker.Autolink(ctx, subject, "Titan kickoff", "usr:1"))

	// One candidate failed, one was NONE: exactly one edge survives.
	require.Len(t, store.rels, 1)
	for _, rel := range store.rels {
		assert.Equal(t, subject.ID, rel.SourceID)
		assert.Equal(t, types.RelationOwnerOf, rel.Type)
		assert.Equal(t, types.StrengthAutoLink, rel.Strength)
	}
	require.Len(t, store.audits, 1)
	assert.Equal(t, "autolink", store.audits[0].Action)
}

func TestAutolinkExcludesSubjectFromCandidates(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	subject := seedEntity(t, store, "Titan", "PROJECT")
	require.NoError(t, store.Upsert(ctx, "note:1", []float32{1, 0, 0}, storage.VectorMetadata{
		NoteID: "note:1", UserID: "usr:1", Entities: []string{"Titan"},
	}))

	gen := &fakeGenerator{} // any relation call would error: no scripted reply
	embedder := newFakeEmbedder()
	linker := NewLinker(store, store, embedder, gen)

	require.NoError(t, linker.Autolink(ctx, subject, "about Titan", "usr:1"))
	assert.Empty(t, store.rels)
	assert.Zero(t, gen.callCount("Candidate:"), "subject must never be its own candidate")
}

func TestAutolinkNoEdgesWritesNoAudit(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	subject := seedEntity(t, store, "Titan", "PROJECT")
	seedEntity(t, store, "Alice", "PERSON")
	require.NoError(t, store.Upsert(ctx, "note:1", []float32{1, 0, 0}, storage.VectorMetadata{
		NoteID: "note:1", UserID: "usr:1", Entities: []string{"Alice"},
	}))

	gen := (&fakeGenerator{}).on("Candidate: Alice", `{"relation": "NONE"}`)
	linker := NewLinker(store, store, newFakeEmbedder(), gen)

	require.NoError(t, linker.Autolink(ctx, subject, "context", "usr:1"))
	assert.Empty(t, store.rels)
	assert.Empty(t, store.audits)
}

func TestLinkCooccurrenceAllPairs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	entities := []*types.Entity{
		seedEntity(t, store, "A", "CONCEPT"),
		seedEntity(t, store, "B", "CONCEPT"),
		seedEntity(t, store, "C", "CONCEPT"),
	}

	linker := NewLinker(store, store, newFakeEmbedder(), &fakeGenerator{})
	require.NoError(t, linker.LinkCooccurrence(ctx, entities))

	// C(3,2) pairs.
	assert.Len(t, store.rels, 3)
	for _, rel := range store.rels {
		assert.Equal(t, types.RelationRelatedTo, rel.Type)
		assert.Equal(t, types.StrengthCooccurrence, rel.Strength)
	}

	// A single entity produces nothing.
	store2 := newMemStore()
	linker2 := NewLinker(store2, store2, newFakeEmbedder(), &fakeGenerator{})
	require.NoError(t, linker2.LinkCooccurrence(ctx, entities[:1]))
	assert.Empty(t, store2.rels)
}

func TestLinkExplicitFullStrength(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	seedEntity(t, store, "Alice", "PERSON")
	seedEntity(t, store, "Titan", "PROJECT")

	linker := NewLinker(store, store, newFakeEmbedder(), &fakeGenerator{})
	err := linker.LinkExplicit(ctx, []types.ExtractedFact{
		{Subject: "Alice", Predicate: "is the owner of", Object: "Titan"},
		{Subject: "Alice", Predicate: "likes", Object: "Nonexistent"},
	})
	require.NoError(t, err)

	require.Len(t, store.rels, 1)
	for _, rel := range store.rels {
		assert.Equal(t, "IS_THE_OWNER_OF", rel.Type)
		assert.Equal(t, types.StrengthExplicit, rel.Strength)
	}
}

func TestGraphFactsFormatting(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	alice := seedEntity(t, store, "Alice", "PERSON")
	titan := seedEntity(t, store, "Titan", "PROJECT")
	require.NoError(t, store.CreateRelationships(ctx, []*types.Relationship{
		{SourceID: alice.ID, TargetID: titan.ID, Type: types.RelationOwnerOf, Strength: 1.0},
	}, nil))

	linker := NewLinker(store, store, newFakeEmbedder(), &fakeGenerator{})

	assert.Equal(t, "Alice OWNER_OF Titan", linker.GraphFacts(ctx, []string{"Alice"}, 2, 10))
	assert.Empty(t, linker.GraphFacts(ctx, nil, 2, 10))
	assert.Empty(t, linker.GraphFacts(ctx, []string{"Nobody"}, 2, 10))
}

func TestRelationToken(t *testing.T) {
	assert.Equal(t, "IS_THE_OWNER_OF", relationToken("is the owner of"))
	assert.Equal(t, "BLOCKS", relationToken("  blocks "))
	assert.Equal(t, "COSTS_500", relationToken("costs $500!"))
}
