package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceobrain/cortex/pkg/types"
)

// newTestPipeline builds a pipeline over the in-memory store with inline
// (synchronous) background jobs, so tests observe side effects immediately.
func newTestPipeline(store *memStore, gen *fakeGenerator, embedder *fakeEmbedder) *Pipeline {
	memory := NewMemory(store, store, embedder, gen)
	linker := NewLinker(store, store, embedder, gen)
	router := NewRouter(gen)
	return NewPipeline(store, memory, linker, router, gen, nil, nil, PipelineConfig{UserName: "Boss"})
}

// approveEverything scripts the critic and reflection calls that most
// turns hit, so individual tests only script what they assert on.
func approveEverything(gen *fakeGenerator) *fakeGenerator {
	gen.on("internal critic", `{"approved": true, "concern": ""}`)
	gen.on("durable facts", `{"routines": [], "preferences": {}, "life_events": []}`)
	gen.on("chief-of-staff", "Done. Anything else?")
	return gen
}

func TestPipelineStoreNoteTurn(t *testing.T) {
	store := newMemStore()
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{
			"intent": "STORE_NOTE", "confidence": 0.95,
			"facts": [{"subject": "Alice", "predicate": "owns", "object": "Titan", "full_fact": "Alice owns Titan"}],
			"entities": [{"name": "Titan", "type": "PROJECT"}, {"name": "Alice", "type": "PERSON"}]}`).
		on("Candidate:", `{"relation": "NONE"}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "Alice owns project Titan, deadline Friday")

	assert.Equal(t, "Done. Anything else?", reply)

	// The note landed with both entities linked and its vector indexed.
	require.Len(t, store.notes, 1)
	for id, note := range store.notes {
		assert.Len(t, note.EntityIDs, 2)
		_, indexed := store.vectors[id]
		assert.True(t, indexed)
	}

	// Co-occurrence pair plus the explicitly stated fact.
	var cooc, explicit int
	for _, rel := range store.rels {
		switch rel.Strength {
		case types.StrengthCooccurrence:
			cooc++
		case types.StrengthExplicit:
			explicit++
			assert.Equal(t, "OWNS", rel.Type)
		}
	}
	assert.Equal(t, 1, cooc)
	assert.Equal(t, 1, explicit)

	// Reflection bumped loyalty.
	assert.InDelta(t, 50.1, store.profile.Stats.LoyaltyScore, 1e-9)
	assert.Equal(t, 1, store.profile.Stats.InteractionCount)
}

func TestPipelineCreateTaskTurn(t *testing.T) {
	store := newMemStore()
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{
			"intent": "CREATE_TASK", "confidence": 0.9,
			"task": {"title": "Call the bank", "due_date": "2026-09-02T09:00:00Z", "priority": 2}}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "remind me to call the bank Wednesday morning")

	assert.NotEmpty(t, reply)
	require.Len(t, store.tasks, 1)
	for _, task := range store.tasks {
		assert.Equal(t, "Call the bank", task.Title)
		assert.Equal(t, types.TaskPending, task.Status)
		require.NotNil(t, task.DueDate)
		assert.Equal(t, 2026, task.DueDate.Year())
	}

	// The response prompt told the model what was done for the user.
	var sawAction bool
	for _, call := range gen.calls {
		if strings.Contains(call, "chief-of-staff") && strings.Contains(call, `filed the task "Call the bank"`) {
			sawAction = true
		}
	}
	assert.True(t, sawAction, "response prompt must carry the action taken")
}

func TestPipelineCreateTaskBadDueDateStillFiles(t *testing.T) {
	store := newMemStore()
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{
			"intent": "CREATE_TASK", "confidence": 0.9,
			"task": {"title": "Water plants", "due_date": "next Tuesday-ish", "priority": 3}}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	pipe.Respond(context.Background(), "remind me to water the plants")

	require.Len(t, store.tasks, 1)
	for _, task := range store.tasks {
		assert.Nil(t, task.DueDate)
	}
}

func TestPipelineCritiqueRejectionIsFinalAndBlocksWrites(t *testing.T) {
	store := newMemStore()
	gen := (&fakeGenerator{}).
		on("intent router", `{"intent": "STORE_NOTE", "confidence": 0.9,
			"facts": [], "entities": []}`).
		on("internal critic", `{"approved": false, "concern": "You told me last week the Titan deadline moved to Monday. Which is right?"}`).
		on("durable facts", `{"routines": [], "preferences": {}, "life_events": []}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "Titan is due Friday")

	assert.Equal(t, "You told me last week the Titan deadline moved to Monday. Which is right?", reply)
	assert.Empty(t, store.notes, "rejected turn must not write")
	assert.Zero(t, gen.callCount("chief-of-staff"), "rejected turn must not generate a response")

	// Reflection still ran: the turn completed, just without a write.
	assert.Equal(t, 1, store.profile.Stats.InteractionCount)
}

func TestPipelineSearchSkipsCritique(t *testing.T) {
	store := newMemStore()
	embedder := newFakeEmbedder().
		set("rent is 2400 a month", []float32{1, 0, 0}).
		set("how much is rent?", []float32{1, 0, 0})
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{"intent": "SEARCH_MEMORY", "confidence": 0.9, "search_query": "how much is rent?"}`)
	pipe := newTestPipeline(store, gen, embedder)
	ctx := context.Background()

	// Seed a memory directly.
	_, err := pipe.memory.Save(ctx, "rent is 2400 a month", nil, "usr:test")
	require.NoError(t, err)

	reply := pipe.Respond(ctx, "how much is rent?")

	assert.NotEmpty(t, reply)
	assert.Zero(t, gen.callCount("internal critic"), "read-only turns skip the critic")

	var sawMemory bool
	for _, call := range gen.calls {
		if strings.Contains(call, "chief-of-staff") && strings.Contains(call, "rent is 2400 a month") {
			sawMemory = true
		}
	}
	assert.True(t, sawMemory, "retrieved memory must reach the response prompt")
}

func TestPipelineUnknownReturnsClarification(t *testing.T) {
	store := newMemStore()
	gen := (&fakeGenerator{}).
		on("intent router", `{"intent": "UNKNOWN", "confidence": 0.9}`).
		on("durable facts", `{"routines": [], "preferences": {}, "life_events": []}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "")

	assert.NotEmpty(t, reply)
	assert.Zero(t, gen.callCount("chief-of-staff"))
}

func TestPipelineUrgentTasksReachPrompt(t *testing.T) {
	store := newMemStore()
	due := time.Now().Add(2 * time.Hour)
	require.NoError(t, store.CreateTask(context.Background(), &types.Task{Title: "Sign the lease", DueDate: &due}))

	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{"intent": "SEARCH_MEMORY", "confidence": 0.9, "search_query": "anything"}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	pipe.Respond(context.Background(), "what's going on today?")

	var sawTask bool
	for _, call := range gen.calls {
		if strings.Contains(call, "chief-of-staff") && strings.Contains(call, "Sign the lease") {
			sawTask = true
		}
	}
	assert.True(t, sawTask, "tasks due within a day must surface in the response prompt")
}

func TestPipelineCredentialsAccessIsAudited(t *testing.T) {
	store := newMemStore()
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{"intent": "GET_CREDENTIALS", "confidence": 0.9, "search_query": "wifi password"}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	pipe.Respond(context.Background(), "what's the wifi password?")

	var audited bool
	for _, entry := range store.audits {
		if entry.Action == "credentials_access" {
			audited = true
		}
	}
	assert.True(t, audited)
}

func TestPipelineResponseFailureYieldsApology(t *testing.T) {
	store := newMemStore()
	gen := (&fakeGenerator{}).
		on("intent router", `{"intent": "SEARCH_MEMORY", "confidence": 0.9, "search_query": "x"}`).
		failOn("chief-of-staff", errors.New("llm down"))
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "x")

	assert.Contains(t, reply, "Reference: ")
	assert.NotContains(t, reply, "llm down", "internal errors must not leak to the user")
}

func TestPipelineProfileLoadFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.profErr = errors.New("db gone")
	gen := &fakeGenerator{}
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	reply := pipe.Respond(context.Background(), "remember my rent is 2400")

	assert.Contains(t, reply, "Reference: ")
	assert.Empty(t, gen.calls, "nothing runs without a profile")
	assert.Empty(t, store.notes)
}

func TestPipelineReflectionMergesBio(t *testing.T) {
	store := newMemStore()
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{"intent": "SEARCH_MEMORY", "confidence": 0.9, "search_query": "gym"}`)
	// Override the canned empty reflection with a real one.
	gen.rules = append([]genRule{{
		match: "durable facts",
		reply: `{"routines": ["Gym at 6am"], "preferences": {"coffee": "black"}, "life_events": []}`,
	}}, gen.rules...)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	pipe.Respond(context.Background(), "I always hit the gym at 6am before work")

	require.NotNil(t, store.profile)
	assert.Contains(t, store.profile.BioMemory.Routines, "Gym at 6am")
	assert.Equal(t, "black", store.profile.BioMemory.Preferences["coffee"])
}

func TestPipelineLoyaltyCapsAt100(t *testing.T) {
	store := newMemStore()
	store.profile = &types.UserProfile{ID: "usr:test", Name: "Boss",
		Stats: types.ProfileStats{LoyaltyScore: 99.95}}
	gen := approveEverything(&fakeGenerator{}).
		on("intent router", `{"intent": "SEARCH_MEMORY", "confidence": 0.9, "search_query": "x"}`)
	pipe := newTestPipeline(store, gen, newFakeEmbedder())

	pipe.Respond(context.Background(), "x")
	pipe.Respond(context.Background(), "x")

	assert.Equal(t, 100.0, store.profile.Stats.LoyaltyScore)
}
