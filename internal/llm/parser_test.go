package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceobrain/cortex/pkg/types"
)

func TestParseClassification_CleanJSON(t *testing.T) {
	raw := `{
		"intent": "STORE_NOTE",
		"confidence": 0.92,
		"reasoning": "states a fact about a project",
		"facts": [{"subject": "Titan", "predicate": "has deadline", "object": "Friday", "full_fact": "Titan's deadline is Friday"}],
		"entities": [{"name": "Titan", "type": "project", "description": "internal project"}]
	}`

	result, err := ParseClassification(raw)
	require.NoError(t, err)

	assert.Equal(t, types.IntentStoreNote, result.Intent)
	assert.Equal(t, 0.92, result.Confidence)
	require.Len(t, result.Facts, 1)
	assert.Equal(t, "Titan", result.Facts[0].Subject)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "PROJECT", result.Entities[0].Type)
	assert.Nil(t, result.Task)
}

func TestParseClassification_MarkdownFencesAndPreamble(t *testing.T) {
	raw := "Sure, here is the classification:\n```json\n" +
		`{"intent": "search_memory", "confidence": 0.8, "search_query": "Titan deadline"}` +
		"\n```\nLet me know if you need anything else."

	result, err := ParseClassification(raw)
	require.NoError(t, err)

	assert.Equal(t, types.IntentSearchMemory, result.Intent)
	assert.Equal(t, "Titan deadline", result.SearchQuery)
}

func TestParseClassification_TaskPayload(t *testing.T) {
	raw := `{"intent": "CREATE_TASK", "confidence": 0.9,
		"task": {"title": "Call the bank", "due_date": "2026-09-01T09:00:00Z", "priority": 9}}`

	result, err := ParseClassification(raw)
	require.NoError(t, err)

	require.NotNil(t, result.Task)
	assert.Equal(t, "Call the bank", result.Task.Title)
	// Out-of-range priority falls back to the middle of the scale.
	assert.Equal(t, 3, result.Task.Priority)
}

func TestParseClassification_UnknownIntentIsError(t *testing.T) {
	_, err := ParseClassification(`{"intent": "DANCE", "confidence": 0.99}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown intent")
}

func TestParseClassification_Garbage(t *testing.T) {
	_, err := ParseClassification("I could not classify that, sorry!")
	assert.Error(t, err)
}

func TestParseClassification_ClampsConfidence(t *testing.T) {
	result, err := ParseClassification(`{"intent": "UNKNOWN", "confidence": 7.5}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestParseRelation(t *testing.T) {
	label, err := ParseRelation("```json\n{\"relation\": \"part_of\", \"reasoning\": \"subsystem\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, types.RelationPartOf, label)

	label, err = ParseRelation(`{"relation": "NONE"}`)
	require.NoError(t, err)
	assert.Equal(t, types.RelationNone, label)

	_, err = ParseRelation(`{"relation": "FRENEMY_OF"}`)
	assert.Error(t, err)
}

func TestParseCritique(t *testing.T) {
	c, err := ParseCritique(`{"approved": true, "concern": ""}`)
	require.NoError(t, err)
	assert.True(t, c.Approved)

	c, err = ParseCritique(`{"approved": false, "concern": "That contradicts the budget you set last week."}`)
	require.NoError(t, err)
	assert.False(t, c.Approved)
	assert.NotEmpty(t, c.Concern)

	// A rejection with no explanation is useless downstream.
	_, err = ParseCritique(`{"approved": false, "concern": "  "}`)
	assert.Error(t, err)
}

func TestParseBioFacts(t *testing.T) {
	b, err := ParseBioFacts(`{"routines": ["Gym at 6am"], "preferences": {"coffee": "black"}, "life_events": []}`)
	require.NoError(t, err)
	assert.False(t, b.Empty())
	assert.Equal(t, "black", b.Preferences["coffee"])

	b, err = ParseBioFacts(`{"routines": [], "preferences": {}, "life_events": []}`)
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestExtractJSON_NestedAndEscaped(t *testing.T) {
	raw := `noise {"a": {"b": "close brace in string: }"}, "c": 1} trailing`
	assert.Equal(t, `{"a": {"b": "close brace in string: }"}, "c": 1}`, extractJSON(raw))
}
