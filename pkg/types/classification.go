package types

// Intent is the closed taxonomy the router classifies input into.
type Intent string

const (
	// IntentStoreNote: the user is sharing a fact or memory to persist.
	IntentStoreNote Intent = "STORE_NOTE"

	// IntentCreateTask: the user wants a task or reminder created.
	IntentCreateTask Intent = "CREATE_TASK"

	// IntentSearchMemory: the user is asking about stored memories. Also the
	// conservative fallback when classification fails. Defaulting to a read
	// avoids silently discarding user-supplied facts and avoids spurious
	// external calls.
	IntentSearchMemory Intent = "SEARCH_MEMORY"

	// IntentGetCredentials: the user is asking for stored secure notes.
	IntentGetCredentials Intent = "GET_CREDENTIALS"

	// IntentUnknown: the input could not be mapped to any other intent.
	IntentUnknown Intent = "UNKNOWN"
)

// Valid reports whether i is a member of the taxonomy.
func (i Intent) Valid() bool {
	switch i {
	case IntentStoreNote, IntentCreateTask, IntentSearchMemory, IntentGetCredentials, IntentUnknown:
		return true
	}
	return false
}

// ExtractedFact is a (subject, predicate, object) tuple pulled out of a write
// intent, with the original wording preserved in FullFact.
type ExtractedFact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	FullFact  string `json:"full_fact"`
}

// ExtractedEntity is an entity mention found in the input.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// TaskDetails carries the structured payload for CREATE_TASK intents.
type TaskDetails struct {
	Title    string `json:"title"`
	DueDate  string `json:"due_date,omitempty"` // RFC 3339 or empty when unstated
	Priority int    `json:"priority,omitempty"` // 1-5, 0 when unstated
}

// ClassificationResult is the intent router's output: one intent plus the
// payload fields that intent uses. Unused payload fields stay zero.
type ClassificationResult struct {
	Intent Intent `json:"intent"`

	// STORE_NOTE payload.
	Facts    []ExtractedFact   `json:"facts,omitempty"`
	Entities []ExtractedEntity `json:"entities,omitempty"`

	// CREATE_TASK payload.
	Task *TaskDetails `json:"task,omitempty"`

	// SEARCH_MEMORY / GET_CREDENTIALS payload.
	SearchQuery string `json:"search_query,omitempty"`

	// UNKNOWN payload: a clarification to offer the user.
	Clarification string `json:"clarification,omitempty"`

	// Observability.
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence"` // 0.0-1.0
}
