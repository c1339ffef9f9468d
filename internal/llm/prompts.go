package llm

import (
	"fmt"
	"strings"
)

// Prompt builders for every pipeline LLM call. All prompts that expect
// structured output demand strict JSON with no surrounding prose; the
// response parser still tolerates markdown fences and leading text because
// smaller local models ignore formatting instructions under load.

// ClassificationPrompt asks the model to route a user message to exactly
// one intent and extract the structured payload that intent needs.
func ClassificationPrompt(message string) string {
	return fmt.Sprintf(`You are the intent router for a personal assistant.

Classify the user message into EXACTLY ONE intent:
- STORE_NOTE: the user states information to remember (facts, updates, observations)
- CREATE_TASK: the user asks for something to be done later (reminders, todos, follow-ups)
- SEARCH_MEMORY: the user asks a question answerable from stored memories
- GET_CREDENTIALS: the user asks for a password, key, or other secret
- UNKNOWN: none of the above fits

Also extract:
- facts: subject/predicate/object triples stated in the message (STORE_NOTE only)
- entities: proper nouns and named concepts mentioned, with a short type like PERSON, PROJECT, COMPANY, CONCEPT
- task: title, due date (ISO 8601 or empty), priority 1-5 (CREATE_TASK only)
- search_query: a self-contained query string (SEARCH_MEMORY only)

Respond with ONLY valid JSON in this exact format:
{
  "intent": "STORE_NOTE",
  "confidence": 0.95,
  "reasoning": "one short sentence",
  "facts": [{"subject": "", "predicate": "", "object": "", "full_fact": ""}],
  "entities": [{"name": "", "type": "", "description": ""}],
  "task": {"title": "", "due_date": "", "priority": 3},
  "search_query": ""
}

Omit or leave empty any field that does not apply. No explanations outside the JSON.

User message: %s`, message)
}

// RelationPrompt asks the model to label the relationship between a new
// entity and one existing entity, or NONE when no meaningful link exists.
func RelationPrompt(subject, subjectType, candidate, candidateType, context string) string {
	return fmt.Sprintf(`You are maintaining a personal knowledge graph.

Decide how these two entities relate:
- Subject: %s (%s)
- Candidate: %s (%s)

Context about the subject:
%s

Choose EXACTLY ONE label:
PART_OF, RELATED_TO, REQUISITE_FOR, FINANCIAL_IMPACT, OWNER_OF, MEMBER_OF, BLOCKS, NONE

Use NONE unless the connection is clear from the context.
The relation reads subject-to-candidate: "Subject PART_OF Candidate".

Respond with ONLY valid JSON:
{"relation": "RELATED_TO", "reasoning": "one short sentence"}`,
		subject, subjectType, candidate, candidateType, context)
}

// CritiquePrompt asks the model to sanity-check a proposed action against
// what is known, before anything irreversible happens.
func CritiquePrompt(message, intent, memories string) string {
	return fmt.Sprintf(`You are the internal critic of a personal assistant. The assistant is
about to act on the user's request. Check the plan against what is known.

User message: %s
Planned action: %s

Relevant memories:
%s

If the action is reasonable, respond with ONLY valid JSON:
{"approved": true, "concern": ""}

If something is contradictory, risky, or under-specified, respond:
{"approved": false, "concern": "a direct question or warning to show the user instead of acting"}`,
		message, intent, memories)
}

// CompressPrompt asks the model to shorten an oversized memory block while
// keeping names, dates, and numbers intact.
func CompressPrompt(memories string) string {
	return fmt.Sprintf(`Condense the following memory notes into a shorter digest.
Keep every name, date, and number. Drop filler and repetition.
Respond with ONLY the condensed text, no preamble.

%s`, memories)
}

// ReflectionPrompt asks the model to mine a finished conversation turn for
// durable biography updates.
func ReflectionPrompt(userMessage, assistantReply string) string {
	return fmt.Sprintf(`Review this exchange for durable facts about the user worth remembering
long-term (routines, preferences, life events). Ignore one-off requests.

User: %s
Assistant: %s

Respond with ONLY valid JSON:
{
  "routines": ["..."],
  "preferences": {"topic": "preference"},
  "life_events": ["..."]
}

Use empty arrays/objects when nothing qualifies.`, userMessage, assistantReply)
}

// ResponseContext carries everything the persona prompt interpolates.
type ResponseContext struct {
	UserName    string
	Tone        string
	Intent      string
	Memories    string
	GraphFacts  string
	UrgentTasks string
	ActionTaken string
}

// ResponsePrompt builds the final user-facing generation prompt. The
// persona rules forbid exposing pipeline internals; the user sees an
// assistant, not a state machine.
func ResponsePrompt(message string, rc ResponseContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a capable personal chief-of-staff for %s.
Speak in a %s tone. Be concise and direct.

Rules:
- Never mention memories, embeddings, scores, intents, pipelines, or any internal mechanism.
- Never invent facts; if you do not know, say so plainly.
- Weave known context in naturally, as a trusted aide would.
`, rc.UserName, rc.Tone)

	if rc.Memories != "" {
		fmt.Fprintf(&b, "\nWhat you know that may be relevant:\n%s\n", rc.Memories)
	}
	if rc.GraphFacts != "" {
		fmt.Fprintf(&b, "\nHow things connect:\n%s\n", rc.GraphFacts)
	}
	if rc.UrgentTasks != "" {
		fmt.Fprintf(&b, "\nOpen items due within a day (mention these):\n%s\n", rc.UrgentTasks)
	}
	if rc.ActionTaken != "" {
		fmt.Fprintf(&b, "\nYou have just done this for them: %s\n", rc.ActionTaken)
	}

	fmt.Fprintf(&b, "\n%s says: %s\n\nYour reply:", rc.UserName, message)
	return b.String()
}
