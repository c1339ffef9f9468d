package engine

import (
	"context"
	"log"
	"strings"

	"github.com/ceobrain/cortex/internal/llm"
	"github.com/ceobrain/cortex/pkg/types"
)

// fallbackConfidence is reported when classification fails and the router
// degrades to a memory search. Kept low so downstream consumers can tell a
// guessed route from a real one.
const fallbackConfidence = 0.3

// Router classifies raw user input into one intent plus its structured
// payload. It never returns an error: when the LLM call or parse fails, the
// message is routed to SEARCH_MEMORY, the least destructive intent. A
// misrouted read costs one wasted lookup; a misrouted write corrupts the
// store.
type Router struct {
	generator llm.TextGenerator
}

// NewRouter creates a router on top of the given text generator.
func NewRouter(generator llm.TextGenerator) *Router {
	return &Router{generator: generator}
}

// Route classifies the message. Empty input short-circuits to UNKNOWN.
func (r *Router) Route(ctx context.Context, message string) types.ClassificationResult {
	message = strings.TrimSpace(message)
	if message == "" {
		return types.ClassificationResult{
			Intent:        types.IntentUnknown,
			Clarification: "I didn't catch that. What would you like me to do?",
			Confidence:    1.0,
		}
	}

	raw, err := r.generator.Complete(ctx, llm.ClassificationPrompt(message))
	if err != nil {
		log.Printf("Router: classification call failed, falling back to memory search: %v", err)
		return fallbackResult(message, "classification call failed: "+err.Error())
	}

	result, err := llm.ParseClassification(raw)
	if err != nil {
		log.Printf("Router: unparseable classification, falling back to memory search: %v", err)
		return fallbackResult(message, "unparseable classification: "+err.Error())
	}

	// A write intent with nothing to write is routed as a read instead.
	if result.Intent == types.IntentCreateTask && result.Task == nil {
		log.Printf("Router: CREATE_TASK with no task payload, downgrading to memory search")
		return fallbackResult(message, "create-task classification carried no task payload")
	}

	if result.Intent == types.IntentSearchMemory && result.SearchQuery == "" {
		result.SearchQuery = message
	}
	return result
}

func fallbackResult(message, reason string) types.ClassificationResult {
	return types.ClassificationResult{
		Intent:      types.IntentSearchMemory,
		SearchQuery: message,
		Reasoning:   reason,
		Confidence:  fallbackConfidence,
	}
}
