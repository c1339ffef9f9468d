package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// All pipeline prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// StreamGenerator produces a completion incrementally. Tokens are sent on
// the returned channel as they arrive and the channel is closed when the
// completion finishes, fails, or the context is cancelled.
type StreamGenerator interface {
	Stream(ctx context.Context, prompt string) (<-chan string, error)
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
