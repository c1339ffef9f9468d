package llm

import (
	"context"
	"fmt"

	"github.com/ceobrain/cortex/internal/config"
)

const embeddingCacheSize = 1024

// NewTextGenerator creates the appropriate TextGenerator for the configured
// provider and wraps it with the rate limiter.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	gen, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRateLimitedGenerator(gen, cfg.RequestsPerSec), nil
}

// NewStreamGenerator creates the appropriate StreamGenerator. Streaming
// calls are not rate limited; one runs per interactive turn.
func NewStreamGenerator(cfg config.LLMConfig) (StreamGenerator, error) {
	gen, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	stream, ok := gen.(StreamGenerator)
	if !ok {
		return nil, fmt.Errorf("llm provider %q does not support streaming", cfg.Provider)
	}
	return stream, nil
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator wrapped
// with an LRU cache.
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	var gen EmbeddingGenerator
	switch cfg.Provider {
	case "openai":
		gen = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.OpenAIAPIKey})
	case "ollama", "":
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.EmbeddingModel})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
	return NewCachedEmbeddingGenerator(gen, embeddingCacheSize)
}

// HealthCheck pings the configured provider. Only Ollama exposes a cheap
// version endpoint; other providers report healthy without a check.
func HealthCheck(ctx context.Context, cfg config.LLMConfig) error {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel}).HealthCheck(ctx)
	default:
		return nil
	}
}

func newProviderClient(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
