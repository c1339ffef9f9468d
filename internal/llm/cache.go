package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbeddingGenerator memoizes embeddings in an LRU cache keyed by a
// hash of the input text. The same query embedded twice in a session (once
// for retrieval, once for linking) costs one provider call.
type CachedEmbeddingGenerator struct {
	inner EmbeddingGenerator
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbeddingGenerator wraps gen with an LRU cache of the given size.
func NewCachedEmbeddingGenerator(gen EmbeddingGenerator, size int) (*CachedEmbeddingGenerator, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbeddingGenerator{inner: gen, cache: cache}, nil
}

// Embed returns the cached vector when available, otherwise delegates to
// the wrapped generator and caches the result.
func (g *CachedEmbeddingGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(g.inner.GetModel(), text)
	if vec, ok := g.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	g.cache.Add(key, vec)
	return vec, nil
}

// GetModel returns the wrapped generator's model name.
func (g *CachedEmbeddingGenerator) GetModel() string {
	return g.inner.GetModel()
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

var _ EmbeddingGenerator = (*CachedEmbeddingGenerator)(nil)
