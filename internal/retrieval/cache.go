package retrieval

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// embeddingCache memoizes query embeddings per embedding model.
type embeddingCache struct {
	c *lru.Cache[string, []float32]
}

func newEmbeddingCache(size int) *embeddingCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil
	}
	return &embeddingCache{c: c}
}

func cacheKey(model, text string) string { return model + "\x00" + text }

func (c *embeddingCache) get(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(cacheKey(model, text))
}

func (c *embeddingCache) add(model, text string, v []float32) {
	if c == nil {
		return
	}
	c.c.Add(cacheKey(model, text), v)
}

func (c *embeddingCache) len() int {
	if c == nil {
		return 0
	}
	return c.c.Len()
}
