package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderFailed      = errors.New("embedding provider failed")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNoProviderEnabled   = errors.New("no embedding provider configured")
	ErrCountMismatch       = errors.New("embedding count does not match input count")
)

// Embedder turns texts into vectors. Embed returns exactly one vector per
// input text, in input order, or an error.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector length, or 0 when it is only known after
	// the first successful call.
	Dimension() int

	// Model identifies the model recorded alongside stored vectors.
	Model() string

	// Provider returns the provider name.
	Provider() string

	Close() error
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d, want 1", ErrCountMismatch, len(vectors))
	}
	return vectors[0], nil
}

// ValidateTexts rejects empty batches and empty texts.
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// Cache is an LRU cache of vectors keyed by model and content hash.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// DefaultCacheSize is used when NewCache is given a non-positive size.
const DefaultCacheSize = 1000

// NewCache creates a cache holding at most maxLen vectors.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate it.
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of vector.
func (c *Cache) Set(key string, vector []float32) {
	v := make([]float32, len(vector))
	copy(v, vector)
	c.cache.Add(key, v)
}

// Size returns the number of cached vectors.
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash returns the hex SHA-256 of text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CacheKey scopes a content hash to a model.
func CacheKey(model, text string) string {
	return model + ":" + ComputeHash(text)
}

// cachedEmbedder serves repeated texts from a Cache and forwards only the
// misses to the wrapped embedder.
type cachedEmbedder struct {
	Embedder
	cache *Cache
}

// WithCache wraps e so that vectors are looked up in cache before calling e.
// A nil cache returns e unchanged.
func WithCache(e Embedder, cache *Cache) Embedder {
	if cache == nil {
		return e
	}
	return &cachedEmbedder{Embedder: e, cache: cache}
}

func (c *cachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}

	model := c.Model()
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(CacheKey(model, text)); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.Embedder.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(vectors), len(missTexts))
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.Set(CacheKey(model, missTexts[j]), v)
	}
	return out, nil
}
