package embedder

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records every batch it receives.
type countingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int   { return 2 }
func (c *countingEmbedder) Model() string    { return "counting" }
func (c *countingEmbedder) Provider() string { return "test" }
func (c *countingEmbedder) Close() error     { return nil }

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash("hello")
	h2 := ComputeHash("hello")
	h3 := ComputeHash("world")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, CacheKey("a", "x"), CacheKey("b", "x"))
}

func TestValidateTexts(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty text", []string{"a", ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTexts(tt.texts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("returns copies", func(t *testing.T) {
		c := NewCache(10)
		c.Set("k", []float32{1, 2, 3})

		got, ok := c.Get("k")
		require.True(t, ok)
		got[0] = 99

		again, _ := c.Get("k")
		assert.Equal(t, []float32{1, 2, 3}, again)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewCache(2)
		c.Set("a", []float32{1})
		c.Set("b", []float32{2})
		_, _ = c.Get("a")
		c.Set("c", []float32{3})

		_, okA := c.Get("a")
		_, okB := c.Get("b")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.Equal(t, 2, c.Size())
	})

	t.Run("clear", func(t *testing.T) {
		c := NewCache(0)
		c.Set("a", []float32{1})
		c.Clear()
		assert.Zero(t, c.Size())
	})
}

func TestWithCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	e := WithCache(inner, NewCache(10))

	first, err := e.Embed(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {3, 1}}, first)

	second, err := e.Embed(ctx, []string{"bbb", "c", "aa"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {1, 1}, {2, 1}}, second)

	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"c"}, inner.batches[1])

	_, err = e.Embed(ctx, []string{"aa"})
	require.NoError(t, err)
	assert.Len(t, inner.batches, 2, "fully cached batch must not reach the provider")

	assert.Same(t, inner, WithCache(inner, nil))
}

func TestWithCache_Error(t *testing.T) {
	boom := errors.New("boom")
	e := WithCache(&countingEmbedder{err: boom}, NewCache(10))
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), &countingEmbedder{}, "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, v)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(0)
	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, DefaultLocalModel, p.Model())

	vectors, err := p.Embed(ctx, []string{
		"parse the configuration file",
		"parse the configuration file",
		"Parse configuration",
		"render a triangle with shaders",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 4)

	assert.Equal(t, vectors[0], vectors[1])
	assert.Len(t, vectors[0], LocalDimension)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	assert.Greater(t, cosine(vectors[0], vectors[2]), cosine(vectors[0], vectors[3]))

	_, err = p.Embed(ctx, []string{""})
	assert.ErrorIs(t, err, ErrInvalidInput)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Embed(cancelled, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlaceholderVector(t *testing.T) {
	a := PlaceholderVector("chunk text", 100)
	b := PlaceholderVector("chunk text", 100)
	c := PlaceholderVector("other text", 100)

	assert.Len(t, a, 100)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
	assert.Len(t, PlaceholderVector("x", 0), LocalDimension)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
