package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/sashabaranov/go-openai"
)

// Provider names
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderOllama = "ollama"
)

// Provider defaults
const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v2-base-code"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "local-hash-v1"

	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"

	LocalDimension = 384

	// MaxBatchSize bounds the texts sent in one request.
	MaxBatchSize = 100
)

// knownDimensions lists the vector length of common models.
var knownDimensions = map[string]int{
	"text-embedding-ada-002":       1536,
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"jina-embeddings-v2-base-en":   768,
	"jina-embeddings-v2-base-code": 768,
	"jina-embeddings-v3":           1024,
	"nomic-embed-text":             768,
	"mxbai-embed-large":            1024,
	"all-minilm":                   384,
}

// RemoteProvider embeds texts through an OpenAI-compatible /embeddings
// endpoint. It serves OpenAI, Jina and Ollama.
type RemoteProvider struct {
	name   string
	model  string
	client *openai.Client
	retry  RetryConfig

	mu        sync.RWMutex
	dimension int
}

// NewRemoteProvider creates a provider for name using cfg. An empty BaseURL
// selects the provider's public endpoint.
func NewRemoteProvider(name string, cfg Config) (*RemoteProvider, error) {
	model := cfg.Model
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	switch name {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, name)
		}
		if model == "" {
			model = DefaultOpenAIModel
		}
	case ProviderJina:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, name)
		}
		if model == "" {
			model = DefaultJinaModel
		}
		clientConfig.BaseURL = DefaultJinaBaseURL
	case ProviderOllama:
		if model == "" {
			model = DefaultOllamaModel
		}
		if cfg.APIKey == "" {
			clientConfig = openai.DefaultConfig("ollama")
		}
		clientConfig.BaseURL = DefaultOllamaBaseURL
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = knownDimensions[model]
	}

	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}

	return &RemoteProvider{
		name:      name,
		model:     model,
		client:    openai.NewClientWithConfig(clientConfig),
		retry:     retry,
		dimension: dim,
	}, nil
}

// Embed sends texts in requests of at most MaxBatchSize and reassembles the
// vectors in input order using the index of each returned item.
func (p *RemoteProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))
		batch := texts[start:end]

		vectors, err := retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
			return p.call(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, p.name, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *RemoteProvider) call(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, permanent(fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || vectors[item.Index] != nil {
			return nil, permanent(fmt.Errorf("invalid embedding index %d", item.Index))
		}
		vectors[item.Index] = item.Embedding
	}

	p.mu.Lock()
	if len(vectors[0]) > 0 && p.dimension != len(vectors[0]) {
		p.dimension = len(vectors[0])
	}
	p.mu.Unlock()
	return vectors, nil
}

func (p *RemoteProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

func (p *RemoteProvider) Model() string {
	return p.model
}

func (p *RemoteProvider) Provider() string {
	return p.name
}

func (p *RemoteProvider) Close() error {
	return nil
}

// LocalProvider produces deterministic vectors without a model. Words are
// hashed into signed buckets and the result is normalized to unit length, so
// texts sharing vocabulary score higher than unrelated texts.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local provider. A non-positive dimension
// selects LocalDimension.
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension}
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *LocalProvider) vector(text string) []float32 {
	v := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	return NormalizeVector(v)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Close() error {
	return nil
}

// PlaceholderModel is recorded for vectors produced by PlaceholderVector.
const PlaceholderModel = "placeholder"

// PlaceholderVector returns a deterministic vector of the given dimension
// derived from the SHA-256 of text. It has the shape of an embedding but no
// semantic meaning.
func PlaceholderVector(text string, dimension int) []float32 {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	v := make([]float32, dimension)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := range v {
		off := (i % 8) * 4
		if i > 0 && off == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.LittleEndian.Uint32(block[off : off+4])
		v[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return v
}

// NormalizeVector scales v to unit length. A zero vector is returned as is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
