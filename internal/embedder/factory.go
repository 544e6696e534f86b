package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted when Config leaves a value empty.
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider  string // local, openai, jina or ollama; empty auto-detects
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int
	CacheSize int // 0 disables the cache
	Retry     RetryConfig
}

// DetectProvider returns the provider New would use for cfg: the configured
// one, else the first provider whose API key is present, else local.
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// New creates the configured embedder, wrapped in an LRU cache when
// CacheSize is positive.
func New(cfg Config) (Embedder, error) {
	provider := DetectProvider(cfg)

	var e Embedder
	switch provider {
	case ProviderLocal:
		e = NewLocalProvider(cfg.Dimension)
	case ProviderOpenAI, ProviderJina, ProviderOllama:
		if cfg.APIKey == "" {
			cfg.APIKey = apiKeyFromEnv(provider)
		}
		remote, err := NewRemoteProvider(provider, cfg)
		if err != nil {
			return nil, err
		}
		e = remote
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		e = WithCache(e, NewCache(cfg.CacheSize))
	}
	return e, nil
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return os.Getenv(EnvOpenAIAPIKey)
	case ProviderJina:
		return os.Getenv(EnvJinaAPIKey)
	}
	return ""
}
