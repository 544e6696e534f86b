// Package config loads repoctx configuration from defaults, an optional YAML
// file and REPOCTX_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/repoctx-mcp/internal/chunker"
	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/searcher"
)

// EnvPrefix prefixes every environment override, e.g. REPOCTX_SEARCH_DEFAULT_LIMIT.
const EnvPrefix = "REPOCTX"

// Config represents the complete configuration.
type Config struct {
	DataDir      string          `mapstructure:"data_dir" yaml:"data_dir"`
	DBPath       string          `mapstructure:"db_path" yaml:"db_path"`             // default: <data_dir>/index.db
	WorkspaceDir string          `mapstructure:"workspace_dir" yaml:"workspace_dir"` // default: <data_dir>/repos
	Embedding    EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Chunking     ChunkingConfig  `mapstructure:"chunking" yaml:"chunking"`
	Search       SearchConfig    `mapstructure:"search" yaml:"search"`
	Logging      LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	MCP          MCPConfig       `mapstructure:"mcp" yaml:"mcp"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider           string `mapstructure:"provider" yaml:"provider"` // local, openai, jina, ollama; empty auto-detects
	Model              string `mapstructure:"model" yaml:"model"`
	APIKey             string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	Dimension          int    `mapstructure:"dimension" yaml:"dimension"`
	BatchSize          int    `mapstructure:"batch_size" yaml:"batch_size"` // chunks per request and transaction
	CacheSize          int    `mapstructure:"cache_size" yaml:"cache_size"`
	PlaceholderOnError bool   `mapstructure:"placeholder_on_error" yaml:"placeholder_on_error"`
}

// ChunkingConfig contains chunk sizing, in characters.
type ChunkingConfig struct {
	ChunkSize       int `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	SQLBudget       int `mapstructure:"sql_budget" yaml:"sql_budget"`
	MaxInputBytes   int `mapstructure:"max_input_bytes" yaml:"max_input_bytes"`
	ReadConcurrency int `mapstructure:"read_concurrency" yaml:"read_concurrency"`
}

// SearchConfig contains retrieval configuration.
type SearchConfig struct {
	DefaultLimit int    `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit" yaml:"max_limit"`
	Similarity   string `mapstructure:"similarity" yaml:"similarity"` // cosine, dot
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// MCPConfig contains MCP server configuration.
type MCPConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"` // 0 disables heartbeats
}

// DefaultDataDir returns ~/.repoctx, or .repoctx when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".repoctx"
	}
	return filepath.Join(home, ".repoctx")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Embedding: EmbeddingConfig{
			BatchSize: 32,
			CacheSize: embedder.DefaultCacheSize,
		},
		Chunking: ChunkingConfig{
			ChunkSize:       chunker.DefaultChunkSize,
			ChunkOverlap:    chunker.DefaultOverlap,
			SQLBudget:       chunker.DefaultSQLBudget,
			MaxInputBytes:   chunker.DefaultMaxInputBytes,
			ReadConcurrency: 4,
		},
		Search: SearchConfig{
			DefaultLimit: searcher.DefaultLimit,
			MaxLimit:     searcher.MaxLimit,
			Similarity:   string(searcher.SimilarityCosine),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			HeartbeatInterval: 5 * time.Second,
		},
	}
}

// setDefaults registers every key with viper so that environment variables
// are honored by Unmarshal even when no file mentions the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("workspace_dir", cfg.WorkspaceDir)

	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.api_key", cfg.Embedding.APIKey)
	v.SetDefault("embedding.base_url", cfg.Embedding.BaseURL)
	v.SetDefault("embedding.dimension", cfg.Embedding.Dimension)
	v.SetDefault("embedding.batch_size", cfg.Embedding.BatchSize)
	v.SetDefault("embedding.cache_size", cfg.Embedding.CacheSize)
	v.SetDefault("embedding.placeholder_on_error", cfg.Embedding.PlaceholderOnError)

	v.SetDefault("chunking.chunk_size", cfg.Chunking.ChunkSize)
	v.SetDefault("chunking.chunk_overlap", cfg.Chunking.ChunkOverlap)
	v.SetDefault("chunking.sql_budget", cfg.Chunking.SQLBudget)
	v.SetDefault("chunking.max_input_bytes", cfg.Chunking.MaxInputBytes)
	v.SetDefault("chunking.read_concurrency", cfg.Chunking.ReadConcurrency)

	v.SetDefault("search.default_limit", cfg.Search.DefaultLimit)
	v.SetDefault("search.max_limit", cfg.Search.MaxLimit)
	v.SetDefault("search.similarity", cfg.Search.Similarity)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("mcp.heartbeat_interval", cfg.MCP.HeartbeatInterval)
}

// Load reads configuration. configPath may be empty, in which case only
// defaults and the environment apply. The result is validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.resolvePaths()

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// resolvePaths derives unset paths from DataDir and expands a leading "~".
func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "index.db")
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = filepath.Join(c.DataDir, "repos")
	}
	if c.DBPath != ":memory:" {
		c.DBPath = expandHome(c.DBPath)
	}
	c.WorkspaceDir = expandHome(c.WorkspaceDir)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	validProviders := map[string]bool{
		"": true, embedder.ProviderLocal: true, embedder.ProviderOpenAI: true,
		embedder.ProviderJina: true, embedder.ProviderOllama: true,
	}
	if !validProviders[strings.ToLower(cfg.Embedding.Provider)] {
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s", cfg.Embedding.Provider))
	}
	if cfg.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", cfg.Embedding.BatchSize))
	}
	if cfg.Embedding.BatchSize > embedder.MaxBatchSize {
		errs = append(errs, fmt.Errorf("embedding.batch_size must not exceed %d, got %d", embedder.MaxBatchSize, cfg.Embedding.BatchSize))
	}
	if cfg.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must not be negative, got %d", cfg.Embedding.Dimension))
	}
	if cfg.Embedding.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embedding.cache_size must not be negative, got %d", cfg.Embedding.CacheSize))
	}

	c := cfg.Chunking
	for name, n := range map[string]int{
		"chunking.chunk_size":       c.ChunkSize,
		"chunking.sql_budget":       c.SQLBudget,
		"chunking.max_input_bytes":  c.MaxInputBytes,
		"chunking.read_concurrency": c.ReadConcurrency,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if c.ChunkOverlap < 0 || (c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize) {
		errs = append(errs, fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap))
	}

	if cfg.Search.DefaultLimit <= 0 || cfg.Search.MaxLimit <= 0 {
		errs = append(errs, fmt.Errorf("search limits must be positive"))
	} else if cfg.Search.DefaultLimit > cfg.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit %d exceeds search.max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit))
	}
	if _, err := searcher.ParseSimilarity(cfg.Search.Similarity); err != nil {
		errs = append(errs, err)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "off": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging level: %s", cfg.Logging.Level))
	}
	if f := strings.ToLower(cfg.Logging.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("invalid logging format: %s (valid: text, json)", cfg.Logging.Format))
	}

	if cfg.MCP.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("mcp.heartbeat_interval must not be negative"))
	}
	return errs
}

// EmbedderConfig maps the embedding section onto the embedder factory.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
		Retry:     embedder.DefaultRetryConfig(),
	}
}

// ChunkerOptions maps the chunking section onto chunker sizing.
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:     c.Chunking.ChunkSize,
		Overlap:       c.Chunking.ChunkOverlap,
		SQLBudget:     c.Chunking.SQLBudget,
		MaxInputBytes: c.Chunking.MaxInputBytes,
	}
}
