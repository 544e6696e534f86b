package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/repoctx-mcp/internal/config"
	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/indexer"
	"github.com/dshills/repoctx-mcp/internal/logging"
	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/searcher"
	"github.com/dshills/repoctx-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "repoctx",
		Short:         "Semantic search over git repositories",
		Long:          "repoctx indexes git repository branches into an embedding store and answers natural language queries over them, as an MCP server or from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newIndexCmd(),
		newSearchCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	pipeline *pipeline.Pipeline
}

// newApp loads configuration and wires storage, the embedder and the
// pipeline. Logs go to logOut, which must not be the MCP stdio stream.
func newApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := logging.New(cfg.Logging, logOut)

	similarity, err := searcher.ParseSimilarity(cfg.Search.Similarity)
	if err != nil {
		return nil, err
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	logger.Debug("components ready", "db", cfg.DBPath, "driver", storage.DriverName,
		"build", storage.BuildMode, "provider", emb.Provider(), "model", emb.Model())

	p := pipeline.New(store, emb, pipeline.Options{
		WorkspaceDir: cfg.WorkspaceDir,
		Chunker:      cfg.ChunkerOptions(),
		Indexer: indexer.Config{
			Workers:     cfg.Chunking.ReadConcurrency,
			BatchSize:   cfg.Embedding.BatchSize,
			Placeholder: cfg.Embedding.PlaceholderOnError,
		},
		Searcher: searcher.Config{
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
			Similarity:   similarity,
		},
	}, logger)

	return &app{cfg: cfg, logger: logger, store: store, embedder: emb, pipeline: p}, nil
}

func (a *app) Close() error {
	_ = a.embedder.Close()
	return a.store.Close()
}
