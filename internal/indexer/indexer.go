package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoctx-mcp/internal/chunker"
	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// ContentSource returns the content of a file at a given content identifier.
// At most limit bytes are returned; limit <= 0 reads everything.
type ContentSource interface {
	ReadFile(ctx context.Context, path, contentID string, limit int64) ([]byte, error)
}

// DirSource reads files from a checked-out working copy rooted at the
// directory it names. The content identifier is ignored.
type DirSource string

func (d DirSource) ReadFile(_ context.Context, path, _ string, limit int64) ([]byte, error) {
	f, err := os.Open(filepath.Join(string(d), filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rd io.Reader = f
	if limit > 0 {
		rd = io.LimitReader(f, limit)
	}
	return io.ReadAll(rd)
}

// Indexer runs the chunk and embed stages for a branch.
type Indexer struct {
	store    storage.Storage
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	logger   hclog.Logger
	config   Config
}

// Config contains configuration for the indexer
type Config struct {
	Workers     int  // Concurrent file reads in the chunk stage (default: runtime.NumCPU())
	BatchSize   int  // Chunks per embedding call and transaction (default: 32)
	Placeholder bool // Substitute placeholder vectors when the embedder fails
}

// DefaultBatchSize is the embedding batch size used when Config leaves it unset.
const DefaultBatchSize = 32

// Statistics describes one run of the chunk stage.
type Statistics struct {
	FilesChunked  int // files whose chunks were stored
	FilesDone     int // files that produced no chunks
	FilesFailed   int // files left pending after a read error
	ChunksCreated int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates an Indexer. A nil logger discards output.
func New(store storage.Storage, ch *chunker.Chunker, emb embedder.Embedder, config Config, logger hclog.Logger) *Indexer {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if ch == nil {
		ch = chunker.New(chunker.DefaultOptions())
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Indexer{
		store:    store,
		chunker:  ch,
		embedder: emb,
		logger:   logger.Named("indexer"),
		config:   config,
	}
}

// chunked is the result of reading and chunking one file.
type chunked struct {
	file   *storage.File
	chunks []types.Chunk
	err    error
}

// Chunk reads and chunks every pending file of the branch and stores the
// chunks, one transaction per file. Files are read concurrently and written
// sequentially; ignored paths are never read and reads stop at the
// chunker's input bound. A file that cannot be read is logged, counted as
// failed and left pending for the next run. When no pending files remain
// the branch moves to files_processed.
func (idx *Indexer) Chunk(ctx context.Context, branch *storage.Branch, source ContentSource, report progress.Func) (*Statistics, error) {
	start := time.Now()
	stats := &Statistics{}

	files, err := idx.store.ListBranchFilesByStatus(ctx, branch.ID, state.FilePending)
	if err != nil {
		return nil, types.NewTransport("list pending files", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := int64(idx.chunker.Options().MaxInputBytes)
	results := make(chan chunked)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.config.Workers)
	go func() {
		defer close(results)
		for _, f := range files {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := chunked{file: f}
				if chunker.Classify(f.Path) != chunker.StrategyIgnore {
					content, err := source.ReadFile(gctx, f.Path, f.ContentID, limit)
					if err != nil {
						r.err = err
					} else {
						r.chunks = idx.chunker.Chunk(f.Path, content)
					}
				}
				select {
				case results <- r:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()

	var firstErr error
	processed := 0
	for r := range results {
		if firstErr != nil {
			continue
		}
		processed++
		if r.err != nil {
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.file.Path, r.err))
			idx.logger.Warn("skipping unreadable file", "path", r.file.Path, "err", r.err)
		} else if err := idx.storeChunks(ctx, r.file, r.chunks); err != nil {
			firstErr = err
			cancel()
			continue
		} else if len(r.chunks) == 0 {
			stats.FilesDone++
		} else {
			stats.FilesChunked++
			stats.ChunksCreated += len(r.chunks)
		}
		if report != nil {
			report(float64(processed)/float64(len(files)), "chunking files")
		}
	}
	if firstErr != nil {
		return stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if len(files) == 0 && report != nil {
		report(1, "no files to chunk")
	}

	if err := idx.markFilesProcessed(ctx, branch); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	idx.logger.Debug("chunk stage finished", "branch", branch.Name,
		"chunked", stats.FilesChunked, "done", stats.FilesDone, "failed", stats.FilesFailed,
		"chunks", stats.ChunksCreated, "duration", stats.Duration)
	return stats, nil
}

// storeChunks replaces the file's chunks and advances its status: fetched
// when chunks were produced, done when there is nothing to embed.
func (idx *Indexer) storeChunks(ctx context.Context, f *storage.File, chunks []types.Chunk) error {
	err := storage.WithTx(ctx, idx.store, func(tx storage.Tx) error {
		if _, err := tx.DeleteChunksByFile(ctx, f.ID); err != nil {
			return err
		}

		records := make([]*storage.Chunk, len(chunks))
		for i, c := range chunks {
			records[i] = &storage.Chunk{Ordinal: c.Ordinal, Content: c.Content, TokenCount: c.TokenCount}
		}
		if err := tx.InsertChunks(ctx, f.ID, records); err != nil {
			return err
		}

		target := state.FileFetched
		if len(chunks) == 0 {
			target = state.FileDone
		}
		next, err := f.Status.Transition(target)
		if err != nil {
			return err
		}
		updated := *f
		updated.Status = next
		return tx.UpdateFile(ctx, &updated)
	})
	if err != nil {
		if errors.Is(err, state.ErrInvalidTransition) {
			return types.NewInternal("store chunks", err)
		}
		return types.NewTransport("store chunks for "+f.Path, err)
	}
	return nil
}

// markFilesProcessed moves a pending branch to files_processed once none of
// its files is pending.
func (idx *Indexer) markFilesProcessed(ctx context.Context, branch *storage.Branch) error {
	if branch.Status != state.BranchPending {
		return nil
	}
	counts, err := idx.store.CountFileStatuses(ctx, branch.ID)
	if err != nil {
		return types.NewTransport("count file statuses", err)
	}
	if counts[state.FilePending] > 0 {
		return nil
	}
	return idx.setBranchStatus(ctx, branch, state.BranchFilesProcessed)
}

func (idx *Indexer) setBranchStatus(ctx context.Context, branch *storage.Branch, target state.BranchStatus) error {
	next, err := branch.Status.Transition(target)
	if err != nil {
		return types.NewInternal("branch status", err)
	}
	updated := *branch
	updated.Status = next
	if err := idx.store.UpdateBranch(ctx, &updated); err != nil {
		return types.NewTransport("update branch", err)
	}
	*branch = updated
	idx.logger.Debug("branch status changed", "branch", branch.Name, "status", string(next))
	return nil
}
