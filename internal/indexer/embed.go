package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// ErrNoEmbedder is returned by Embed when the Indexer has no embedder.
var ErrNoEmbedder = errors.New("no embedder configured")

// EmbedStats describes one run of the embedding orchestrator.
type EmbedStats struct {
	ChunksEmbedded int
	Batches        int
	Placeholders   int // chunks that received placeholder vectors
	Reembedded     int // placeholder chunks queued for a real vector
	FilesIngested  int
	Completed      bool // the branch reached embeddings_generated
	Duration       time.Duration
}

// Embed computes vectors for every chunk of the branch that lacks one, and
// retries chunks that still carry placeholder vectors from an earlier run.
// Batches run sequentially; each batch's vectors and the resulting file
// status changes commit in one transaction, so a failure leaves earlier
// batches durable and the failed batch untouched. After every committed
// batch report receives processed/total; with nothing to do it receives a
// single 1. Finally the branch moves to embeddings_generated when all of its
// files are ingested or done.
func (idx *Indexer) Embed(ctx context.Context, branch *storage.Branch, report progress.Func) (*EmbedStats, error) {
	if idx.embedder == nil {
		return nil, types.NewInternal("embed", ErrNoEmbedder)
	}
	start := time.Now()
	stats := &EmbedStats{}

	ids, err := idx.store.ListUnembeddedChunkIDs(ctx, branch.ID)
	if err != nil {
		return nil, types.NewTransport("list unembedded chunks", err)
	}
	stale, err := idx.store.ListChunkIDsByModel(ctx, branch.ID, embedder.PlaceholderModel)
	if err != nil {
		return nil, types.NewTransport("list placeholder chunks", err)
	}
	if len(stale) > 0 {
		idx.logger.Info("re-embedding placeholder vectors", "branch", branch.Name, "chunks", len(stale))
		ids = append(ids, stale...)
		stats.Reembedded = len(stale)
	}

	if len(ids) == 0 {
		if report != nil {
			report(1, "no chunks to embed")
		}
	}

	for offset := 0; offset < len(ids); offset += idx.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(offset+idx.config.BatchSize, len(ids))

		n, placeholders, ingested, err := idx.embedBatch(ctx, ids[offset:end])
		if err != nil {
			return stats, err
		}
		stats.Batches++
		stats.ChunksEmbedded += n
		stats.Placeholders += placeholders
		stats.FilesIngested += ingested

		if report != nil {
			report(float64(end)/float64(len(ids)), fmt.Sprintf("embedded %d/%d chunks", end, len(ids)))
		}
	}

	ingested, err := idx.sweepFetched(ctx, branch)
	if err != nil {
		return stats, err
	}
	stats.FilesIngested += ingested

	completed, err := idx.markEmbeddingsGenerated(ctx, branch)
	if err != nil {
		return stats, err
	}
	stats.Completed = completed
	stats.Duration = time.Since(start)

	idx.logger.Debug("embed stage finished", "branch", branch.Name,
		"chunks", stats.ChunksEmbedded, "batches", stats.Batches,
		"placeholders", stats.Placeholders, "completed", completed, "duration", stats.Duration)
	return stats, nil
}

// embedBatch embeds one batch of chunk IDs and persists the vectors along
// with any file that became fully embedded.
func (idx *Indexer) embedBatch(ctx context.Context, ids []int64) (embedded, placeholders, ingested int, err error) {
	chunks, err := idx.store.GetChunks(ctx, ids)
	if err != nil {
		return 0, 0, 0, types.NewTransport("load chunks", err)
	}
	if len(chunks) == 0 {
		return 0, 0, 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	model := idx.embedder.Model()
	vectors, err := idx.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(chunks) {
		err = fmt.Errorf("%w: got %d, want %d", embedder.ErrCountMismatch, len(vectors), len(chunks))
	}
	if err != nil {
		if !idx.config.Placeholder || ctx.Err() != nil {
			return 0, 0, 0, types.NewTransport("embed batch", err)
		}
		idx.logger.Warn("embedding failed, using placeholder vectors", "chunks", len(chunks), "err", err)
		vectors = make([][]float32, len(chunks))
		for i, text := range texts {
			vectors[i] = embedder.PlaceholderVector(text, idx.embedder.Dimension())
		}
		model = embedder.PlaceholderModel
		placeholders = len(chunks)
	}

	err = storage.WithTx(ctx, idx.store, func(tx storage.Tx) error {
		touched := make(map[int64]bool)
		for i, c := range chunks {
			if err := tx.SetChunkEmbedding(ctx, c.ID, vectors[i], model); err != nil {
				return err
			}
			touched[c.FileID] = true
		}
		n, err := ingestComplete(ctx, tx, touched)
		ingested = n
		return err
	})
	if err != nil {
		return 0, 0, 0, types.NewTransport("store embeddings", err)
	}
	return len(chunks), placeholders, ingested, nil
}

// ingestComplete marks fetched files without unembedded chunks as ingested.
func ingestComplete(ctx context.Context, s storage.Storage, fileIDs map[int64]bool) (int, error) {
	n := 0
	for id := range fileIDs {
		remaining, err := s.CountUnembeddedChunks(ctx, id)
		if err != nil {
			return n, err
		}
		if remaining > 0 {
			continue
		}
		f, err := s.GetFileByID(ctx, id)
		if err != nil {
			return n, err
		}
		if f.Status != state.FileFetched {
			continue
		}
		next, err := f.Status.Transition(state.FileIngested)
		if err != nil {
			return n, err
		}
		f.Status = next
		if err := s.UpdateFile(ctx, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// sweepFetched promotes fetched files of the branch whose chunks are all
// embedded. This covers files completed through another branch.
func (idx *Indexer) sweepFetched(ctx context.Context, branch *storage.Branch) (int, error) {
	files, err := idx.store.ListBranchFilesByStatus(ctx, branch.ID, state.FileFetched)
	if err != nil {
		return 0, types.NewTransport("list fetched files", err)
	}
	if len(files) == 0 {
		return 0, nil
	}
	ids := make(map[int64]bool, len(files))
	for _, f := range files {
		ids[f.ID] = true
	}

	var n int
	err = storage.WithTx(ctx, idx.store, func(tx storage.Tx) error {
		var err error
		n, err = ingestComplete(ctx, tx, ids)
		return err
	})
	if err != nil {
		return 0, types.NewTransport("ingest files", err)
	}
	return n, nil
}

// markEmbeddingsGenerated moves a files_processed branch to
// embeddings_generated when every associated file is ingested or done.
// It reports whether the branch is complete.
func (idx *Indexer) markEmbeddingsGenerated(ctx context.Context, branch *storage.Branch) (bool, error) {
	if branch.Status == state.BranchEmbeddingsGenerated {
		return true, nil
	}
	if branch.Status != state.BranchFilesProcessed {
		return false, nil
	}
	counts, err := idx.store.CountFileStatuses(ctx, branch.ID)
	if err != nil {
		return false, types.NewTransport("count file statuses", err)
	}
	for status, n := range counts {
		if n > 0 && !status.Complete() {
			return false, nil
		}
	}
	if err := idx.setBranchStatus(ctx, branch, state.BranchEmbeddingsGenerated); err != nil {
		return false, err
	}
	return true, nil
}
