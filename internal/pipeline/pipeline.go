// Package pipeline is the entry operation of repoctx: it resolves a
// repository, brings its branch index up to date and answers queries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"

	"github.com/dshills/repoctx-mcp/internal/chunker"
	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/indexer"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/searcher"
	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/internal/syncer"
	"github.com/dshills/repoctx-mcp/internal/vcs"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// ErrBusy is returned by Index when another invocation holds the repository.
var ErrBusy = errors.New("indexing already in progress")

// Progress ranges of the stages within one invocation.
const (
	stageVCS    = 0.05
	stageSync   = 0.10
	stageChunk  = 0.40
	stageEmbed  = 0.95
	stageSearch = 1.0
)

// Options configures a Pipeline.
type Options struct {
	WorkspaceDir string
	Chunker      chunker.Options
	Indexer      indexer.Config
	Searcher     searcher.Config
}

// Pipeline wires the synchronizer, chunk and embed stages and the retrieval
// engine over one store. It is safe for concurrent use; invocations for the
// same repository are serialized.
type Pipeline struct {
	store     storage.Storage
	syncer    *syncer.Syncer
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	locks     indexer.RepoLocks
	workspace string
	logger    hclog.Logger
}

// New creates a Pipeline. A nil logger discards output.
func New(store storage.Storage, emb embedder.Embedder, opts Options, logger hclog.Logger) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	idx := indexer.New(store, chunker.New(opts.Chunker), emb, opts.Indexer, logger)
	return &Pipeline{
		store:     store,
		syncer:    syncer.New(store, logger),
		indexer:   idx,
		searcher:  searcher.NewSearcher(store, emb, idx, opts.Searcher, logger),
		workspace: opts.WorkspaceDir,
		logger:    logger.Named("pipeline"),
	}
}

// IndexRequest names the repository and branch to index.
type IndexRequest struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"` // empty selects the default branch
}

// SearchRequest is an IndexRequest plus a query.
type SearchRequest struct {
	Repository string   `json:"repository"`
	Branch     string   `json:"branch,omitempty"`
	Query      string   `json:"query"`
	Keywords   []string `json:"keywords,omitempty"`
	Include    []string `json:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// IndexSummary reports what one indexing pass did.
type IndexSummary struct {
	Commit         string   `json:"commit"`
	Status         string   `json:"status"`
	FastPath       bool     `json:"fast_path,omitempty"` // head and status unchanged; nothing ran
	FilesNew       int      `json:"files_new"`
	FilesUpdated   int      `json:"files_updated"`
	FilesUnchanged int      `json:"files_unchanged"`
	FilesRemoved   int      `json:"files_removed"`
	FilesChunked   int      `json:"files_chunked"`
	FilesFailed    int      `json:"files_failed"`
	ChunksCreated  int      `json:"chunks_created"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	Placeholders   int      `json:"placeholders,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// IndexResponse is the result of Index.
type IndexResponse struct {
	RunID      string `json:"run_id"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	IndexSummary
	DurationMs int64 `json:"duration_ms"`
}

// SearchResponse echoes the request and carries the ranked results.
type SearchResponse struct {
	RunID      string               `json:"run_id"`
	Repository string               `json:"repository"`
	Branch     string               `json:"branch"`
	Query      string               `json:"query"`
	Keywords   []string             `json:"keywords,omitempty"`
	Include    []string             `json:"include,omitempty"`
	Exclude    []string             `json:"exclude,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Results    []types.SearchResult `json:"results"`
	Index      *IndexSummary        `json:"index,omitempty"` // nil when another invocation was indexing
	Backfilled bool                 `json:"backfilled,omitempty"`
	DurationMs int64                `json:"duration_ms"`
}

// run is the per-invocation context shared by the stages.
type run struct {
	id      string
	loc     vcs.Location
	logger  hclog.Logger
	tracker *progress.Tracker
	start   time.Time
}

func (p *Pipeline) newRun(location string, report progress.Func) (*run, error) {
	loc, err := vcs.NormalizeLocation(location)
	if err != nil {
		return nil, err
	}
	id := ulid.Make().String()
	return &run{
		id:      id,
		loc:     loc,
		logger:  p.logger.With("run", id, "repository", loc.ID),
		tracker: progress.NewTracker(report),
		start:   time.Now(),
	}, nil
}

// Index brings the branch index of a repository up to date: VCS listing,
// synchronization, chunking and embedding.
func (p *Pipeline) Index(ctx context.Context, req IndexRequest, report progress.Func) (*IndexResponse, error) {
	r, err := p.newRun(req.Repository, report)
	if err != nil {
		return nil, err
	}
	if !p.locks.TryAcquire(r.loc.ID) {
		return nil, types.NewInvalidInput("%s: %v", r.loc.ID, ErrBusy)
	}
	defer p.locks.Release(r.loc.ID)

	branch, summary, err := p.index(ctx, r, strings.TrimSpace(req.Branch))
	if err != nil {
		return nil, err
	}
	r.tracker.Report(1, "index complete")
	p.searcher.InvalidateCache()

	return &IndexResponse{
		RunID:        r.id,
		Repository:   r.loc.ID,
		Branch:       branch.Name,
		IndexSummary: *summary,
		DurationMs:   time.Since(r.start).Milliseconds(),
	}, nil
}

// Search indexes the branch and runs the query against it. When another
// invocation is indexing the repository, the query runs against the vectors
// already committed.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest, report progress.Func) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.NewInvalidInput("query is required")
	}
	if req.Limit < 0 {
		return nil, types.NewInvalidInput("limit must not be negative, got %d", req.Limit)
	}
	if _, err := searcher.NewPathFilter(req.Include, req.Exclude); err != nil {
		return nil, types.NewInvalidInput("%v", err)
	}
	r, err := p.newRun(req.Repository, report)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		RunID:      r.id,
		Repository: r.loc.ID,
		Query:      req.Query,
		Keywords:   req.Keywords,
		Include:    req.Include,
		Exclude:    req.Exclude,
		Limit:      req.Limit,
	}

	var branch *storage.Branch
	busy := !p.locks.TryAcquire(r.loc.ID)
	if busy {
		r.logger.Info("repository busy, searching committed vectors")
		branch, err = p.storedBranch(ctx, r.loc, strings.TrimSpace(req.Branch))
		if err != nil {
			return nil, err
		}
	} else {
		defer p.locks.Release(r.loc.ID)
		var summary *IndexSummary
		branch, summary, err = p.index(ctx, r, strings.TrimSpace(req.Branch))
		if err != nil {
			return nil, err
		}
		resp.Index = summary
		if !summary.FastPath {
			p.searcher.InvalidateCache()
		}
	}
	resp.Branch = branch.Name

	result, err := p.searcher.Search(ctx, branch, searcher.SearchRequest{
		Query:        req.Query,
		Keywords:     req.Keywords,
		Include:      req.Include,
		Exclude:      req.Exclude,
		Limit:        req.Limit,
		SkipBackfill: busy,
		UseCache:     true,
	}, r.tracker.Stage(stageEmbed, stageSearch))
	if err != nil {
		return nil, err
	}
	r.tracker.Report(1, fmt.Sprintf("found %d results", len(result.Results)))

	resp.Results = result.Results
	resp.Backfilled = result.Backfilled
	resp.DurationMs = time.Since(r.start).Milliseconds()
	r.logger.Info("search complete", "branch", branch.Name, "results", len(result.Results),
		"duration", time.Since(r.start))
	return resp, nil
}

// index runs the VCS, sync, chunk and embed stages. The caller holds the
// repository lock.
func (p *Pipeline) index(ctx context.Context, r *run, branchName string) (*storage.Branch, *IndexSummary, error) {
	repo, err := vcs.Open(ctx, r.loc, p.workspace, r.logger)
	if err != nil {
		return nil, nil, types.NewTransport("open repository", err)
	}
	if branchName == "" {
		if branchName, err = repo.DefaultBranchName(ctx); err != nil {
			return nil, nil, types.NewTransport("default branch", err)
		}
	}
	if err := repo.Checkout(ctx, branchName); err != nil {
		return nil, nil, vcsError("checkout", branchName, err)
	}
	files, head, err := repo.ListFiles(ctx, branchName)
	if err != nil {
		return nil, nil, vcsError("list files", branchName, err)
	}
	r.tracker.Report(stageVCS, fmt.Sprintf("listed %d files at %.12s", len(files), head))

	record := &storage.Repository{Location: r.loc.ID, Name: r.loc.Name, LocalPath: repo.Dir()}
	if err := p.store.UpsertRepository(ctx, record); err != nil {
		return nil, nil, storeError("upsert repository", err)
	}
	branch, err := p.store.GetOrCreateBranch(ctx, record.ID, branchName)
	if err != nil {
		return nil, nil, storeError("get branch", err)
	}

	summary := &IndexSummary{Commit: head}
	logger := r.logger.With("branch", branchName)

	upToDate := branch.LastCommit == head && branch.Status == state.BranchEmbeddingsGenerated
	if upToDate {
		stale, err := p.store.ListChunkIDsByModel(ctx, branch.ID, embedder.PlaceholderModel)
		if err != nil {
			return nil, nil, storeError("list placeholder chunks", err)
		}
		upToDate = len(stale) == 0
	}
	if upToDate {
		logger.Debug("branch up to date", "commit", head)
		summary.FastPath = true
		summary.Status = string(branch.Status)
		summary.FilesUnchanged = len(files)
		r.tracker.Report(stageEmbed, "index up to date")
		return branch, summary, nil
	}

	listing := make([]syncer.Entry, len(files))
	for i, f := range files {
		listing[i] = syncer.Entry{Path: f.Path, ContentID: f.Hash}
	}
	synced, err := p.syncer.Sync(ctx, branch, head, listing)
	if err != nil {
		return nil, nil, storeError("sync", err)
	}
	summary.FilesNew = len(synced.New)
	summary.FilesUpdated = len(synced.Updated)
	summary.FilesUnchanged = synced.Unchanged
	summary.FilesRemoved = len(synced.Removed)
	r.tracker.Report(stageSync, fmt.Sprintf("synced: %d new, %d updated, %d removed",
		summary.FilesNew, summary.FilesUpdated, summary.FilesRemoved))

	chunked, err := p.indexer.Chunk(ctx, branch, repo, r.tracker.Stage(stageSync, stageChunk))
	if err != nil {
		return nil, nil, storeError("chunk", err)
	}
	summary.FilesChunked = chunked.FilesChunked
	summary.FilesFailed = chunked.FilesFailed
	summary.ChunksCreated = chunked.ChunksCreated
	summary.Errors = chunked.ErrorMessages

	embedded, err := p.indexer.Embed(ctx, branch, r.tracker.Stage(stageChunk, stageEmbed))
	if embedded != nil {
		summary.ChunksEmbedded = embedded.ChunksEmbedded
		summary.Placeholders = embedded.Placeholders
	}
	if err != nil {
		return nil, nil, storeError("embed", err)
	}
	summary.Status = string(branch.Status)

	logger.Info("index updated", "commit", head, "status", branch.Status,
		"new", summary.FilesNew, "updated", summary.FilesUpdated, "removed", summary.FilesRemoved,
		"chunks", summary.ChunksCreated, "embedded", summary.ChunksEmbedded)
	return branch, summary, nil
}

// storedBranch finds an already indexed branch without touching the VCS.
// With no name given, a repository with a single branch, or one named main
// or master, is used.
func (p *Pipeline) storedBranch(ctx context.Context, loc vcs.Location, name string) (*storage.Branch, error) {
	repo, err := p.store.GetRepository(ctx, loc.ID)
	if err != nil {
		return nil, storeError("get repository", err)
	}
	if name != "" {
		branch, err := p.store.GetBranch(ctx, repo.ID, name)
		if err != nil {
			return nil, storeError("get branch", err)
		}
		return branch, nil
	}

	branches, err := p.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return nil, storeError("list branches", err)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	for _, want := range []string{"main", "master"} {
		for _, b := range branches {
			if b.Name == want {
				return b, nil
			}
		}
	}
	return nil, types.NewInvalidInput("%s is being indexed; specify a branch", loc.ID)
}

// storeError classifies a failure from a store-backed stage. Errors that
// already carry a kind pass through unchanged.
func storeError(op string, err error) error {
	var typed *types.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, state.ErrInvalidTransition):
		return types.NewConsistency(op, "%v", err)
	}
	return types.NewTransport(op, err)
}

func vcsError(op, branch string, err error) error {
	if errors.Is(err, vcs.ErrBranchNotFound) {
		return types.NewInvalidInput("branch %q not found", branch)
	}
	return types.NewTransport(op, err)
}
