package searcher

import (
	"cmp"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/indexer"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// Similarity selects how a chunk vector is scored against the query vector.
type Similarity string

const (
	SimilarityCosine Similarity = "cosine" // cosine of the angle between vectors
	SimilarityDot    Similarity = "dot"    // coordinate-wise product sum divided by dimension
)

// ParseSimilarity validates a similarity name. The empty string selects cosine.
func ParseSimilarity(name string) (Similarity, error) {
	switch Similarity(strings.ToLower(strings.TrimSpace(name))) {
	case "", SimilarityCosine:
		return SimilarityCosine, nil
	case SimilarityDot:
		return SimilarityDot, nil
	}
	return "", fmt.Errorf("unknown similarity %q", name)
}

// Result limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// DefaultCacheSize is the number of responses kept by the query cache.
const DefaultCacheSize = 1000

// Backfiller embeds the outstanding chunks of a branch. *indexer.Indexer
// satisfies it.
type Backfiller interface {
	Embed(ctx context.Context, branch *storage.Branch, report progress.Func) (*indexer.EmbedStats, error)
}

// Config tunes retrieval.
type Config struct {
	DefaultLimit int        // results when the request names none (default: 10)
	MaxLimit     int        // upper bound on any request's limit (default: 100)
	Similarity   Similarity // default: cosine
	CacheSize    int        // query cache entries; 0 uses DefaultCacheSize, negative disables
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Keywords []string // optional; a result must contain at least one, case-insensitively
	Include  []string // optional path globs; a result's path must match one
	Exclude  []string // optional path globs; a result's path must match none
	Limit    int

	// SkipBackfill disables lazy embedding, used when another invocation
	// is already indexing the branch.
	SkipBackfill bool

	UseCache bool // Whether to use query cache
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Scanned      int  // embedded chunks scored
	Backfilled   bool // a backfill pass ran before the final scan
	Similarity   Similarity
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher ranks the embedded chunks of a branch against a query.
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	backfill Backfiller
	config   Config
	logger   hclog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// NewSearcher creates a new Searcher instance. backfill may be nil, in which
// case branches without vectors simply return no results.
func NewSearcher(store storage.Storage, emb embedder.Embedder, backfill Backfiller, config Config, logger hclog.Logger) *Searcher {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxLimit
	}
	if config.DefaultLimit > config.MaxLimit {
		config.DefaultLimit = config.MaxLimit
	}
	if config.Similarity == "" {
		config.Similarity = SimilarityCosine
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Searcher{
		storage:  store,
		embedder: emb,
		backfill: backfill,
		config:   config,
		logger:   logger.Named("searcher"),
	}

	size := config.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](size)
		if err != nil {
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		s.cache = cache
	}
	return s
}

// scored is a candidate held during the scan. Chunk text is loaded only for
// the survivors of truncation.
type scored struct {
	chunkID int64
	path    string
	ordinal int
	score   float64
}

// Search embeds the query, scores every embedded chunk of the branch and
// returns the best matches in descending score order. When the branch has
// chunks but none of them carry vectors, one backfill pass runs before a
// second scan. An empty branch returns no results and no error.
func (s *Searcher) Search(ctx context.Context, branch *storage.Branch, req SearchRequest, report progress.Func) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, types.NewInternal("search", errors.New("embedder not initialized"))
	}
	if branch == nil {
		return nil, types.NewInvalidInput("branch is required")
	}
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}
	filter, err := NewPathFilter(req.Include, req.Exclude)
	if err != nil {
		return nil, types.NewInvalidInput("%v", err)
	}

	var key [32]byte
	if req.UseCache && s.cache != nil {
		counts, err := s.storage.CountBranchChunks(ctx, branch.ID)
		if err != nil {
			return nil, types.NewTransport("count chunks", err)
		}
		key = computeQueryHash(branch, counts, req, s.config.Similarity)
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	queryVec, err := embedder.EmbedOne(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, types.NewTransport("embed query", err)
	}

	candidates, embedded, err := s.scan(ctx, branch.ID, queryVec, filter)
	if err != nil {
		return nil, err
	}

	response := &SearchResponse{Similarity: s.config.Similarity}

	if embedded == 0 && !req.SkipBackfill && s.backfill != nil {
		ran, err := s.runBackfill(ctx, branch, report)
		if err != nil {
			return nil, err
		}
		if ran {
			response.Backfilled = true
			candidates, embedded, err = s.scan(ctx, branch.ID, queryVec, filter)
			if err != nil {
				return nil, err
			}
		}
	}
	response.Scanned = embedded

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.path, b.path); c != 0 {
			return c
		}
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	results, err := s.fetchResults(ctx, candidates, req.Keywords)
	if err != nil {
		return nil, err
	}
	response.Results = results
	response.TotalResults = len(results)
	response.Duration = time.Since(startTime)

	s.logger.Debug("search complete",
		"branch", branch.Name, "scanned", embedded, "results", len(results),
		"backfilled", response.Backfilled, "duration", response.Duration)

	// Backfill changes the counts the key was derived from.
	if req.UseCache && s.cache != nil && !response.Backfilled {
		s.storeInCache(key, req.CacheTTL, response)
	}
	return response, nil
}

// scan scores every embedded chunk of the branch. embedded counts all
// embedded chunks before path filtering.
func (s *Searcher) scan(ctx context.Context, branchID int64, query []float32, filter *PathFilter) ([]scored, int, error) {
	score := storage.CosineSimilarity
	if s.config.Similarity == SimilarityDot {
		score = storage.DotPerDimension
	}

	var (
		out        []scored
		embedded   int
		mismatched int
	)
	err := s.storage.ScanBranchVectors(ctx, branchID, func(cv storage.ChunkVector) error {
		embedded++
		if !filter.Match(cv.Path) {
			return nil
		}
		if len(cv.Vector) != len(query) {
			mismatched++
			return nil
		}
		out = append(out, scored{
			chunkID: cv.ChunkID,
			path:    cv.Path,
			ordinal: cv.Ordinal,
			score:   score(query, cv.Vector),
		})
		return nil
	})
	if err != nil {
		return nil, 0, types.NewTransport("scan vectors", err)
	}
	if mismatched > 0 {
		s.logger.Warn("skipped chunks with a different embedding dimension",
			"count", mismatched, "query_dimension", len(query))
	}
	return out, embedded, nil
}

// runBackfill embeds outstanding chunks when the branch has any. It reports
// whether a pass ran.
func (s *Searcher) runBackfill(ctx context.Context, branch *storage.Branch, report progress.Func) (bool, error) {
	counts, err := s.storage.CountBranchChunks(ctx, branch.ID)
	if err != nil {
		return false, types.NewTransport("count chunks", err)
	}
	if counts.Unembedded() == 0 {
		return false, nil
	}

	s.logger.Info("backfilling embeddings", "branch", branch.Name, "chunks", counts.Unembedded())
	stats, err := s.backfill.Embed(ctx, branch, report)
	if err != nil {
		return false, fmt.Errorf("backfill: %w", err)
	}
	s.logger.Debug("backfill complete", "embedded", stats.ChunksEmbedded, "batches", stats.Batches)
	return true, nil
}

// fetchResults loads chunk text for the ranked candidates, drops those
// without a keyword match and assigns 1-based ranks.
func (s *Searcher) fetchResults(ctx context.Context, ranked []scored, keywords []string) ([]types.SearchResult, error) {
	if len(ranked) == 0 {
		return []types.SearchResult{}, nil
	}

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.chunkID
	}
	chunks, err := s.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, types.NewTransport("load chunks", err)
	}
	content := make(map[int64]string, len(chunks))
	for _, c := range chunks {
		content[c.ID] = c.Content
	}

	terms := normalizeKeywords(keywords)
	results := make([]types.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		text, ok := content[r.chunkID]
		if !ok {
			// Removed by a concurrent sync after the scan.
			continue
		}
		if !containsAny(text, terms) {
			continue
		}
		results = append(results, types.SearchResult{
			ChunkID: r.chunkID,
			Rank:    len(results) + 1,
			Path:    r.path,
			Ordinal: r.ordinal,
			Content: text,
			Score:   r.score,
		})
	}
	return results, nil
}

func normalizeKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// containsAny reports whether text contains one of the lower-cased terms.
// No terms means no filtering.
func containsAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return types.NewInvalidInput("query cannot be empty")
	}
	if req.Limit < 0 {
		return types.NewInvalidInput("limit must not be negative, got %d", req.Limit)
	}
	if req.Limit == 0 {
		req.Limit = s.config.DefaultLimit
	}
	if req.Limit > s.config.MaxLimit {
		req.Limit = s.config.MaxLimit
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = 1 * time.Hour // Default TTL
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil.
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(key [32]byte, ttl time.Duration, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(ttl),
	}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Callers invoke it after
// indexing changes a branch.
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = slices.Clone(src.Results)
	return &dst
}

// computeQueryHash keys a request by everything that can change its answer:
// the branch's head, status and chunk counts, the query and its filters.
func computeQueryHash(branch *storage.Branch, counts storage.ChunkCounts, req SearchRequest, sim Similarity) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%d|%s|%s|%d/%d|%s|%d|", branch.ID, branch.LastCommit, branch.Status,
		counts.Embedded, counts.Total, sim, req.Limit)
	data.WriteString(req.Query)
	data.WriteString("|k:")
	data.WriteString(strings.Join(normalizeKeywords(req.Keywords), "\x00"))
	data.WriteString("|i:")
	data.WriteString(strings.Join(req.Include, "\x00"))
	data.WriteString("|e:")
	data.WriteString(strings.Join(req.Exclude, "\x00"))
	return sha256.Sum256([]byte(data.String()))
}
