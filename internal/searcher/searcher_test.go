package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoctx-mcp/internal/chunker"
	"github.com/dshills/repoctx-mcp/internal/indexer"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/internal/syncer"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// mockEmbedder maps known texts to fixed vectors and everything else to
// [0, 0, 1].
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 1}
	}
	return out, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockEmbedder) Dimension() int   { return 3 }
func (m *mockEmbedder) Model() string    { return "mock-v1" }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Close() error     { return nil }

// fakeBackfill embeds every outstanding chunk of the branch with a fixed vector.
type fakeBackfill struct {
	store  storage.Storage
	vector []float32 // nil leaves the chunks unembedded
	calls  int
}

func (f *fakeBackfill) Embed(ctx context.Context, branch *storage.Branch, _ progress.Func) (*indexer.EmbedStats, error) {
	f.calls++
	stats := &indexer.EmbedStats{}
	if f.vector == nil {
		return stats, nil
	}
	ids, err := f.store.ListUnembeddedChunkIDs(ctx, branch.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := f.store.SetChunkEmbedding(ctx, id, f.vector, "mock-v1"); err != nil {
			return nil, err
		}
	}
	stats.ChunksEmbedded = len(ids)
	stats.Batches = 1
	return stats, nil
}

type fixture struct {
	store  *storage.SQLiteStorage
	repo   *storage.Repository
	branch *storage.Branch
	emb    *mockEmbedder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := &storage.Repository{Location: "github.com/acme/widgets", Name: "widgets"}
	require.NoError(t, store.UpsertRepository(ctx, repo))
	branch, err := store.GetOrCreateBranch(ctx, repo.ID, "main")
	require.NoError(t, err)

	return &fixture{
		store:  store,
		repo:   repo,
		branch: branch,
		emb: &mockEmbedder{vectors: map[string][]float32{
			"alpha": {1, 0, 0},
		}},
	}
}

// addChunk stores a single-chunk file on the branch. A nil vector leaves the
// chunk unembedded.
func (f *fixture) addChunk(t *testing.T, path, content string, vector []float32) int64 {
	t.Helper()
	ctx := context.Background()
	file := &storage.File{RepositoryID: f.repo.ID, Path: path, ContentID: "c-" + path, Status: state.FileFetched}
	require.NoError(t, f.store.CreateFile(ctx, file))
	require.NoError(t, f.store.LinkFile(ctx, f.branch.ID, file.ID))
	chunk := &storage.Chunk{Ordinal: 1, Content: content, TokenCount: 1}
	require.NoError(t, f.store.InsertChunks(ctx, file.ID, []*storage.Chunk{chunk}))
	if vector != nil {
		require.NoError(t, f.store.SetChunkEmbedding(ctx, chunk.ID, vector, "mock-v1"))
	}
	return chunk.ID
}

func (f *fixture) searcher(cfg Config, backfill Backfiller) *Searcher {
	return NewSearcher(f.store, f.emb, backfill, cfg, nil)
}

func paths(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Path
	}
	return out
}

func TestSearch_RanksByCosine(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "c.go", "orthogonal", []float32{0, 1, 0})
	f.addChunk(t, "a.go", "exact", []float32{3, 0, 0})
	f.addChunk(t, "b.go", "diagonal", []float32{1, 1, 0})

	resp, err := f.searcher(Config{}, nil).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, paths(resp.Results))
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, resp.Results[1].Score, 1e-3)
	assert.InDelta(t, 0.0, resp.Results[2].Score, 1e-6)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, 1, r.Ordinal)
		assert.NoError(t, r.Validate())
	}
	assert.Equal(t, "exact", resp.Results[0].Content)
	assert.Equal(t, 3, resp.Scanned)
	assert.Equal(t, SimilarityCosine, resp.Similarity)
	assert.False(t, resp.Backfilled)
}

func TestSearch_DotSimilarity(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "small.go", "small", []float32{1, 0, 0})
	f.addChunk(t, "large.go", "large", []float32{2, 0, 0})

	resp, err := f.searcher(Config{Similarity: SimilarityDot}, nil).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "large.go", resp.Results[0].Path)
	assert.InDelta(t, 2.0/3.0, resp.Results[0].Score, 1e-6)
	assert.InDelta(t, 1.0/3.0, resp.Results[1].Score, 1e-6)
}

func TestSearch_Limits(t *testing.T) {
	f := setup(t)
	for i := range 6 {
		f.addChunk(t, fmt.Sprintf("f%d.go", i), "body", []float32{float32(6 - i), 1, 0})
	}
	s := f.searcher(Config{DefaultLimit: 4, MaxLimit: 5}, nil)
	ctx := context.Background()

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 4},
		{limit: 2, want: 2},
		{limit: 50, want: 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d", tt.limit), func(t *testing.T) {
			resp, err := s.Search(ctx, f.branch, SearchRequest{Query: "alpha", Limit: tt.limit}, nil)
			require.NoError(t, err)
			assert.Len(t, resp.Results, tt.want)
			assert.Equal(t, "f0.go", resp.Results[0].Path)
		})
	}
}

func TestSearch_PathFilters(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "internal/app/app.go", "app", []float32{1, 0, 0})
	f.addChunk(t, "internal/app/app_test.go", "app test", []float32{1, 0, 0})
	f.addChunk(t, "cmd/main.go", "main", []float32{1, 0, 0})
	f.addChunk(t, "README.md", "readme", []float32{1, 0, 0})
	s := f.searcher(Config{}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{name: "no filters", want: []string{"README.md", "cmd/main.go", "internal/app/app.go", "internal/app/app_test.go"}},
		{name: "include tree", include: []string{"internal/**"}, want: []string{"internal/app/app.go", "internal/app/app_test.go"}},
		{name: "include and exclude", include: []string{"**/*.go"}, exclude: []string{"**/*_test.go"}, want: []string{"cmd/main.go", "internal/app/app.go"}},
		{name: "single star stays in segment", include: []string{"*.go"}, want: []string{}},
		{name: "several includes", include: []string{"*.md", "cmd/*"}, want: []string{"README.md", "cmd/main.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.Search(ctx, f.branch, SearchRequest{Query: "alpha", Include: tt.include, Exclude: tt.exclude}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(resp.Results))
			assert.Equal(t, 4, resp.Scanned)
		})
	}
}

func TestSearch_KeywordsFilterAfterTruncation(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "func Open() {}", []float32{1, 0, 0})
	f.addChunk(t, "b.go", "func Close() {}", []float32{1, 0.5, 0})
	f.addChunk(t, "c.go", "func Flush() {}", []float32{1, 2, 0})
	s := f.searcher(Config{}, nil)
	ctx := context.Background()

	resp, err := s.Search(ctx, f.branch, SearchRequest{Query: "alpha", Keywords: []string{"CLOSE", "flush"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go", "c.go"}, paths(resp.Results))
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)

	resp, err = s.Search(ctx, f.branch, SearchRequest{Query: "alpha", Keywords: []string{"flush"}, Limit: 2}, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "keywords only filter the top results")

	resp, err = s.Search(ctx, f.branch, SearchRequest{Query: "alpha", Keywords: []string{"  "}}, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3, "blank keywords do not filter")
}

func TestSearch_EmptyBranch(t *testing.T) {
	f := setup(t)
	backfill := &fakeBackfill{store: f.store, vector: []float32{1, 0, 0}}

	resp, err := f.searcher(Config{}, backfill).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Zero(t, backfill.calls)
	assert.False(t, resp.Backfilled)
}

func TestSearch_BackfillRunsOnce(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", nil)
	f.addChunk(t, "b.go", "second", nil)
	backfill := &fakeBackfill{store: f.store, vector: []float32{1, 0, 0}}
	s := f.searcher(Config{}, backfill)
	ctx := context.Background()

	resp, err := s.Search(ctx, f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backfill.calls)
	assert.True(t, resp.Backfilled)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Scanned)

	// vectors now exist, so no further backfill
	_, err = s.Search(ctx, f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backfill.calls)
}

func TestSearch_BackfillThatEmbedsNothing(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", nil)
	backfill := &fakeBackfill{store: f.store}

	resp, err := f.searcher(Config{}, backfill).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backfill.calls)
	assert.Empty(t, resp.Results)
}

func TestSearch_NoBackfillWhenSomeVectorsExist(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "embedded", []float32{1, 0, 0})
	f.addChunk(t, "b.go", "pending", nil)
	backfill := &fakeBackfill{store: f.store, vector: []float32{1, 0, 0}}

	resp, err := f.searcher(Config{}, backfill).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Zero(t, backfill.calls)
	assert.Equal(t, []string{"a.go"}, paths(resp.Results))
}

func TestSearch_SkipBackfill(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", nil)
	backfill := &fakeBackfill{store: f.store, vector: []float32{1, 0, 0}}

	resp, err := f.searcher(Config{}, backfill).Search(context.Background(), f.branch, SearchRequest{Query: "alpha", SkipBackfill: true}, nil)
	require.NoError(t, err)
	assert.Zero(t, backfill.calls)
	assert.Empty(t, resp.Results)
}

func TestSearch_BackfillThroughIndexer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	files := map[string]string{
		"a.go":  "package a\n\nfunc A() int { return 1 }\n",
		"b.sql": "CREATE TABLE t(x int);\nINSERT INTO t VALUES (1),(2);\n",
	}
	var listing []syncer.Entry
	for p, c := range files {
		listing = append(listing, syncer.Entry{Path: p, ContentID: fmt.Sprintf("%x", len(c))})
	}
	_, err := syncer.New(f.store, nil).Sync(ctx, f.branch, "head", listing)
	require.NoError(t, err)

	idx := indexer.New(f.store, chunker.New(chunker.DefaultOptions()), f.emb, indexer.Config{}, nil)
	_, err = idx.Chunk(ctx, f.branch, mapSource(files), nil)
	require.NoError(t, err)
	require.Equal(t, state.BranchFilesProcessed, f.branch.Status)

	var reports []float64
	resp, err := f.searcher(Config{}, idx).Search(ctx, f.branch, SearchRequest{Query: "alpha"},
		func(p float64, _ string) { reports = append(reports, p) })
	require.NoError(t, err)
	assert.True(t, resp.Backfilled)
	assert.ElementsMatch(t, []string{"a.go", "b.sql"}, paths(resp.Results))
	assert.NotEmpty(t, reports)

	stored, err := f.store.GetBranchByID(ctx, f.branch.ID)
	require.NoError(t, err)
	assert.Equal(t, state.BranchEmbeddingsGenerated, stored.Status)
}

type mapSource map[string]string

func (m mapSource) ReadFile(_ context.Context, path, _ string, _ int64) ([]byte, error) {
	c, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%s: not found", path)
	}
	return []byte(c), nil
}

func TestSearch_InvalidInput(t *testing.T) {
	f := setup(t)
	s := f.searcher(Config{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{name: "empty query", req: SearchRequest{Query: "   "}},
		{name: "negative limit", req: SearchRequest{Query: "alpha", Limit: -1}},
		{name: "bad include glob", req: SearchRequest{Query: "alpha", Include: []string{"src/[abc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(ctx, f.branch, tt.req, nil)
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindInvalidInput), "got %v", err)
		})
	}

	_, err := s.Search(ctx, nil, SearchRequest{Query: "alpha"}, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
	assert.Zero(t, f.emb.callCount())
}

func TestSearch_EmbedderFailure(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", []float32{1, 0, 0})
	f.emb.err = errors.New("connection refused")

	_, err := f.searcher(Config{}, nil).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTransport))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSearch_SkipsMismatchedDimensions(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "three", []float32{1, 0, 0})
	f.addChunk(t, "b.go", "four", []float32{1, 0, 0, 0})

	resp, err := f.searcher(Config{}, nil).Search(context.Background(), f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths(resp.Results))
	assert.Equal(t, 2, resp.Scanned)
}

func TestSearch_Cache(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", []float32{1, 0, 0})
	s := f.searcher(Config{}, nil)
	ctx := context.Background()
	req := SearchRequest{Query: "alpha", UseCache: true}

	first, err := s.Search(ctx, f.branch, req, nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, f.branch, req, nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, f.emb.callCount())

	// mutating a returned response does not leak into the cache
	second.Results[0].Content = "changed"
	third, err := s.Search(ctx, f.branch, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", third.Results[0].Content)

	// new vectors change the key
	f.addChunk(t, "b.go", "second", []float32{1, 0, 0})
	fourth, err := s.Search(ctx, f.branch, req, nil)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
	assert.Len(t, fourth.Results, 2)

	s.InvalidateCache()
	fifth, err := s.Search(ctx, f.branch, req, nil)
	require.NoError(t, err)
	assert.False(t, fifth.CacheHit)

	// uncached requests always reach the embedder
	calls := f.emb.callCount()
	_, err = s.Search(ctx, f.branch, SearchRequest{Query: "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.emb.callCount())
}

func TestSearch_CacheDisabled(t *testing.T) {
	f := setup(t)
	f.addChunk(t, "a.go", "first", []float32{1, 0, 0})
	s := f.searcher(Config{CacheSize: -1}, nil)
	ctx := context.Background()

	for range 2 {
		resp, err := s.Search(ctx, f.branch, SearchRequest{Query: "alpha", UseCache: true}, nil)
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	s.InvalidateCache()
	assert.Equal(t, 2, f.emb.callCount())
}

func TestGlobToRegexp(t *testing.T) {
	tests := []struct {
		glob  string
		path  string
		match bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "a/b/c/main.go", true},
		{"internal/**", "internal/x/y.go", true},
		{"internal/**", "internalx/y.go", false},
		{"src/**/test/*.ts", "src/test/a.ts", true},
		{"src/**/test/*.ts", "src/a/b/test/a.ts", true},
		{"src/**/test/*.ts", "src/a/b/test/c/a.ts", false},
		{"./docs/*.md", "docs/guide.md", true},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file/.txt", false},
		{"[ab].go", "a.go", true},
		{"[!ab].go", "a.go", false},
		{"[!ab].go", "c.go", true},
		{"a+b(c).go", "a+b(c).go", true},
		{"données/*.csv", "données/x.csv", true},
	}
	for _, tt := range tests {
		t.Run(tt.glob+" "+tt.path, func(t *testing.T) {
			re, err := GlobToRegexp(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.match, re.MatchString(tt.path), "regexp %s", re)
		})
	}

	_, err := GlobToRegexp("[abc")
	assert.Error(t, err)
}

func TestPathFilter(t *testing.T) {
	var nilFilter *PathFilter
	assert.True(t, nilFilter.Match("anything"))
	assert.True(t, nilFilter.Empty())

	f, err := NewPathFilter([]string{" ", ""}, nil)
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.True(t, f.Match("a/b.go"))

	f, err = NewPathFilter(nil, []string{"vendor/**"})
	require.NoError(t, err)
	assert.False(t, f.Empty())
	assert.False(t, f.Match("vendor/x/y.go"))
	assert.True(t, f.Match("pkg/y.go"))
}

func TestParseSimilarity(t *testing.T) {
	for in, want := range map[string]Similarity{"": SimilarityCosine, "Cosine": SimilarityCosine, " dot ": SimilarityDot} {
		got, err := ParseSimilarity(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSimilarity("euclidean")
	assert.Error(t, err)
}

func TestNewSearcherDefaults(t *testing.T) {
	s := NewSearcher(nil, nil, nil, Config{DefaultLimit: 500}, nil)
	assert.Equal(t, MaxLimit, s.config.MaxLimit)
	assert.Equal(t, MaxLimit, s.config.DefaultLimit)
	assert.Equal(t, SimilarityCosine, s.config.Similarity)
	require.NotNil(t, s.cache)

	_, err := s.Search(context.Background(), &storage.Branch{}, SearchRequest{Query: "q"}, nil)
	assert.True(t, types.IsKind(err, types.KindInternal))
	assert.True(t, strings.Contains(err.Error(), "embedder"))
}
