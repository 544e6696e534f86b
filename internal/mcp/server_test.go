package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoctx-mcp/internal/config"
	"github.com/dshills/repoctx-mcp/internal/embedder"
	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

type notification struct {
	token    mcp.ProgressToken
	fraction float64
	message  string
}

type recorder struct {
	mu    sync.Mutex
	notes []notification
}

func (r *recorder) notify(_ context.Context, token mcp.ProgressToken, fraction float64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification{token: token, fraction: fraction, message: message})
	return nil
}

func (r *recorder) fractions() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.fraction
	}
	return out
}

func newTestServer(t *testing.T, heartbeat time.Duration) (*Server, *recorder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := pipeline.New(store, embedder.NewLocalProvider(64), pipeline.Options{WorkspaceDir: t.TempDir()}, nil)
	s := NewServer(p, config.MCPConfig{HeartbeatInterval: heartbeat}, "test", nil)
	rec := &recorder{}
	s.notify = rec.notify
	return s, rec
}

func newRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	files := map[string]string{
		"internal/auth/login.go":      "package auth\n\n// Login authenticates a user with a password.\nfunc Login(user, password string) error {\n\treturn check(user, password)\n}\n",
		"internal/auth/login_test.go": "package auth\n\nfunc TestLogin(t *testing.T) {}\n",
		"docs/guide.md":               "# Guide\n\nHow to deploy the service.\n",
	}
	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func callRequest(name string, args map[string]any, token mcp.ProgressToken) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	if token != nil {
		req.Params.Meta = &mcp.Meta{ProgressToken: token}
	}
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func decodeError(t *testing.T, result *mcp.CallToolResult) ErrorBody {
	t.Helper()
	assert.True(t, result.IsError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	return payload.Error
}

func TestSearchRepository(t *testing.T) {
	s, rec := newTestServer(t, 0)
	dir := newRepo(t)

	result, err := s.handleSearchRepository(context.Background(), callRequest(ToolSearchRepository, map[string]any{
		"repository": dir,
		"query":      "authenticate a user password",
		"exclude":    []any{"**/*_test.go"},
		"limit":      float64(3),
	}, "tok-1"))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var resp pipeline.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, "main", resp.Branch)
	assert.Equal(t, []string{"**/*_test.go"}, resp.Exclude)
	assert.Equal(t, 3, resp.Limit)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "internal/auth/login.go", resp.Results[0].Path)
	for _, r := range resp.Results {
		assert.NotEqual(t, "internal/auth/login_test.go", r.Path)
	}

	fractions := rec.fractions()
	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
	assert.Equal(t, mcp.ProgressToken("tok-1"), rec.notes[0].token)
}

func TestIndexAndStatus(t *testing.T) {
	s, rec := newTestServer(t, 0)
	dir := newRepo(t)
	ctx := context.Background()

	result, err := s.handleIndexRepository(ctx, callRequest(ToolIndexRepository, map[string]any{"repository": dir}, nil))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Empty(t, rec.fractions(), "no token, no notifications")

	var idx pipeline.IndexResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &idx))
	assert.Equal(t, 3, idx.FilesNew)
	assert.Equal(t, 3, idx.FilesChunked)
	assert.Len(t, idx.RunID, 26)

	result, err = s.handleRepositoryStatus(ctx, callRequest(ToolRepositoryStatus, map[string]any{"repository": dir}, nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status pipeline.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	require.Len(t, status.Branches, 1)
	assert.Equal(t, "embeddings_generated", status.Branches[0].Status)
	assert.Equal(t, status.Branches[0].ChunksTotal, status.Branches[0].ChunksEmbedded)
}

func TestErrorPayloads(t *testing.T) {
	s, _ := newTestServer(t, 0)
	dir := newRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		code    types.ErrorKind
	}{
		{"missing repository", s.handleSearchRepository, map[string]any{"query": "q"}, types.KindInvalidInput},
		{"missing query", s.handleSearchRepository, map[string]any{"repository": dir}, types.KindInvalidInput},
		{"keywords not strings", s.handleSearchRepository, map[string]any{"repository": dir, "query": "q", "keywords": []any{1}}, types.KindInvalidInput},
		{"fractional limit", s.handleSearchRepository, map[string]any{"repository": dir, "query": "q", "limit": 2.5}, types.KindInvalidInput},
		{"negative limit", s.handleSearchRepository, map[string]any{"repository": dir, "query": "q", "limit": float64(-1)}, types.KindInvalidInput},
		{"branch not a string", s.handleIndexRepository, map[string]any{"repository": dir, "branch": true}, types.KindInvalidInput},
		{"unknown branch", s.handleIndexRepository, map[string]any{"repository": dir, "branch": "nope"}, types.KindInvalidInput},
		{"unindexed status", s.handleRepositoryStatus, map[string]any{"repository": dir}, types.KindConsistency},
		{"unreachable repository", s.handleIndexRepository, map[string]any{"repository": filepath.Join(dir, "missing")}, types.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, callRequest("tool", tt.args, nil))
			require.NoError(t, err, "handlers never fail across the protocol boundary")
			body := decodeError(t, result)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestErrorResult_MasksInternal(t *testing.T) {
	s, _ := newTestServer(t, 0)

	body := decodeError(t, s.errorResult("tool", errors.New("nil pointer in /home/dev/secret")))
	assert.Equal(t, types.KindInternal, body.Code)
	assert.Equal(t, internalMessage, body.Message)

	body = decodeError(t, s.errorResult("tool", types.NewTransport("embed", errors.New("connection refused"))))
	assert.Equal(t, types.KindTransport, body.Code)
	assert.Contains(t, body.Message, "connection refused")
}

func TestInvoke_Heartbeat(t *testing.T) {
	s, rec := newTestServer(t, 10*time.Millisecond)
	release := make(chan struct{})

	go func() {
		time.Sleep(80 * time.Millisecond)
		close(release)
	}()

	result := s.invoke(context.Background(), callRequest("tool", nil, "hb"), "tool",
		func(ctx context.Context, report progress.Func) (any, error) {
			report(0.3, "embedding")
			<-release
			report(1, "done")
			return map[string]string{"ok": "yes"}, nil
		})
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"ok":"yes"}`, resultText(t, result))

	fractions := rec.fractions()
	repeats := 0
	for _, f := range fractions {
		if f == 0.3 {
			repeats++
		}
	}
	assert.Greater(t, repeats, 1, "the last value is repeated while the operation is silent")
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])

	count := len(fractions)
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, rec.fractions(), count, "heartbeat stops with the operation")
}

func TestInvoke_Error(t *testing.T) {
	s, _ := newTestServer(t, time.Millisecond)
	result := s.invoke(context.Background(), callRequest("tool", nil, "tok"), "tool",
		func(ctx context.Context, report progress.Func) (any, error) {
			return nil, types.NewConsistency("load", "branch %s vanished", "main")
		})
	body := decodeError(t, result)
	assert.Equal(t, types.KindConsistency, body.Code)
	assert.Contains(t, body.Message, "vanished")
}

func TestOptionalArguments(t *testing.T) {
	args := map[string]any{"one": "a", "many": []any{"a", "b"}, "typed": []string{"c"}, "n": float64(7), "i": 4}

	vals, err := optionalStrings(args, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, vals)
	vals, err = optionalStrings(args, "many")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, vals)
	vals, err = optionalStrings(args, "typed")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, vals)
	vals, err = optionalStrings(args, "absent")
	require.NoError(t, err)
	assert.Nil(t, vals)
	_, err = optionalStrings(args, "n")
	assert.Error(t, err)

	n, err := optionalInt(args, "n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = optionalInt(args, "i")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = optionalInt(args, "one")
	assert.Error(t, err)
}

func TestNewServer_RegistersTools(t *testing.T) {
	s, _ := newTestServer(t, 0)
	tools := s.mcp.ListTools()
	for _, name := range []string{ToolSearchRepository, ToolIndexRepository, ToolRepositoryStatus} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 3)
}
