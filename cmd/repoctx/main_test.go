package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/state"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel = "", ""
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("REPOCTX_DATA_DIR", t.TempDir())
	t.Setenv("REPOCTX_EMBEDDING_PROVIDER", "local")
	t.Setenv("REPOCTX_EMBEDDING_DIMENSION", "64")
	t.Setenv("REPOCTX_LOGGING_LEVEL", "error")
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.go"),
		[]byte("package cache\n\n// Evict removes the least recently used entry.\nfunc Evict() {}\n"), 0o644))
	_, err = wt.Add("cache.go")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "repoctx dev")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestArgumentValidation(t *testing.T) {
	_, err := execute(t, "search", "only-repo")
	assert.Error(t, err)
	_, err = execute(t, "index")
	assert.Error(t, err)
	_, err = execute(t, "serve", "extra")
	assert.Error(t, err)
}

func TestIndexSearchStatus(t *testing.T) {
	isolate(t)
	dir := initRepo(t)

	out, err := execute(t, "index", dir, "--quiet", "--json")
	require.NoError(t, err)
	var idx pipeline.IndexResponse
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Equal(t, "main", idx.Branch)
	assert.Equal(t, 1, idx.FilesNew)
	assert.Equal(t, string(state.BranchEmbeddingsGenerated), idx.Status)

	out, err = execute(t, "search", dir, "least recently used", "-q", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "cache.go")
	assert.Contains(t, out, "Evict removes")

	out, err = execute(t, "status", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "embeddings_generated")
	assert.Contains(t, out, "ingested=1")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "file://")
}

func TestSearchCommand_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("REPOCTX_SEARCH_SIMILARITY", "manhattan")
	_, err := execute(t, "search", initRepo(t), "anything", "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manhattan")
}

func TestPreview(t *testing.T) {
	content := "File: a/b.go\n\n\n   package b // first line\nfunc X() {}\n"
	assert.Equal(t, "package b // first line", preview(content, "a/b.go"))
	assert.Equal(t, "", preview("File: x\n\n", "x"))

	long := string(bytes.Repeat([]byte("é"), 100))
	got := preview(long, "x")
	assert.Len(t, []rune(got), previewWidth)
	assert.True(t, len(got) > previewWidth)
}

func TestFileCounts(t *testing.T) {
	counts := map[state.FileStatus]int{state.FileDone: 3, state.FilePending: 1, state.FileFetched: 0}
	assert.Equal(t, "done=3 pending=1", fileCounts(counts))
	assert.Equal(t, "", fileCounts(nil))
}

func TestProgressPrinter(t *testing.T) {
	assert.Nil(t, progressPrinter(&bytes.Buffer{}, true))

	var buf bytes.Buffer
	report := progressPrinter(&buf, false)
	report(0.1, "sync")
	report(0.1, "sync")
	report(1, "done")
	assert.Equal(t, "[ 10%] sync\n[100%] done\n", buf.String())
}
