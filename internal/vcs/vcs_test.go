package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoctx-mcp/pkg/types"
)

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		in       string
		id       string
		cloneURL string
		name     string
	}{
		{"https://github.com/Acme/Widgets.git", "github.com/Acme/Widgets", "https://github.com/Acme/Widgets.git", "Widgets"},
		{"https://GitHub.com/acme/widgets/", "github.com/acme/widgets", "https://GitHub.com/acme/widgets/", "widgets"},
		{"  https://user:pw@gitlab.example.org/group/sub/proj  ", "gitlab.example.org/group/sub/proj", "https://user:pw@gitlab.example.org/group/sub/proj", "proj"},
		{"ssh://git@github.com:22/acme/widgets.git", "github.com/acme/widgets", "ssh://git@github.com:22/acme/widgets.git", "widgets"},
		{"git@github.com:acme/widgets.git", "github.com/acme/widgets", "git@github.com:acme/widgets.git", "widgets"},
		{"github.com/acme/widgets", "github.com/acme/widgets", "https://github.com/acme/widgets.git", "widgets"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			loc, err := NormalizeLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.id, loc.ID)
			assert.Equal(t, tt.cloneURL, loc.CloneURL)
			assert.Equal(t, tt.name, loc.Name)
			assert.False(t, loc.IsLocal())
		})
	}
}

func TestNormalizeLocation_Local(t *testing.T) {
	dir := t.TempDir()

	for _, in := range []string{dir, "file://" + dir, dir + "/"} {
		loc, err := NormalizeLocation(in)
		require.NoError(t, err, in)
		assert.True(t, loc.IsLocal())
		assert.Equal(t, filepath.Clean(dir), loc.LocalPath)
		assert.Equal(t, "file://"+filepath.ToSlash(filepath.Clean(dir)), loc.ID)
		assert.Empty(t, loc.CloneURL)
	}

	loc, err := NormalizeLocation("./relative/repo")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(loc.LocalPath))
	assert.Equal(t, "repo", loc.Name)
}

func TestNormalizeLocation_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com/x", "https:///nohost", "https://github.com", "https://github.com/", "not a location"} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeLocation(in)
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindInvalidInput), "got %v", err)
		})
	}
}

func TestWorkspaceDir(t *testing.T) {
	root := "/var/repoctx/repos"
	loc := Location{ID: "github.com/acme/widgets"}
	assert.Equal(t, filepath.Join(root, "github.com_acme_widgets"), WorkspaceDir(root, loc))

	dir := WorkspaceDir(root, Location{ID: "../../etc"})
	assert.Equal(t, root, filepath.Dir(dir))
	assert.Equal(t, filepath.Join(root, "repo"), WorkspaceDir(root, Location{ID: "///"}))
}

// testRepo is a repository on disk with helpers to commit files.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: repo}
}

func (r *testRepo) commit(files map[string]string, remove ...string) plumbing.Hash {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	for name, content := range files {
		full := filepath.Join(r.dir, name)
		require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(r.t, err)
	}
	for _, name := range remove {
		_, err = wt.Remove(name)
		require.NoError(r.t, err)
	}
	hash, err := wt.Commit("update", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)
	return hash
}

func TestLocalRepository(t *testing.T) {
	src := newTestRepo(t)
	first := src.commit(map[string]string{
		"main.go":        "package main\n",
		"db/schema.sql":  "CREATE TABLE t(x int);\n",
		"docs/copy.go":   "package main\n",
		"docs/README.md": "# docs\n",
	})
	ctx := context.Background()

	loc, err := NormalizeLocation(src.dir)
	require.NoError(t, err)
	repo, err := Open(ctx, loc, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, src.dir, repo.Dir())

	name, err := repo.DefaultBranchName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", name)

	files, head, err := repo.ListFiles(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, first.String(), head)
	require.Len(t, files, 4)

	byPath := map[string]string{}
	for _, f := range files {
		byPath[f.Path] = f.Hash
	}
	assert.Contains(t, byPath, "db/schema.sql")
	assert.Equal(t, byPath["main.go"], byPath["docs/copy.go"], "identical content shares a blob hash")
	assert.NotEqual(t, byPath["main.go"], byPath["docs/README.md"])

	content, err := repo.ReadFile(ctx, "db/schema.sql", byPath["db/schema.sql"], 0)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t(x int);\n", string(content))

	content, err = repo.ReadFile(ctx, "db/schema.sql", byPath["db/schema.sql"], 6)
	require.NoError(t, err)
	assert.Equal(t, "CREATE", string(content))

	_, err = repo.ReadFile(ctx, "missing.go", plumbing.ZeroHash.String(), 0)
	assert.Error(t, err)

	_, _, err = repo.ListFiles(ctx, "nope")
	assert.ErrorIs(t, err, ErrBranchNotFound)

	// Checkout never touches a local working copy.
	require.NoError(t, repo.Checkout(ctx, "main"))
	assert.ErrorIs(t, repo.Checkout(ctx, "nope"), ErrBranchNotFound)
}

func TestLocalRepository_Branches(t *testing.T) {
	src := newTestRepo(t)
	first := src.commit(map[string]string{"a.go": "package a\n", "b.go": "package b\n"})
	require.NoError(t, src.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("release"), first)))
	second := src.commit(map[string]string{"a.go": "package a // v2\n", "c.go": "package c\n"}, "b.go")
	ctx := context.Background()

	loc, err := NormalizeLocation(src.dir)
	require.NoError(t, err)
	repo, err := Open(ctx, loc, "", nil)
	require.NoError(t, err)

	mainFiles, mainHead, err := repo.ListFiles(ctx, "main")
	require.NoError(t, err)
	releaseFiles, releaseHead, err := repo.ListFiles(ctx, "release")
	require.NoError(t, err)

	assert.Equal(t, second.String(), mainHead)
	assert.Equal(t, first.String(), releaseHead)
	assert.ElementsMatch(t, []string{"a.go", "c.go"}, filePaths(mainFiles))
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, filePaths(releaseFiles))

	head, err := repo.Head("release")
	require.NoError(t, err)
	assert.Equal(t, first.String(), head)
}

func filePaths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestRemoteRepository_CloneThenFetch(t *testing.T) {
	src := newTestRepo(t)
	first := src.commit(map[string]string{"a.go": "package a\n"})
	ctx := context.Background()
	workspace := t.TempDir()

	loc := Location{ID: "example.com/acme/src", CloneURL: src.dir, Name: "src"}
	repo, err := Open(ctx, loc, workspace, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkspaceDir(workspace, loc), repo.Dir())

	head, err := repo.Head("main")
	require.NoError(t, err)
	assert.Equal(t, first.String(), head)

	name, err := repo.DefaultBranchName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", name)

	second := src.commit(map[string]string{"b.go": "package b\n"})

	repo, err = Open(ctx, loc, workspace, nil)
	require.NoError(t, err)
	files, head, err := repo.ListFiles(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, second.String(), head)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, filePaths(files))

	require.NoError(t, repo.Checkout(ctx, "main"))
	content, err := os.ReadFile(filepath.Join(repo.Dir(), "b.go"))
	require.NoError(t, err)
	assert.Equal(t, "package b\n", string(content))
}

func TestRemoteRepository_CloneFailure(t *testing.T) {
	workspace := t.TempDir()
	loc := Location{ID: "example.com/acme/missing", CloneURL: filepath.Join(t.TempDir(), "missing"), Name: "missing"}

	_, err := Open(context.Background(), loc, workspace, nil)
	require.Error(t, err)
	_, statErr := os.Stat(WorkspaceDir(workspace, loc))
	assert.True(t, os.IsNotExist(statErr), "a failed clone leaves no directory behind")
}

func TestAuthMethod(t *testing.T) {
	t.Setenv("GIT_USERNAME", "")
	t.Setenv("GIT_PASSWORD", "")
	t.Setenv("GITHUB_TOKEN", "")
	assert.Nil(t, authMethod("https://github.com/acme/widgets.git"))

	t.Setenv("GITHUB_TOKEN", "secret")
	assert.NotNil(t, authMethod("https://github.com/acme/widgets.git"))
	assert.Nil(t, authMethod("/some/local/path"))

	t.Setenv("HOME", t.TempDir())
	assert.Nil(t, authMethod("git@github.com:acme/widgets.git"))
}
