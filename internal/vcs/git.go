package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/hashicorp/go-hclog"
)

// DirPermission is used for the workspace directory.
const DirPermission = 0o755

// ErrBranchNotFound is returned when a branch exists neither locally nor on
// the origin remote.
var ErrBranchNotFound = errors.New("branch not found")

// File is one blob of a branch's tree. Hash is the git blob hash, which is
// stable for identical content and serves as the content identifier.
type File struct {
	Path string
	Hash string
}

// Repository is an opened working copy.
type Repository struct {
	loc    Location
	dir    string
	repo   *git.Repository
	auth   transport.AuthMethod
	logger hclog.Logger
}

// Open prepares a working copy for loc. Local locations are opened in place.
// Remote locations are cloned under workspaceRoot on first use and fetched
// afterwards.
func Open(ctx context.Context, loc Location, workspaceRoot string, logger hclog.Logger) (*Repository, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("vcs")

	r := &Repository{loc: loc, logger: logger}
	if loc.IsLocal() {
		repo, err := git.PlainOpen(loc.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository %s: %w", loc.LocalPath, err)
		}
		r.dir, r.repo = loc.LocalPath, repo
		return r, nil
	}

	r.dir = WorkspaceDir(workspaceRoot, loc)
	r.auth = authMethod(loc.CloneURL)
	repo, err := cloneOrFetch(ctx, loc.CloneURL, r.dir, r.auth, logger)
	if err != nil {
		return nil, err
	}
	r.repo = repo
	return r, nil
}

// cloneOrFetch clones url into dir, or fetches every branch of origin when
// dir already holds a clone.
func cloneOrFetch(ctx context.Context, url, dir string, auth transport.AuthMethod, logger hclog.Logger) (*git.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dir), DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		repo, err := git.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open existing clone: %w", err)
		}
		logger.Debug("fetching", "url", url, "dir", dir)
		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			RefSpecs:   []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
			Auth:       auth,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
		}
		return repo, nil
	}

	logger.Info("cloning", "url", url, "dir", dir)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  url,
		Auth: auth,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return repo, nil
}

// authMethod picks credentials for url from the environment.
func authMethod(url string) transport.AuthMethod {
	if strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://") {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			key := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(key); err != nil {
				continue
			}
			if auth, err := ssh.NewPublicKeysFromFile("git", key, os.Getenv("GIT_SSH_PASSPHRASE")); err == nil {
				return auth
			}
		}
		return nil
	}

	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		if user, pass := os.Getenv("GIT_USERNAME"), os.Getenv("GIT_PASSWORD"); user != "" && pass != "" {
			return &http.BasicAuth{Username: user, Password: pass}
		}
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			return &http.BasicAuth{Username: "token", Password: token}
		}
	}
	return nil
}

// Dir returns the working copy directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Location returns the location the repository was opened from.
func (r *Repository) Location() Location {
	return r.loc
}

// DefaultBranchName returns the branch the remote's HEAD points at. Local
// repositories report their current branch. When neither is available,
// "main" or "master" is used if present.
func (r *Repository) DefaultBranchName(ctx context.Context) (string, error) {
	if !r.loc.IsLocal() {
		if name, err := r.remoteHead(ctx); err == nil && name != "" {
			return name, nil
		} else if err != nil {
			r.logger.Debug("remote HEAD lookup failed", "err", err)
		}
	}

	if head, err := r.repo.Head(); err == nil && head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	if ref, err := r.repo.Reference(plumbing.HEAD, false); err == nil && ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short(), nil
	}

	for _, name := range []string{"main", "master"} {
		if _, err := r.resolve(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot determine default branch of %s", r.loc.ID)
}

func (r *Repository) remoteHead(ctx context.Context) (string, error) {
	remote, err := r.repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return "", err
	}
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: r.auth})
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			return ref.Target().Short(), nil
		}
	}
	return "", nil
}

// resolve finds the commit a branch points at, preferring the fetched
// remote-tracking ref for cloned repositories.
func (r *Repository) resolve(branch string) (plumbing.Hash, error) {
	var names []plumbing.ReferenceName
	if !r.loc.IsLocal() {
		names = append(names, plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch))
	}
	names = append(names, plumbing.NewBranchReferenceName(branch))

	for _, name := range names {
		ref, err := r.repo.Reference(name, true)
		if err == nil {
			return ref.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s: %w", name, err)
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
}

// Head returns the commit hash branch currently points at.
func (r *Repository) Head(branch string) (string, error) {
	hash, err := r.resolve(branch)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// Checkout moves the working tree of a cloned repository to branch. Local
// repositories are never modified; their trees are read straight from the
// object store.
func (r *Repository) Checkout(ctx context.Context, branch string) error {
	hash, err := r.resolve(branch)
	if err != nil {
		return err
	}
	if r.loc.IsLocal() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", branch, err)
	}
	return nil
}

// ListFiles returns every regular file in the tree of branch along with the
// commit it was read from. Symlinks and submodules are skipped.
func (r *Repository) ListFiles(ctx context.Context, branch string) ([]File, string, error) {
	hash, err := r.resolve(branch)
	if err != nil {
		return nil, "", err
	}
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get commit tree: %w", err)
	}

	var files []File
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Mode == filemode.Symlink {
			return nil
		}
		files = append(files, File{Path: f.Name, Hash: f.Hash.String()})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to iterate files: %w", err)
	}
	return files, hash.String(), nil
}

// ReadFile returns up to limit bytes of the blob contentID; limit <= 0 reads
// the whole blob. path is only used in errors.
func (r *Repository) ReadFile(ctx context.Context, path, contentID string, limit int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := r.repo.BlobObject(plumbing.NewHash(contentID))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s (%s): %w", path, contentID, err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer rd.Close()
	if limit > 0 {
		return io.ReadAll(io.LimitReader(rd, limit))
	}
	return io.ReadAll(rd)
}
