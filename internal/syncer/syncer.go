// Package syncer reconciles a branch's persisted file set with the current
// file listing reported by version control.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/storage"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// Entry is one file of a VCS listing.
type Entry struct {
	Path      string
	ContentID string
}

// Change is a file that was added to or updated on the branch.
type Change struct {
	FileID    int64
	Path      string
	ContentID string
	Status    state.FileStatus
	Reused    bool // an existing File from another branch was associated
}

// NeedsChunking reports whether the file's content still has to be chunked.
// Reused files that another branch already processed do not.
func (c Change) NeedsChunking() bool {
	return c.Status == state.FilePending
}

// Result is the outcome of one synchronization.
type Result struct {
	New       []Change
	Updated   []Change
	Unchanged int
	Removed   []string // paths no longer on the branch
	Deleted   int      // files deleted because no branch referenced them
}

// Changed reports whether the branch's file set changed.
func (r *Result) Changed() bool {
	return len(r.New) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Rechunk returns the new and updated files whose content must be chunked.
func (r *Result) Rechunk() []Change {
	var out []Change
	for _, c := range r.New {
		if c.NeedsChunking() {
			out = append(out, c)
		}
	}
	for _, c := range r.Updated {
		if c.NeedsChunking() {
			out = append(out, c)
		}
	}
	return out
}

// Syncer applies VCS listings to the store.
type Syncer struct {
	store  storage.Storage
	logger hclog.Logger
}

// New creates a Syncer. A nil logger discards output.
func New(store storage.Storage, logger hclog.Logger) *Syncer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Syncer{store: store, logger: logger.Named("syncer")}
}

// Sync partitions listing against the branch's persisted files and applies
// the difference in a single transaction: new files are created or reused,
// updated files are reset to pending with their chunks removed, and removed
// files are detached and deleted once no branch references them. The
// branch's last commit is set to head, and the branch returns to pending
// when content changed.
//
// A rename is a removal of the old path and an addition of the new one.
func (s *Syncer) Sync(ctx context.Context, branch *storage.Branch, head string, listing []Entry) (*Result, error) {
	if branch == nil {
		return nil, types.NewInvalidInput("branch is required")
	}
	for _, e := range listing {
		if e.Path == "" || e.ContentID == "" {
			return nil, types.NewInvalidInput("listing entry %q has no path or content id", e.Path)
		}
	}

	var result *Result
	updated := *branch
	err := storage.WithTx(ctx, s.store, func(tx storage.Tx) error {
		r, err := s.apply(ctx, tx, branch, listing)
		if err != nil {
			return err
		}

		updated.LastCommit = head
		if len(r.New) > 0 || len(r.Updated) > 0 {
			next, err := updated.Status.Transition(state.BranchPending)
			if err != nil {
				return err
			}
			updated.Status = next
		}
		if err := tx.UpdateBranch(ctx, &updated); err != nil {
			return fmt.Errorf("update branch: %w", err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	*branch = updated
	s.logger.Debug("branch synchronized",
		"branch", branch.Name, "new", len(result.New), "updated", len(result.Updated),
		"unchanged", result.Unchanged, "removed", len(result.Removed), "deleted", result.Deleted)
	return result, nil
}

func (s *Syncer) apply(ctx context.Context, tx storage.Tx, branch *storage.Branch, listing []Entry) (*Result, error) {
	previous, err := tx.ListBranchFiles(ctx, branch.ID)
	if err != nil {
		return nil, fmt.Errorf("list branch files: %w", err)
	}

	byPath := make(map[string]*storage.File, len(previous))
	var stale []*storage.File
	for _, f := range previous {
		if _, dup := byPath[f.Path]; dup {
			stale = append(stale, f)
			continue
		}
		byPath[f.Path] = f
	}

	result := &Result{}
	seen := make(map[string]bool, len(listing))
	for _, entry := range listing {
		if seen[entry.Path] {
			s.logger.Warn("duplicate path in listing", "path", entry.Path)
			continue
		}
		seen[entry.Path] = true

		old, ok := byPath[entry.Path]
		delete(byPath, entry.Path)

		switch {
		case !ok:
			change, err := s.add(ctx, tx, branch, entry)
			if err != nil {
				return nil, err
			}
			result.New = append(result.New, change)
		case old.ContentID == entry.ContentID:
			result.Unchanged++
		default:
			change, deleted, err := s.update(ctx, tx, branch, old, entry)
			if err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, change)
			if deleted {
				result.Deleted++
			}
		}
	}

	for _, f := range byPath {
		stale = append(stale, f)
	}
	for _, f := range stale {
		deleted, err := detach(ctx, tx, branch.ID, f.ID)
		if err != nil {
			return nil, err
		}
		result.Removed = append(result.Removed, f.Path)
		if deleted {
			result.Deleted++
		}
	}
	sort.Strings(result.Removed)
	return result, nil
}

// add associates entry with the branch, reusing an existing File with the
// same path and content identifier when there is one.
func (s *Syncer) add(ctx context.Context, tx storage.Tx, branch *storage.Branch, entry Entry) (Change, error) {
	f, reused, err := findOrCreate(ctx, tx, branch.RepositoryID, entry)
	if err != nil {
		return Change{}, err
	}
	if err := tx.LinkFile(ctx, branch.ID, f.ID); err != nil {
		return Change{}, fmt.Errorf("link %s: %w", entry.Path, err)
	}
	return Change{FileID: f.ID, Path: f.Path, ContentID: f.ContentID, Status: f.Status, Reused: reused}, nil
}

// update moves a path to new content. A File shared with other branches is
// left untouched and the branch is re-associated; an exclusive File is
// rewritten in place with its chunks removed.
func (s *Syncer) update(ctx context.Context, tx storage.Tx, branch *storage.Branch, old *storage.File, entry Entry) (Change, bool, error) {
	links, err := tx.CountFileLinks(ctx, old.ID)
	if err != nil {
		return Change{}, false, fmt.Errorf("count links for %s: %w", old.Path, err)
	}

	existing, err := tx.FindFile(ctx, branch.RepositoryID, entry.Path, entry.ContentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Change{}, false, fmt.Errorf("find %s: %w", entry.Path, err)
	}

	if links > 1 || existing != nil {
		deleted, err := detach(ctx, tx, branch.ID, old.ID)
		if err != nil {
			return Change{}, false, err
		}
		change, err := s.add(ctx, tx, branch, entry)
		return change, deleted, err
	}

	if _, err := tx.DeleteChunksByFile(ctx, old.ID); err != nil {
		return Change{}, false, fmt.Errorf("delete chunks for %s: %w", old.Path, err)
	}
	next, err := old.Status.Transition(state.FilePending)
	if err != nil {
		return Change{}, false, err
	}
	old.ContentID = entry.ContentID
	old.Status = next
	if err := tx.UpdateFile(ctx, old); err != nil {
		return Change{}, false, fmt.Errorf("update %s: %w", old.Path, err)
	}
	return Change{FileID: old.ID, Path: old.Path, ContentID: old.ContentID, Status: old.Status}, false, nil
}

func findOrCreate(ctx context.Context, tx storage.Tx, repositoryID int64, entry Entry) (*storage.File, bool, error) {
	f, err := tx.FindFile(ctx, repositoryID, entry.Path, entry.ContentID)
	if err == nil {
		return f, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("find %s: %w", entry.Path, err)
	}

	f = &storage.File{
		RepositoryID: repositoryID,
		Path:         entry.Path,
		ContentID:    entry.ContentID,
		Status:       state.FilePending,
	}
	if err := tx.CreateFile(ctx, f); err != nil {
		return nil, false, fmt.Errorf("create %s: %w", entry.Path, err)
	}
	return f, false, nil
}

// detach removes the branch association and deletes the File with its
// chunks when no branch references it anymore.
func detach(ctx context.Context, tx storage.Tx, branchID, fileID int64) (bool, error) {
	if err := tx.UnlinkFile(ctx, branchID, fileID); err != nil {
		return false, fmt.Errorf("unlink file %d: %w", fileID, err)
	}
	links, err := tx.CountFileLinks(ctx, fileID)
	if err != nil {
		return false, fmt.Errorf("count links for file %d: %w", fileID, err)
	}
	if links > 0 {
		return false, nil
	}
	if err := tx.DeleteFile(ctx, fileID); err != nil {
		return false, fmt.Errorf("delete file %d: %w", fileID, err)
	}
	return true, nil
}
