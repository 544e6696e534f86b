package pipeline

import (
	"context"
	"time"

	"github.com/dshills/repoctx-mcp/internal/state"
	"github.com/dshills/repoctx-mcp/internal/vcs"
)

// BranchStatus describes the index of one branch.
type BranchStatus struct {
	Name           string                   `json:"name"`
	Status         string                   `json:"status"`
	LastCommit     string                   `json:"last_commit,omitempty"`
	Files          map[state.FileStatus]int `json:"files"`
	ChunksTotal    int                      `json:"chunks_total"`
	ChunksEmbedded int                      `json:"chunks_embedded"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// StatusResponse describes what is indexed for a repository.
type StatusResponse struct {
	Repository string         `json:"repository"`
	Name       string         `json:"name"`
	LocalPath  string         `json:"local_path,omitempty"`
	Indexing   bool           `json:"indexing"` // an invocation currently holds the repository
	Branches   []BranchStatus `json:"branches"`
}

// Status reports the stored state of a repository without contacting the
// VCS. An unknown repository is a consistency error.
func (p *Pipeline) Status(ctx context.Context, repository string) (*StatusResponse, error) {
	loc, err := vcs.NormalizeLocation(repository)
	if err != nil {
		return nil, err
	}
	repo, err := p.store.GetRepository(ctx, loc.ID)
	if err != nil {
		return nil, storeError("get repository", err)
	}

	resp := &StatusResponse{
		Repository: repo.Location,
		Name:       repo.Name,
		LocalPath:  repo.LocalPath,
		Indexing:   p.locks.Held(loc.ID),
		Branches:   []BranchStatus{},
	}

	branches, err := p.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return nil, storeError("list branches", err)
	}
	for _, b := range branches {
		files, err := p.store.CountFileStatuses(ctx, b.ID)
		if err != nil {
			return nil, storeError("count files", err)
		}
		chunks, err := p.store.CountBranchChunks(ctx, b.ID)
		if err != nil {
			return nil, storeError("count chunks", err)
		}
		resp.Branches = append(resp.Branches, BranchStatus{
			Name:           b.Name,
			Status:         string(b.Status),
			LastCommit:     b.LastCommit,
			Files:          files,
			ChunksTotal:    chunks.Total,
			ChunksEmbedded: chunks.Embedded,
			UpdatedAt:      b.UpdatedAt,
		})
	}
	return resp, nil
}

// Repositories lists the normalized identities of every indexed repository.
func (p *Pipeline) Repositories(ctx context.Context) ([]string, error) {
	repos, err := p.store.ListRepositories(ctx)
	if err != nil {
		return nil, storeError("list repositories", err)
	}
	out := make([]string, len(repos))
	for i, r := range repos {
		out[i] = r.Location
	}
	return out, nil
}
