package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/repoctx-mcp/internal/state"
)

// Storage defines the typed persistence operations used by the indexing pipeline.
type Storage interface {
	// Repository operations
	UpsertRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, location string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)

	// Branch operations
	GetOrCreateBranch(ctx context.Context, repositoryID int64, name string) (*Branch, error)
	GetBranch(ctx context.Context, repositoryID int64, name string) (*Branch, error)
	GetBranchByID(ctx context.Context, branchID int64) (*Branch, error)
	ListBranches(ctx context.Context, repositoryID int64) ([]*Branch, error)
	UpdateBranch(ctx context.Context, branch *Branch) error

	// File operations
	CreateFile(ctx context.Context, file *File) error
	FindFile(ctx context.Context, repositoryID int64, path, contentID string) (*File, error)
	GetFileByID(ctx context.Context, fileID int64) (*File, error)
	UpdateFile(ctx context.Context, file *File) error
	DeleteFile(ctx context.Context, fileID int64) error
	ListBranchFiles(ctx context.Context, branchID int64) ([]*File, error)
	ListBranchFilesByStatus(ctx context.Context, branchID int64, status state.FileStatus) ([]*File, error)
	CountFileStatuses(ctx context.Context, branchID int64) (map[state.FileStatus]int, error)

	// Branch-file association operations
	LinkFile(ctx context.Context, branchID, fileID int64) error
	UnlinkFile(ctx context.Context, branchID, fileID int64) error
	CountFileLinks(ctx context.Context, fileID int64) (int, error)

	// Chunk operations
	InsertChunks(ctx context.Context, fileID int64, chunks []*Chunk) error
	DeleteChunksByFile(ctx context.Context, fileID int64) (int64, error)
	GetChunks(ctx context.Context, chunkIDs []int64) ([]*Chunk, error)
	ListUnembeddedChunkIDs(ctx context.Context, branchID int64) ([]int64, error)
	ListChunkIDsByModel(ctx context.Context, branchID int64, model string) ([]int64, error)
	CountUnembeddedChunks(ctx context.Context, fileID int64) (int, error)
	SetChunkEmbedding(ctx context.Context, chunkID int64, vector []float32, model string) error
	CountBranchChunks(ctx context.Context, branchID int64) (ChunkCounts, error)

	// ScanBranchVectors calls fn for every embedded chunk reachable from the
	// branch. fn must not call back into the store.
	ScanBranchVectors(ctx context.Context, branchID int64, fn func(ChunkVector) error) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func WithTx(ctx context.Context, s Storage, fn func(tx Tx) error) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Repository is a version-controlled source tree identified by its
// normalized location.
type Repository struct {
	ID        int64
	Location  string
	Name      string
	LocalPath string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Branch is a named ref of a repository.
type Branch struct {
	ID           int64
	RepositoryID int64
	Name         string
	LastCommit   string
	Status       state.BranchStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// File is a content-addressed file record shared by every branch whose tree
// contains the same path at the same content identifier.
type File struct {
	ID           int64
	RepositoryID int64
	Path         string
	ContentID    string
	Status       state.FileStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is a bounded slice of a file's text. Vector and Model are empty until
// the chunk has been embedded.
type Chunk struct {
	ID         int64
	FileID     int64
	Ordinal    int
	Content    string
	Vector     []float32
	Model      string
	TokenCount int
	CreatedAt  time.Time
}

// Embedded reports whether the chunk carries a vector.
func (c *Chunk) Embedded() bool {
	return len(c.Vector) > 0
}

// ChunkVector is the projection of an embedded chunk used for scoring.
type ChunkVector struct {
	ChunkID int64
	FileID  int64
	Path    string
	Ordinal int
	Vector  []float32
}

// ChunkCounts summarizes the chunks reachable from a branch.
type ChunkCounts struct {
	Total    int
	Embedded int
}

// Unembedded returns the number of chunks still lacking a vector.
func (c ChunkCounts) Unembedded() int {
	return c.Total - c.Embedded
}
