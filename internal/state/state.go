// Package state defines the lifecycle state machines for branches and files.
//
// Every status change in the pipeline goes through Transition so that the
// allowed edges live in one place rather than in storage queries.
package state

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not an edge of
// the lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// BranchStatus is the lifecycle status of an indexed branch.
type BranchStatus string

const (
	// BranchPending means the branch has files that still need chunking.
	BranchPending BranchStatus = "pending"
	// BranchFilesProcessed means every associated file has been chunked.
	BranchFilesProcessed BranchStatus = "files_processed"
	// BranchEmbeddingsGenerated means every associated file is ingested or done.
	BranchEmbeddingsGenerated BranchStatus = "embeddings_generated"
)

// FileStatus is the lifecycle status of a content-addressed file.
type FileStatus string

const (
	// FilePending means the file's content has not been chunked yet.
	FilePending FileStatus = "pending"
	// FileFetched means the file's chunks are persisted but not all embedded.
	FileFetched FileStatus = "fetched"
	// FileIngested means every chunk of the file carries a vector.
	FileIngested FileStatus = "ingested"
	// FileDone is the terminal status of files that are never chunked.
	FileDone FileStatus = "done"
)

// Any state may fall back to pending: a sync that observes new content
// restarts the lifecycle.
var branchEdges = map[BranchStatus][]BranchStatus{
	BranchPending:             {BranchFilesProcessed},
	BranchFilesProcessed:      {BranchEmbeddingsGenerated, BranchPending},
	BranchEmbeddingsGenerated: {BranchPending},
}

var fileEdges = map[FileStatus][]FileStatus{
	FilePending:  {FileFetched, FileDone},
	FileFetched:  {FileIngested, FilePending},
	FileIngested: {FileDone, FilePending},
	FileDone:     {FilePending},
}

// ParseBranchStatus converts a persisted value into a BranchStatus.
func ParseBranchStatus(s string) (BranchStatus, error) {
	st := BranchStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown branch status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known branch status.
func (s BranchStatus) Valid() bool {
	_, ok := branchEdges[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s BranchStatus) CanTransition(next BranchStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range branchEdges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next if the move is allowed.
func (s BranchStatus) Transition(next BranchStatus) (BranchStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: branch %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// ParseFileStatus converts a persisted value into a FileStatus.
func ParseFileStatus(s string) (FileStatus, error) {
	st := FileStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown file status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known file status.
func (s FileStatus) Valid() bool {
	_, ok := fileEdges[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s FileStatus) CanTransition(next FileStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range fileEdges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next if the move is allowed.
func (s FileStatus) Transition(next FileStatus) (FileStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: file %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Complete reports whether the file satisfies the branch completion check.
func (s FileStatus) Complete() bool {
	return s == FileIngested || s == FileDone
}
