package types

import (
	"errors"
	"fmt"
)

// Domain errors for type validation
var (
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrInvalidRank    = errors.New("rank must be >= 1")
	ErrInvalidOrdinal = errors.New("ordinal must be >= 1")
	ErrMissingPath    = errors.New("file path is required")
	ErrEmptyContent   = errors.New("content cannot be empty")
)

// ErrorKind classifies failures reported across the pipeline boundary.
type ErrorKind string

const (
	// KindInvalidInput covers missing parameters and unparseable locations.
	// Reported before any work is performed.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindTransport covers VCS, embedder and store connection failures.
	KindTransport ErrorKind = "transport"
	// KindConsistency covers records that were expected but not found.
	KindConsistency ErrorKind = "consistency"
	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal"
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewInvalidInput creates an input validation error.
func NewInvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewTransport wraps a collaborator failure.
func NewTransport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// NewConsistency creates an error for state that should exist but does not.
func NewConsistency(op, format string, args ...any) *Error {
	return &Error{Kind: KindConsistency, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewInternal wraps an unexpected failure.
func NewInternal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
