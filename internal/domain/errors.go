package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSchema             = errors.New("schema error")
	ErrNoInput            = errors.New("no input files")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrStoreUnavailable   = errors.New("vector store unavailable")
	ErrEmbeddingMismatch  = errors.New("embedding function mismatch")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrWriterBusy         = errors.New("collection has an active writer")
	ErrUnknownDistance    = errors.New("unknown distance metric")
	ErrInvalidTopK        = errors.New("top_k must be positive")
	ErrEmptyQuery         = errors.New("empty query")
)

// RowError reports a CSV row that failed type coercion or title parsing.
type RowError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: column %q: %v", e.File, e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() []error { return []error{ErrSchema, e.Err} }

// BatchError reports an indexing batch that could not be written. Batches
// before Start are already committed.
type BatchError struct {
	Collection string
	Start, End int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("collection %q: batch [%d,%d): %v", e.Collection, e.Start, e.End, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
