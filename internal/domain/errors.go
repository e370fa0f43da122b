package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput indicates a request that fails validation
	ErrInvalidInput = errors.New("invalid input")
	// ErrAIServiceUnavailable indicates the embedding or completion provider
	// failed after bounded retries
	ErrAIServiceUnavailable = errors.New("ai service unavailable")
	// ErrRetrievalFailed wraps unexpected failures during retrieval
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrStoreWriteFailed indicates chunk ingestion or draft persistence failed
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrVersionConflict indicates a stale draft version on save
	ErrVersionConflict = errors.New("draft version conflict")
)

// RetrievalError classifies a retrieval failure and carries the triggering
// query for diagnostics. errors.Is matches both the sentinel and the cause.
type RetrievalError struct {
	Sentinel error
	Query    string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%v (query=%q): %v", e.Sentinel, e.Query, e.Err)
}

// Unwrap exposes the sentinel and the underlying cause.
func (e *RetrievalError) Unwrap() []error {
	return []error{e.Sentinel, e.Err}
}

// BatchError reports the input index range [From, To) of a failed
// embedding batch.
type BatchError struct {
	From int
	To   int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch [%d,%d) failed: %v", e.From, e.To, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
