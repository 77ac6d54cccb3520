package localvec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/lock"
	"github.com/hupe1980/localvec/metadata"
	"github.com/hupe1980/localvec/storage"
)

var (
	// ErrInvalidID is returned when a document id is empty.
	ErrInvalidID = errors.New("id must not be empty")

	// ErrInvalidVector is returned for vectors containing NaN or Inf.
	ErrInvalidVector = errors.New("vector must contain finite values")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidFilter is returned when a metadata filter cannot be parsed.
	ErrInvalidFilter = metadata.ErrInvalidFilter

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized is returned when a handle is used before it is ready.
	ErrNotInitialized = errors.New("not initialized")

	// ErrClosed is returned when the database or collection is closed.
	ErrClosed = errors.New("closed")

	// ErrLockTimeout is returned when the collection write lock could not be
	// acquired before the context ended. It is never retried internally.
	ErrLockTimeout = errors.New("lock timeout")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension, for
// example when a new collection is opened without one.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Already part of the public contract.
	var pdm *ErrDimensionMismatch
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrClosed) || errors.As(err, &pdm) {
		return err
	}

	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	if errors.Is(err, lock.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	if errors.Is(err, hnsw.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	if errors.Is(err, hnsw.ErrInvalidID) {
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	}

	return err
}
