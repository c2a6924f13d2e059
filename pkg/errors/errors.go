package errors

import (
	"errors"
	"fmt"
)

// Error kinds returned by the memory core. All of them are local to a single
// operation; none is fatal to the host process.
var (
	// ErrDimensionMismatch is returned when an embedding's length differs from
	// the store's configured dimension. Always a caller bug.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidImportance is returned when importance is outside [0,1].
	ErrInvalidImportance = errors.New("importance must be within [0,1]")

	// ErrDegenerateEmbedding is returned when a zero-magnitude (or non-finite)
	// vector is presented to a similarity computation.
	ErrDegenerateEmbedding = errors.New("degenerate embedding: zero magnitude")

	// ErrTierFull is returned when a tier is at capacity and the incoming
	// record does not outscore the weakest resident.
	ErrTierFull = errors.New("tier full")

	// ErrEmptyIndex is returned by searches against an index with no live
	// nodes. Callers should treat it as zero results.
	ErrEmptyIndex = errors.New("index has no live records")

	// ErrNotFound is returned when a requested record is not resident.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistenceUnavailable is returned when the durable-storage backend
	// cannot be reached.
	ErrPersistenceUnavailable = errors.New("persistence backend unavailable")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")

	// ErrVetoed is returned when a before_encode hook rejects a record.
	ErrVetoed = errors.New("rejected by before_encode hook")

	// ErrDuplicateKey is returned when inserting a key the index already holds.
	ErrDuplicateKey = errors.New("duplicate key")
)

// DimensionMismatchError carries the expected and actual embedding lengths.
// It matches ErrDimensionMismatch under errors.Is.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

// Is reports whether target is ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// NewDimensionMismatch builds a DimensionMismatchError.
func NewDimensionMismatch(expected, actual int) error {
	return &DimensionMismatchError{Expected: expected, Actual: actual}
}

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
