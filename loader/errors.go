package loader

import (
	"errors"
	"fmt"

	"faqrag/types"
)

var (
	ErrBadRequest      = errors.New("bad request")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrConflict        = errors.New("document already exists")
	ErrDependency      = errors.New("dependency failure")
	ErrNotFound        = errors.New("document not found")
)

// KindDeleteFailed marks a failed removal of the document being overwritten.
const KindDeleteFailed = "DELETE_FAILED"

// DuplicateError is returned when a document with the same title exists
// and the caller gave no duplicate action.
type DuplicateError struct {
	Existing types.DocumentSummary
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("document %q already exists", e.Existing.Title)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrConflict
}

// DependencyError wraps a failure of the store or another backing service.
type DependencyError struct {
	Op   string
	Kind string
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

func dependency(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

func tooLarge(size, limit int64) error {
	return fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrPayloadTooLarge, size, limit)
}
