package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/quipu/pkg/schema"
)

// Common errors.
var (
	ErrReadOnly   = errors.New("engine is in read-only mode")
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrUpstream   = errors.New("upstream provider failed")
	ErrInternal   = errors.New("internal error")
)

// Kind classifies an error for transports.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindReadOnly   Kind = "read_only"
	KindInternal   Kind = "internal"
)

// KindOf maps err onto the taxonomy. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrReadOnly):
		return KindReadOnly
	default:
		return KindInternal
	}
}

// ValidationError is returned when a document, schema or request is rejected.
type ValidationError struct {
	Reason     string
	Violations []schema.Violation
	Cause      error
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Reason
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, path+": "+v.Message)
	}
	return e.Reason + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Cause }

// Invalid builds a ValidationError with a formatted reason.
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// FromSchema converts errors from the schema package into a ValidationError.
// Other errors are returned unchanged.
func FromSchema(err error) error {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return &ValidationError{Reason: "document does not match schema", Violations: verr.Violations, Cause: err}
	}
	var cerr *schema.CompileError
	if errors.As(err, &cerr) {
		return &ValidationError{
			Reason:     "malformed schema",
			Violations: []schema.Violation{{Path: cerr.Path, Message: cerr.Message}},
			Cause:      err,
		}
	}
	return err
}

// DimensionMismatchError is returned when a vector does not match the
// dimension of its namespace.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrValidation }

// NotFound reports a missing resource of the given kind.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Conflict reports a duplicate resource of the given kind.
func Conflict(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrConflict)
}

// Upstream wraps a failure of an external provider.
func Upstream(err error) error {
	if err == nil || errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// Internal wraps a storage failure. Errors that already carry a kind are
// returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
