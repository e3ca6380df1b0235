// Package faults defines the error taxonomy shared by the merge and
// question-answering pipeline.
//
// Kinds map to how the caller must react:
//   - IOFailure, FormatError, SchemaMismatch, NoMergeKey abort the current
//     user-visible operation with a descriptive message; they are never
//     retried automatically.
//   - ExecutionFailure triggers the deterministic fallback chain before it
//     is allowed to surface.
//   - ExtractionFailure means a result payload could not be normalized.
//
// None of these conditions may crash the host process; every entry point
// into the core catches and converts at its boundary.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindIOFailure
	KindFormatError
	KindSchemaMismatch
	KindNoMergeKey
	KindExecutionFailure
	KindExtractionFailure
)

func (k Kind) String() string {
	switch k {
	case KindIOFailure:
		return "io_failure"
	case KindFormatError:
		return "format_error"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindNoMergeKey:
		return "no_merge_key"
	case KindExecutionFailure:
		return "execution_failure"
	case KindExtractionFailure:
		return "extraction_failure"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failing operation, a human-readable message and
// optional detail lines (e.g. the columns that WERE present, for
// diagnosability).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Detail  []string

	wrapped error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Detail) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Detail, "; "))
		b.WriteString(")")
	}
	if e.wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.wrapped.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is makes errors.Is(err, &Error{Kind: K}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the taxonomy kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func IOFailure(op, format string, args ...any) *Error {
	return newf(KindIOFailure, op, format, args...)
}

func FormatError(op, format string, args ...any) *Error {
	return newf(KindFormatError, op, format, args...)
}

func SchemaMismatch(op, format string, args ...any) *Error {
	return newf(KindSchemaMismatch, op, format, args...)
}

func NoMergeKey(op, format string, args ...any) *Error {
	return newf(KindNoMergeKey, op, format, args...)
}

func ExecutionFailure(op, format string, args ...any) *Error {
	return newf(KindExecutionFailure, op, format, args...)
}

func ExtractionFailure(op, format string, args ...any) *Error {
	return newf(KindExtractionFailure, op, format, args...)
}

// WithDetail appends detail lines and returns the same error for chaining.
func (e *Error) WithDetail(lines ...string) *Error {
	e.Detail = append(e.Detail, lines...)
	return e
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}
