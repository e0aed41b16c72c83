// Package herrors defines the error taxonomy Holmes surfaces to its hosts:
// invalid requests, type errors, not-found, backend failures, internal
// invariant violations, and saturation deadlines.
package herrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec section 7 requires.
type Kind int

const (
	// Invalid marks malformed input from the host: empty predicate, bad
	// name, non-sequential variable numbering, empty query, unknown
	// function.
	Invalid Kind = iota
	// TypeMismatch marks a value/schema mismatch.
	TypeMismatch
	// NotFound marks a reference to an unknown predicate or type.
	NotFound
	// Backend marks an error propagated from the fact store.
	Backend
	// Internal marks an invariant violation. Never recoverable.
	Internal
	// Deadline marks a saturation that exceeded its time budget.
	Deadline
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case TypeMismatch:
		return "type"
	case NotFound:
		return "not_found"
	case Backend:
		return "backend"
	case Internal:
		return "internal"
	case Deadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every Holmes package returns.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("holmes: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("holmes: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an unwrapped error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind, looking through
// wrapped causes.
func Is(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}
