// Package errz defines the error taxonomy shared by the flowgraph packages.
package errz

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind int

const (
	// KindStructure indicates a malformed block or graph: more than one
	// jump in a block, an unresolved jump or region target, or a region
	// marker in an illegal position.
	KindStructure Kind = iota
	// KindUnderflow indicates a computed stack depth went negative.
	KindUnderflow
	// KindLookup indicates a block or label that is unknown to the graph.
	// This signals a caller error rather than malformed data.
	KindLookup
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindStructure:
		return "structure error"
	case KindUnderflow:
		return "stack underflow"
	case KindLookup:
		return "lookup error"
	default:
		return "error"
	}
}

// Error is a categorized error raised by graph operations. All failures are
// synchronous and fatal: a graph that produced one cannot be serialized.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err or any error it wraps has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Cause
		if err == nil {
			return false
		}
	}
	return false
}
