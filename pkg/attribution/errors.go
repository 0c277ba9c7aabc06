package attribution

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrMalformedGraph = errors.New("malformed graph")
	ErrDuplicateNode  = errors.New("duplicate node id")
)

// GraphError provides structured error information for document decoding.
type GraphError struct {
	Op     string // Operation that failed (e.g., "decode", "normalize")
	Entity string // Entity type (e.g., "node", "edge", "document")
	Index  int    // Position in the source collection, -1 when not applicable
	Field  string // Offending field name
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.Index >= 0 {
		if e.Field != "" {
			return fmt.Sprintf("%s %s %d (field %s): %v", e.Op, e.Entity, e.Index, e.Field, e.Cause)
		}
		return fmt.Sprintf("%s %s %d: %v", e.Op, e.Entity, e.Index, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s %s (field %s): %v", e.Op, e.Entity, e.Field, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GraphError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
// Every GraphError is a malformed-graph error.
func (e *GraphError) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == ErrMalformedGraph {
		return true
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building GraphErrors.
type ErrorBuilder struct {
	err GraphError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: GraphError{Op: op, Entity: "document", Index: -1}}
}

// Node sets the entity to "node" at the given position.
func (b *ErrorBuilder) Node(index int) *ErrorBuilder {
	b.err.Entity = "node"
	b.err.Index = index
	return b
}

// Edge sets the entity to "edge" at the given position.
func (b *ErrorBuilder) Edge(index int) *ErrorBuilder {
	b.err.Entity = "edge"
	b.err.Index = index
	return b
}

// Field sets the offending field name.
func (b *ErrorBuilder) Field(name string) *ErrorBuilder {
	b.err.Field = name
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	if b.err.Cause == nil {
		b.err.Cause = ErrMalformedGraph
	}
	return &b.err
}

// MissingFieldError reports a required top-level collection that is absent.
func MissingFieldError(field string) error {
	return NewError("decode").Field(field).Cause(ErrMalformedGraph).Err()
}

// IsMalformed returns true if the error indicates an unusable graph document.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedGraph)
}
