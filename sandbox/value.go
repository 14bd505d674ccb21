package sandbox

import "fmt"

type valueKind int

const (
	literalValue valueKind = iota
	pathValue
)

// Value is a configuration input that is either supplied literally or read
// from a sandbox path when the owning task runs.
//
// The kind is fixed at construction. Path values are resolved fresh on every
// call to Resolve, because prerequisite tasks may have written to the sandbox
// since the value was built.
type Value[T any] struct {
	kind    valueKind
	literal T
	path    Path
	sb      *Sandbox
}

// Literal creates a value that always resolves to v.
func Literal[T any](v T) Value[T] {
	return Value[T]{kind: literalValue, literal: v}
}

// FromPath creates a value that resolves to whatever is stored at path.
func FromPath[T any](path string) (Value[T], error) {
	p, err := ParsePath(path)
	if err != nil {
		return Value[T]{}, err
	}
	return Value[T]{kind: pathValue, path: p}, nil
}

// Attach binds a default sandbox used when Resolve is called with nil.
func (v *Value[T]) Attach(sb *Sandbox) {
	v.sb = sb
}

// IsLiteral reports whether the value was constructed from a literal.
func (v Value[T]) IsLiteral() bool {
	return v.kind == literalValue
}

// Path returns the sandbox path, or nil for literal values.
func (v Value[T]) Path() Path {
	return v.path
}

// Resolve returns the value. Literals ignore the sandbox entirely. Path
// values walk sb (or the attached sandbox when sb is nil); a missing segment
// reports false with a nil error so the caller decides whether absence is
// fatal. A present nil value resolves to the zero value of T. A present
// value of the wrong type fails with ErrParameterMismatch.
func (v Value[T]) Resolve(sb *Sandbox) (T, bool, error) {
	var zero T
	if v.kind == literalValue {
		return v.literal, true, nil
	}

	if sb == nil {
		sb = v.sb
	}
	if sb == nil {
		return zero, false, nil
	}

	raw, ok := sb.Lookup(v.path)
	if !ok {
		return zero, false, nil
	}
	if raw == nil {
		return zero, true, nil
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: sandbox value at %s is %T, expected %T", ErrParameterMismatch, v.path, raw, zero)
	}
	return typed, true, nil
}

// String describes the value for logs.
func (v Value[T]) String() string {
	if v.kind == literalValue {
		return fmt.Sprintf("literal(%v)", v.literal)
	}
	return "sandbox:" + v.path.String()
}
