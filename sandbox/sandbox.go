// Package sandbox provides the shared execution context that tasks read from
// and write into during a run, and deferred values that are resolved from it
// lazily.
//
// A Sandbox is a tree of string-keyed maps. Leaves may hold any value:
// scalars, lists, or imported documents such as parsed XML. Values are
// addressed by a Path, written in slash notation:
//
//	sb := sandbox.New()
//	_ = sb.Set(sandbox.MustPath("/secrets/mysql/host"), "db.local")
//	host, ok := sb.Lookup(sandbox.MustPath("/secrets/mysql/host"))
//
// # Thread Safety
//
// A Sandbox is not safe for concurrent use. It is shared by pointer across
// every task of a single sequential run; the ordering of writes is decided
// entirely by the prerequisite graph.
package sandbox

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrParameterMismatch is returned when a value of the wrong shape is
	// supplied or found.
	ErrParameterMismatch = errors.New("parameter mismatch")

	// ErrInvalidPath is returned when a path cannot be walked or written.
	ErrInvalidPath = errors.New("invalid path")
)

// Sandbox is a mutable, hierarchical key-value store.
type Sandbox struct {
	root map[string]any
}

// New creates an empty sandbox.
func New() *Sandbox {
	return &Sandbox{root: make(map[string]any)}
}

// FromMap creates a sandbox seeded with the given values. The map is used
// directly, not copied.
func FromMap(values map[string]any) *Sandbox {
	if values == nil {
		values = make(map[string]any)
	}
	return &Sandbox{root: values}
}

// Root returns the underlying tree.
func (s *Sandbox) Root() map[string]any {
	return s.root
}

// Lookup walks the sandbox from its root and returns the value at path.
// The boolean is false when any segment is absent. Integer segments index
// into lists.
func (s *Sandbox) Lookup(path Path) (any, bool) {
	var cur any = s.root
	for _, seg := range path {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Set stores value at path, creating intermediate maps as needed.
// It fails with ErrInvalidPath if an intermediate value exists but is not a map.
func (s *Sandbox) Set(path Path, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: cannot replace sandbox root", ErrInvalidPath)
	}

	node := s.root
	for i, seg := range path[:len(path)-1] {
		next, exists := node[seg]
		if !exists {
			m := make(map[string]any)
			node[seg] = m
			node = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s holds %T, not a map", ErrInvalidPath, path[:i+1], next)
		}
		node = m
	}

	node[path[len(path)-1]] = value
	return nil
}

// Delete removes the value at path. It returns false if nothing was removed.
func (s *Sandbox) Delete(path Path) bool {
	if len(path) == 0 {
		return false
	}
	parent, ok := s.Lookup(path[:len(path)-1])
	if !ok {
		return false
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, exists := m[path[len(path)-1]]; !exists {
		return false
	}
	delete(m, path[len(path)-1])
	return true
}

// Len returns the number of children directly below path, or 0 if the
// value there is not a map or list.
func (s *Sandbox) Len(path Path) int {
	v, ok := s.Lookup(path)
	if !ok {
		return 0
	}
	switch c := v.(type) {
	case map[string]any:
		return len(c)
	case []any:
		return len(c)
	default:
		return 0
	}
}

func child(v any, seg string) (any, bool) {
	switch c := v.(type) {
	case map[string]any:
		next, ok := c[seg]
		return next, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	default:
		return nil, false
	}
}
