package sandbox

import (
	"fmt"
	"strings"
)

// PathDelimiter separates the segments of a sandbox path.
const PathDelimiter = "/"

// Path is a sequence of segments leading from the sandbox root to a value.
type Path []string

// ParsePath splits a slash-delimited path such as "/config/secrets.xml".
// A single leading delimiter is optional. Empty paths and empty segments are
// rejected with ErrParameterMismatch.
func ParsePath(s string) (Path, error) {
	trimmed := strings.TrimPrefix(s, PathDelimiter)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty sandbox path %q", ErrParameterMismatch, s)
	}

	segs := strings.Split(trimmed, PathDelimiter)
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in sandbox path %q", ErrParameterMismatch, s)
		}
	}
	return Path(segs), nil
}

// MustPath is like ParsePath but panics on error. Intended for constant paths.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Join returns a new path with segs appended.
func (p Path) Join(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// String returns the path in slash notation with a leading delimiter.
func (p Path) String() string {
	return PathDelimiter + strings.Join(p, PathDelimiter)
}
