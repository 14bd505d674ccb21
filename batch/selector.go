package batch

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AllSteps registers every step of a group.
const AllSteps = -1

// Selector restricts which (group, step) pairs a pass dispatches. A nil
// *Selector matches everything.
//
//	sel := batch.NewSelector().Add(batch.Script, 1).Add(batch.Database)
type Selector struct {
	steps map[Group][]int
	order []Group
	err   error
}

// NewSelector creates a selector that matches nothing until Add is called.
func NewSelector() *Selector {
	return &Selector{steps: make(map[Group][]int)}
}

// Add registers steps of g. With no steps, or with AllSteps, every step of g
// matches. Repeated steps are ignored. A negative step other than AllSteps
// is recorded as an error and reported by Err.
func (s *Selector) Add(g Group, steps ...int) *Selector {
	if !g.Valid() {
		s.err = errors.Join(s.err, fmt.Errorf("%w: %w: %d", ErrParameterMismatch, ErrUnknownGroup, int(g)))
		return s
	}
	if _, ok := s.steps[g]; !ok {
		s.order = append(s.order, g)
		s.steps[g] = nil
	}
	if len(steps) == 0 {
		steps = []int{AllSteps}
	}
	for _, step := range steps {
		if step < 0 && step != AllSteps {
			s.err = errors.Join(s.err, fmt.Errorf("%w: invalid step %d for %s", ErrParameterMismatch, step, g))
			continue
		}
		if !slices.Contains(s.steps[g], step) {
			s.steps[g] = append(s.steps[g], step)
		}
	}
	return s
}

// Matches reports whether (g, step) is selected.
func (s *Selector) Matches(g Group, step int) bool {
	if s == nil {
		return true
	}
	steps, ok := s.steps[g]
	if !ok {
		return false
	}
	return slices.Contains(steps, AllSteps) || slices.Contains(steps, step)
}

// Err returns the errors recorded by Add, if any.
func (s *Selector) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// String formats the selector the way ParseSelector reads it. A nil
// selector is "*".
func (s *Selector) String() string {
	if s == nil {
		return "*"
	}
	parts := make([]string, 0, len(s.order))
	for _, g := range s.order {
		steps := s.steps[g]
		if slices.Contains(steps, AllSteps) {
			parts = append(parts, g.String())
			continue
		}
		for _, step := range steps {
			parts = append(parts, g.String()+":"+strconv.Itoa(step))
		}
	}
	return strings.Join(parts, ",")
}

// ParseSelector reads a comma-separated list of "Group" or "Group:step"
// entries, for example "Script:1,Database". An empty string or "*" yields a
// nil selector, which matches everything.
func ParseSelector(spec string) (*Selector, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return nil, nil
	}

	sel := NewSelector()
	for _, part := range strings.Split(spec, ",") {
		name, stepText, hasStep := strings.Cut(strings.TrimSpace(part), ":")
		g, err := ParseGroup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParameterMismatch, err)
		}
		if !hasStep || stepText == "*" {
			sel.Add(g)
			continue
		}
		step, err := strconv.Atoi(strings.TrimSpace(stepText))
		if err != nil {
			return nil, fmt.Errorf("%w: step %q of %s is not an integer", ErrParameterMismatch, stepText, g)
		}
		sel.Add(g, step)
	}
	if err := sel.Err(); err != nil {
		return nil, err
	}
	return sel, nil
}
