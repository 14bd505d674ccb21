package batch

import (
	"fmt"
	"strconv"
	"strings"
)

// Group is a named phase of an installation. The set of groups is fixed.
type Group int

const (
	// Database steps create and populate schemas.
	Database Group = iota
	// Files steps write or protect files on disk.
	Files
	// Script steps run arbitrary follow-up work.
	Script
)

var groupNames = [...]string{
	Database: "Database",
	Files:    "Files",
	Script:   "Script",
}

// Groups returns every group in declaration order.
func Groups() []Group {
	return []Group{Database, Files, Script}
}

// DefaultSequence is the sequence used when none is configured: each group
// once, in declaration order.
func DefaultSequence() []Group {
	return Groups()
}

func (g Group) String() string {
	if g < 0 || int(g) >= len(groupNames) {
		return fmt.Sprintf("Group(%d)", int(g))
	}
	return groupNames[g]
}

// Valid reports whether g is one of the declared groups.
func (g Group) Valid() bool {
	return g >= 0 && int(g) < len(groupNames)
}

// ParseGroup parses a group name, ignoring case.
func ParseGroup(s string) (Group, error) {
	for i, name := range groupNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Group(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// MarshalText implements encoding.TextMarshaler.
func (g Group) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGroup, int(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so groups can be
// written by name in YAML and JSON.
func (g *Group) UnmarshalText(text []byte) error {
	parsed, err := ParseGroup(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Step identifies one occurrence of a group within a pass.
type Step struct {
	Group Group `json:"group"`
	Index int   `json:"step"`
}

// String formats the step as "Database(0)". It is also the key under which
// the step's logs are captured.
func (s Step) String() string {
	return fmt.Sprintf("%s(%d)", s.Group, s.Index)
}

// ParseStep reads "Group:step", for example "Database:0". A bare group name
// means step 0.
func ParseStep(s string) (Step, error) {
	name, stepText, hasStep := strings.Cut(strings.TrimSpace(s), ":")
	g, err := ParseGroup(name)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %w", ErrParameterMismatch, err)
	}
	if !hasStep {
		return Step{Group: g}, nil
	}
	idx, err := strconv.Atoi(strings.TrimSpace(stepText))
	if err != nil || idx < 0 {
		return Step{}, fmt.Errorf("%w: step %q of %s is not a non-negative integer", ErrParameterMismatch, stepText, g)
	}
	return Step{Group: g, Index: idx}, nil
}
