package batch

import "fmt"

// StepState is what happened to a step during a pass.
type StepState int

const (
	// Pending steps have been reached but their handler has not returned.
	Pending StepState = iota

	// Skipped steps were excluded by the selector. Their step index is still
	// consumed.
	Skipped

	// Completed steps stored their outcomes in the results table.
	Completed

	// Failed steps returned an error, which aborted the pass.
	Failed
)

func (s StepState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s StepState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepState) UnmarshalText(text []byte) error {
	for _, st := range []StepState{Pending, Skipped, Completed, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown step state %q", text)
}
