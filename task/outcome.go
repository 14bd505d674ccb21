package task

import "fmt"

// Status is the severity of an Outcome. Statuses are ordered: Success is the
// least severe and Danger the most.
type Status int

const (
	// Success indicates the task did what it was asked to do.
	Success Status = iota

	// Warning indicates the task completed but something deserves attention.
	Warning

	// Danger indicates the task did not complete.
	Danger
)

// String returns a human-readable representation of the Status
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Danger:
		return "danger"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{Success, Warning, Danger} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown outcome status %q", text)
}

// Outcome describes the result of one task execution.
//
// Outcomes are values: they are constructed once per invocation and never
// modified afterwards.
type Outcome struct {
	// Task identifies the task that produced the outcome.
	Task string `json:"task"`

	// Title is a short summary.
	Title string `json:"title"`

	// Detail is a human-readable description of what happened.
	Detail string `json:"detail,omitempty"`

	// Status is the severity of the outcome.
	Status Status `json:"status"`

	// Success reports whether the task completed.
	Success bool `json:"success"`

	// Payload carries optional data produced by the task.
	Payload any `json:"payload,omitempty"`

	alreadyRun bool
}

// NewOutcome creates an Outcome whose success flag is derived from status:
// everything short of Danger counts as completed.
func NewOutcome(taskName, title, detail string, status Status, payload any) Outcome {
	return Outcome{
		Task:    taskName,
		Title:   title,
		Detail:  detail,
		Status:  status,
		Success: status != Danger,
		Payload: payload,
	}
}

// Succeeded creates a successful Outcome.
func Succeeded(taskName, title, detail string, payload any) Outcome {
	return NewOutcome(taskName, title, detail, Success, payload)
}

// Failed creates an Outcome for a task that did not complete.
func Failed(taskName, title, detail string) Outcome {
	return NewOutcome(taskName, title, detail, Danger, nil)
}

// AlreadyRun creates the outcome returned when a task is asked to run again
// without being due.
func AlreadyRun(taskName string) Outcome {
	o := Succeeded(taskName, taskName+" already run", "This task has already run and was not run again.", nil)
	o.alreadyRun = true
	return o
}

// Completed reports whether the task ran to completion.
func (o Outcome) Completed() bool {
	return o.Success
}

// IsAlreadyRun reports whether this is the "already run" outcome.
func (o Outcome) IsAlreadyRun() bool {
	return o.alreadyRun
}

// Worst returns the most severe status among outcomes, or Success if empty.
func Worst(outcomes []Outcome) Status {
	worst := Success
	for _, o := range outcomes {
		if o.Status > worst {
			worst = o.Status
		}
	}
	return worst
}
