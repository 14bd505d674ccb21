package batch

import (
	"errors"

	"github.com/battis/batch-action/task"
)

var (
	// ErrExecutionOutOfOrder is returned when a (group, step) result would be
	// stored twice within one pass.
	ErrExecutionOutOfOrder = errors.New("execution out of order")

	// ErrInvalidStep is returned when a negative step is requested.
	ErrInvalidStep = errors.New("invalid step")

	// ErrUnknownGroup is returned for a group with no name or no handler.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrParameterMismatch is the task package's kind, re-exported for
	// selector errors.
	ErrParameterMismatch = task.ErrParameterMismatch
)

// StepError is a failure attributed to one step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return e.Step.String() + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
