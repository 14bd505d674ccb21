package task

import (
	"errors"
	"fmt"

	"github.com/battis/batch-action/sandbox"
)

var (
	// ErrParameterMismatch is returned when a constructor or setter receives a
	// value of the wrong shape.
	ErrParameterMismatch = sandbox.ErrParameterMismatch

	// ErrInvalidPath is returned when a sandbox or filesystem path is malformed.
	ErrInvalidPath = sandbox.ErrInvalidPath

	// ErrCircularDependency is returned when a task is asked to run while it
	// is already waiting on its own prerequisites.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrFailedPrerequisite is returned when a prerequisite task, or the
	// sandbox check, fails.
	ErrFailedPrerequisite = errors.New("failed prerequisite")

	// ErrActionFailed is returned when a task's own action does not complete.
	ErrActionFailed = errors.New("action failed")

	// ErrFileNotFound is returned when a required file or directory is missing.
	ErrFileNotFound = errors.New("file not found")
)

// Error is a task failure of a specific kind.
//
// Both Kind and the underlying cause are reachable with errors.Is and
// errors.As, so wrapping a prerequisite failure keeps the inner kind visible.
type Error struct {
	Kind error
	Task string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Task != "" {
		msg = e.Task + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf creates an Error of the given kind for the named task.
func Errorf(kind error, taskName, format string, args ...any) error {
	return &Error{Kind: kind, Task: taskName, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that keeps cause.
func Wrap(kind error, taskName string, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Task: taskName, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the outermost task error kind of err, or nil.
func KindOf(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return nil
}
