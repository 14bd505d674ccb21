// Package task provides dependency-aware tasks that run at most once per run.
//
// # Overview
//
// A Node wraps an Action and a list of prerequisite Nodes. Calling Run on a
// Node first runs each prerequisite that has not yet completed in the current
// run, then checks the sandbox, then performs the Node's own Action:
//
//	config := task.NewNode("config", importConfig)
//	schema := task.NewNode("schema", importSchema, task.WithPrerequisites(config))
//
//	outcomes, err := schema.Run(ctx, sb, runID, false)
//
// outcomes holds config's Outcome followed by schema's.
//
// # Run Semantics
//
// Without force, a Node that ever completed returns an AlreadyRun outcome and
// does nothing. With force, a Node runs again once per distinct run
// identifier; a second forced call with the same identifier is a no-op.
//
// # Cycle Detection
//
// Cycles are detected while running, not up front. A Node marks itself as
// acting while it waits on its prerequisites; reaching an acting Node again
// fails with ErrCircularDependency. A cycle that is never traversed is never
// reported.
//
// # Errors
//
// Failures are *Error values with one of the kinds ErrCircularDependency,
// ErrFailedPrerequisite, ErrActionFailed, ErrParameterMismatch,
// ErrFileNotFound or ErrInvalidPath. A prerequisite failure is wrapped as
// ErrFailedPrerequisite and keeps the inner error reachable, so
//
//	errors.Is(err, task.ErrCircularDependency)
//
// holds for a cycle found several prerequisites deep. Nothing is retried.
package task
