package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/statusreporter"
	"github.com/battis/batch-action/task"
)

// Handler performs the work of one step of a group.
//
// IMPLEMENTATION CONTRACT:
//   - Handle receives the zero-based step index within its group
//   - It may call m.Prerequisite to run another step first, and m.Result to
//     read what earlier steps produced
//   - The returned outcomes are stored under (group, step); an error aborts
//     the pass
type Handler interface {
	Handle(ctx context.Context, m *Manager, step int) ([]task.Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, m *Manager, step int) ([]task.Outcome, error)

// Handle calls f(ctx, m, step).
func (f HandlerFunc) Handle(ctx context.Context, m *Manager, step int) ([]task.Outcome, error) {
	return f(ctx, m, step)
}

// Nodes returns a handler that runs the nodes accepted by filter, in order,
// with the pass's run id and force flag. Every step of the group runs the
// same nodes; nodes that already ran in this pass report AlreadyRun.
func Nodes(sb *sandbox.Sandbox, filter task.Filter, nodes ...*task.Node) Handler {
	selected := task.Select(filter, nodes...)
	return HandlerFunc(func(ctx context.Context, m *Manager, step int) ([]task.Outcome, error) {
		logger := LoggerFrom(ctx)
		line := statusreporter.FromContext(ctx)
		var outcomes []task.Outcome
		for _, n := range selected {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
			logger.Info("running task", "task", n.Name())
			line.Set("running " + n.Name())
			res, err := n.Run(ctx, sb, m.RunID(), m.Forced())
			if err != nil {
				logger.Error("task failed", "task", n.Name(), "error", err)
				return outcomes, err
			}
			outcomes = append(outcomes, res...)
		}
		return outcomes, nil
	})
}

// PerStep returns a handler that sends step i to handlers[i]. Steps past
// the end fail with ErrInvalidStep.
func PerStep(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, m *Manager, step int) ([]task.Outcome, error) {
		if step < 0 || step >= len(handlers) {
			return nil, fmt.Errorf("%w: no handler for step %d", ErrInvalidStep, step)
		}
		return handlers[step].Handle(ctx, m, step)
	})
}

type loggerKey struct{}

// LoggerFrom returns the step logger the manager placed in ctx, or
// slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}
