// Package statusreporter tracks what each step of a pass is doing right now.
//
// The batch manager binds a StatusLine to every step it dispatches and
// places it in the step's context. Handlers report progress through it:
//
//	func (h *MyHandler) Handle(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
//	    line := statusreporter.FromContext(ctx)
//	    line.Set("waiting for Database(0)")
//	    // ... do work
//	    line.Set("running ImportSchema")
//	    return outcomes, nil
//	}
//
// The shared StatusCollection is read by the HTTP status endpoint while the
// pass is running.
//
// THREAD SAFETY:
// All methods are thread-safe and can be called from concurrent goroutines.
package statusreporter

import "context"

type lineKey struct{}

// WithStatusLine returns a context carrying line.
func WithStatusLine(ctx context.Context, line *StatusLine) context.Context {
	return context.WithValue(ctx, lineKey{}, line)
}

// FromContext returns the status line in ctx. Without one it returns nil,
// which is safe to call Set on.
func FromContext(ctx context.Context) *StatusLine {
	line, _ := ctx.Value(lineKey{}).(*StatusLine)
	return line
}
