// Package handlers provides HTTP handlers for the batch control API.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/schedule"
)

// Reloader can reload its state from disk.
type Reloader interface {
	Reload() error
}

// BatchRunner can start batch passes in the background.
type BatchRunner interface {
	Start(ctx context.Context, force bool, sel *batch.Selector) error
}

// RunStatusProvider provides access to run status.
type RunStatusProvider interface {
	Status() schedule.RunStatus
}

// NextRunProvider reports the next scheduled pass. Nil means unscheduled.
type NextRunProvider interface {
	NextRun() *time.Time
}

// HistoryProvider provides access to recorded passes.
type HistoryProvider interface {
	List() []batch.Record
	Get(runID string) (batch.Record, bool)
}
