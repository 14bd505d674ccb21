package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/task"
)

// Marker is the durable "already run" flag consulted before a non-forced
// pass.
type Marker interface {
	// HasRun reports whether a pass has completed before.
	HasRun() (bool, error)
	// MarkRun is called after a pass completes the whole sequence.
	MarkRun(rec Record) error
}

// Record summarises one pass.
type Record struct {
	RunID    string       `json:"run_id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Forced   bool         `json:"forced"`
	Selector string       `json:"selector"`
	Steps    []StepRecord `json:"steps"`
	Error    string       `json:"error,omitempty"`
}

// Success reports whether the pass completed the whole sequence.
func (r Record) Success() bool {
	return r.Error == ""
}

// Duration is the wall time of the pass.
func (r Record) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// StepRecord is one step of a Record, in the order the step was reached.
type StepRecord struct {
	Step
	State StepState `json:"state"`
	// OutOfSequence is set for steps dispatched by Manager.Prerequisite.
	OutOfSequence bool               `json:"out_of_sequence,omitempty"`
	Outcomes      []task.Outcome     `json:"outcomes,omitempty"`
	Logs          []logging.LogEntry `json:"logs,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// FileMarker ties the marker to the presence of a file. MarkRun writes a
// one-line summary of the pass.
type FileMarker struct {
	Path string
}

// HasRun reports whether the file exists.
func (f FileMarker) HasRun() (bool, error) {
	_, err := os.Stat(f.Path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking run marker: %w", err)
	}
}

// MarkRun creates the file and any missing parent directories.
func (f FileMarker) MarkRun(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	line := fmt.Sprintf("%s run %s completed %d steps in %s\n",
		rec.Finished.Format(time.RFC3339), rec.RunID, len(rec.Steps), rec.Duration().Round(time.Millisecond))
	if err := os.WriteFile(f.Path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("writing run marker: %w", err)
	}
	return nil
}

// Reset removes the file so the next non-forced pass runs again.
func (f FileMarker) Reset() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing run marker: %w", err)
	}
	return nil
}

// MemoryMarker keeps the flag in memory. It is the default marker and only
// lasts as long as the process.
type MemoryMarker struct {
	mu   sync.Mutex
	last *Record
}

func (m *MemoryMarker) HasRun() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last != nil, nil
}

func (m *MemoryMarker) MarkRun(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &rec
	return nil
}
