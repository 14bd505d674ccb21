package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/battis/batch-action/batch"
)

// ErrRunInProgress is returned when attempting to start a run while one is already running.
var ErrRunInProgress = errors.New("batch run already in progress")

// RunState represents the current state of the runner.
type RunState int

const (
	// RunStateIdle indicates no pass is running.
	RunStateIdle RunState = iota
	// RunStateRunning indicates a pass is in progress.
	RunStateRunning
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = RunStateIdle
	case "running":
		*s = RunStateRunning
	default:
		return fmt.Errorf("unknown run state %q", text)
	}
	return nil
}

// RunStatus describes the current or last pass.
type RunStatus struct {
	State RunState `json:"state"`
	// Force and Selector describe the current or last pass.
	Force    bool   `json:"force"`
	Selector string `json:"selector"`
	// StartedAt is nil if no pass has been started.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is nil while a pass is running.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// RunID is the id of the last finished pass; a skipped pass keeps the
	// previous id.
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Runner serialises passes over one Manager, which is not safe for
// concurrent use. Both the cron trigger and HTTP requests go through it.
type Runner struct {
	manager  *batch.Manager
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status RunStatus
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. recorder may be nil.
func NewRunner(m *batch.Manager, recorder Recorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		manager:  m,
		recorder: recorder,
		logger:   logger.With("component", "runner"),
		now:      time.Now,
	}
}

// Run performs a pass and waits for it.
// Returns ErrRunInProgress if a pass is already running.
func (r *Runner) Run(ctx context.Context, force bool, sel *batch.Selector) error {
	if !r.tryStart(force, sel) {
		return ErrRunInProgress
	}
	err := r.execute(ctx, force, sel)
	r.finish(err)
	return err
}

// Start performs a pass in the background.
// Returns ErrRunInProgress if a pass is already running.
func (r *Runner) Start(ctx context.Context, force bool, sel *batch.Selector) error {
	if !r.tryStart(force, sel) {
		return ErrRunInProgress
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.execute(context.WithoutCancel(ctx), force, sel)
		r.finish(err)
	}()
	return nil
}

// Wait blocks until background passes have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Scheduled returns the Runnable the cron trigger uses: a non-forced pass
// over every step. A pass already in progress is left alone.
func (r *Runner) Scheduled() Runnable {
	return RunnableFunc(func(ctx context.Context) error {
		err := r.Run(ctx, false, nil)
		if errors.Is(err, ErrRunInProgress) {
			r.logger.Info("skipping scheduled run, a run is already in progress")
			return nil
		}
		return err
	})
}

// Status returns a copy of the current status.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) tryStart(force bool, sel *batch.Selector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == RunStateRunning {
		return false
	}
	now := r.now()
	r.status.State = RunStateRunning
	r.status.Force = force
	r.status.Selector = sel.String()
	r.status.StartedAt = &now
	r.status.EndedAt = nil
	r.status.Error = ""
	return true
}

func (r *Runner) execute(ctx context.Context, force bool, sel *batch.Selector) error {
	pass := &Pass{
		Manager:  r.manager,
		Force:    force,
		Selector: sel,
		Recorder: r.recorder,
		Logger:   r.logger,
	}
	return pass.Run(ctx)
}

func (r *Runner) finish(err error) {
	runID := r.manager.RunID()

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.status.State = RunStateIdle
	r.status.EndedAt = &now
	r.status.RunID = runID
	if err != nil {
		r.status.Error = err.Error()
	}
}
