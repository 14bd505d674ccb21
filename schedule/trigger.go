// Package schedule re-runs the batch on a cron schedule.
//
// The Trigger type wraps a Runnable and executes it according to a cron
// schedule. Paired with a non-forced Pass, the batch is only re-installed
// when its marker disappears.
//
// Example usage:
//
//	trigger, err := schedule.NewTrigger("0 2 * * *", &schedule.Pass{Manager: m}, logger)
//	if err != nil {
//	    return err
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Runnable is implemented by anything that can be triggered by the scheduler.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a function to the Runnable interface.
type RunnableFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Trigger executes a Runnable according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	runnable Runnable
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// ParseSpec parses a standard 5-field cron specification (minute, hour,
// day of month, month, day of week).
func ParseSpec(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return schedule, nil
}

// NewTrigger creates a new Trigger with the given cron specification.
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewTrigger(spec string, runnable Runnable, logger *slog.Logger) (*Trigger, error) {
	schedule, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		runnable: runnable,
		logger:   logger.With("component", "schedule"),
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Spec returns the cron specification.
func (t *Trigger) Spec() string {
	return t.spec
}

// Start launches a goroutine that triggers runs according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.Loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(t.now())
}

// Loop runs until ctx is cancelled.
func (t *Trigger) Loop(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(t.now())
		waitDuration := nextRun.Sub(t.now())

		t.logger.Debug("waiting for next scheduled run",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		select {
		case <-ctx.Done():
			t.logger.Info("schedule shutting down")
			return
		case <-t.after(waitDuration):
			t.executeRun(ctx)
		}
	}
}

// executeRun executes the runnable and logs the result.
func (t *Trigger) executeRun(ctx context.Context) {
	t.logger.Info("starting scheduled batch run")

	if err := t.runnable.Run(ctx); err != nil {
		t.logger.Warn("scheduled run completed with error", "error", err)
	} else {
		t.logger.Info("scheduled run completed successfully")
	}
}
