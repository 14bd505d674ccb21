package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "batch"

// Batch holds the instruments updated by the batch manager.
type Batch struct {
	runs     CounterVec
	steps    CounterVec
	outcomes CounterVec
	lastRun  Gauge
	duration Gauge
}

// NewBatch registers the batch instruments with reg. A nil reg behaves like
// NoopRegistry.
func NewBatch(reg Registry) (*Batch, error) {
	if reg == nil {
		reg = NoopRegistry{}
	}

	runs, err1 := reg.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Batch passes by result.",
	}, []string{"result"})
	steps, err2 := reg.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Sequence steps by group and whether they were dispatched or skipped.",
	}, []string{"group", "state"})
	outcomes, err3 := reg.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_outcomes_total",
		Help:      "Task outcomes by status.",
	}, []string{"status"})
	lastRun, err4 := reg.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time at which the last pass finished.",
	})
	duration, err5 := reg.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the last pass.",
	})
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &Batch{
		runs:     runs,
		steps:    steps,
		outcomes: outcomes,
		lastRun:  lastRun,
		duration: duration,
	}, nil
}

// StepDispatched counts a step whose handler was called.
func (b *Batch) StepDispatched(group string) {
	b.steps.With(prometheus.Labels{"group": group, "state": "dispatched"}).Inc()
}

// StepSkipped counts a step the selector excluded.
func (b *Batch) StepSkipped(group string) {
	b.steps.With(prometheus.Labels{"group": group, "state": "skipped"}).Inc()
}

// Outcome counts one task outcome.
func (b *Batch) Outcome(status string) {
	b.outcomes.With(prometheus.Labels{"status": status}).Inc()
}

// RunFinished records the end of a pass. result is "success", "failure" or
// "skipped".
func (b *Batch) RunFinished(result string, started, finished time.Time) {
	b.runs.With(prometheus.Labels{"result": result}).Inc()
	b.lastRun.Set(float64(finished.Unix()))
	b.duration.Set(finished.Sub(started).Seconds())
}
