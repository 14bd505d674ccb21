package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/metrics"
	"github.com/battis/batch-action/statusreporter"
	"github.com/battis/batch-action/task"
)

// Manager sequences group handlers. Each occurrence of a group in the
// sequence is assigned the next step index of that group, starting at 0, and
// its handler's outcomes are stored under (group, step).
//
// A Manager is not safe for concurrent use.
type Manager struct {
	sequence []Group
	handlers map[Group]Handler
	marker   Marker
	logger   *slog.Logger
	hook     logging.LoggerHook
	statuses *statusreporter.StatusCollection
	registry metrics.Registry
	metrics  *metrics.Batch
	now      func() time.Time
	newRunID func() string

	// state of the current or most recent pass
	runID      string
	force      bool
	counters   map[Group]int
	results    map[Group]map[int][]task.Outcome
	inProgress map[Step]bool
	steps      []StepRecord
	last       *Record
}

// Option configures a Manager.
type Option func(*Manager)

// WithSequence sets the group sequence. Groups may repeat.
func WithSequence(groups ...Group) Option {
	return func(m *Manager) {
		m.sequence = slices.Clone(groups)
	}
}

// WithHandler registers the handler for g.
func WithHandler(g Group, h Handler) Option {
	return func(m *Manager) {
		m.handlers[g] = h
	}
}

// WithMarker sets the durable "already run" marker. The default is a
// MemoryMarker.
func WithMarker(marker Marker) Option {
	return func(m *Manager) {
		m.marker = marker
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With("component", "batch")
	}
}

// WithLoggerHook derives each step's logger through hook. With a
// *logging.CapturingLoggerHook the captured records end up in the pass's
// Record.
func WithLoggerHook(hook logging.LoggerHook) Option {
	return func(m *Manager) {
		m.hook = hook
	}
}

// WithStatusCollection publishes what each step of the current pass is doing
// to c. The collection is cleared when a pass starts.
func WithStatusCollection(c *statusreporter.StatusCollection) Option {
	return func(m *Manager) {
		m.statuses = c
	}
}

// WithRegistry records pass and step metrics in reg.
func WithRegistry(reg metrics.Registry) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRunIDs replaces the uuid run id generator. Used in tests.
func WithRunIDs(next func() string) Option {
	return func(m *Manager) {
		m.newRunID = next
	}
}

// NewManager creates a Manager. Every group in the sequence must have a
// handler.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		sequence: DefaultSequence(),
		handlers: make(map[Group]Handler),
		marker:   &MemoryMarker{},
		logger:   slog.Default().With("component", "batch"),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reset("")

	var errs []error
	for i, g := range m.sequence {
		if !g.Valid() {
			errs = append(errs, fmt.Errorf("sequence[%d]: %w: %d", i, ErrUnknownGroup, int(g)))
			continue
		}
		if m.handlers[g] == nil {
			errs = append(errs, fmt.Errorf("sequence[%d]: %w: no handler for %s", i, ErrUnknownGroup, g))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	bm, err := metrics.NewBatch(m.registry)
	if err != nil {
		return nil, fmt.Errorf("registering batch metrics: %w", err)
	}
	m.metrics = bm
	return m, nil
}

// Sequence returns the configured sequence.
func (m *Manager) Sequence() []Group {
	return slices.Clone(m.sequence)
}

// RunID returns the identifier of the current or most recent pass.
func (m *Manager) RunID() string {
	return m.runID
}

// Forced reports whether the current or most recent pass was forced.
func (m *Manager) Forced() bool {
	return m.force
}

// HasRun consults the marker.
func (m *Manager) HasRun() (bool, error) {
	return m.marker.HasRun()
}

// Run performs one pass over the sequence.
//
// Without force, nothing happens if the marker reports a completed pass.
// Otherwise a new run id is assigned, the results table and step counters
// are cleared, and each sequence entry is dispatched in order unless sel
// excludes it. A skipped entry still consumes its step index. The marker is
// set once the whole sequence has been processed.
//
// A handler error aborts the pass. Results stored before the failure remain
// available through Result and LastRecord.
func (m *Manager) Run(ctx context.Context, force bool, sel *Selector) error {
	if err := sel.Err(); err != nil {
		return fmt.Errorf("invalid selector: %w", err)
	}

	if !force {
		done, err := m.marker.HasRun()
		if err != nil {
			return err
		}
		if done {
			m.logger.Info("batch already run, skipping")
			m.metrics.RunFinished("skipped", m.now(), m.now())
			return nil
		}
	}

	m.reset(m.newRunID())
	m.force = force
	started := m.now()
	logger := m.logger.With("run_id", m.runID)
	logger.Info("batch started", "force", force, "selector", sel.String(), "sequence", len(m.sequence))

	err := m.runSequence(ctx, sel)

	rec := m.record(started, force, sel, err)
	if err == nil {
		if markErr := m.marker.MarkRun(rec); markErr != nil {
			err = fmt.Errorf("marking run: %w", markErr)
			rec.Error = err.Error()
		}
	}
	m.last = &rec

	if err != nil {
		logger.Error("batch failed", "error", err, "duration", rec.Duration())
		m.metrics.RunFinished("failure", rec.Started, rec.Finished)
		return err
	}
	logger.Info("batch completed", "steps", len(rec.Steps), "duration", rec.Duration())
	m.metrics.RunFinished("success", rec.Started, rec.Finished)
	return nil
}

func (m *Manager) runSequence(ctx context.Context, sel *Selector) error {
	for _, g := range m.sequence {
		step := Step{Group: g, Index: m.counters[g]}
		m.counters[g]++

		if err := ctx.Err(); err != nil {
			return err
		}
		if !sel.Matches(g, step.Index) {
			m.logger.Debug("step skipped by selector", "step", step.String())
			m.steps = append(m.steps, StepRecord{Step: step, State: Skipped})
			m.metrics.StepSkipped(g.String())
			continue
		}
		if _, ok := m.Result(g, step.Index); ok {
			return &StepError{Step: step, Err: fmt.Errorf("%w: result already stored", ErrExecutionOutOfOrder)}
		}
		if err := m.dispatch(ctx, step, false); err != nil {
			return err
		}
	}
	return nil
}

// Prerequisite makes sure (g, step) has a result in the current pass. It
// returns true if the result already existed. Otherwise the step is
// dispatched now, out of sequence, and Prerequisite returns false.
func (m *Manager) Prerequisite(ctx context.Context, g Group, step int) (bool, error) {
	if step < 0 {
		return false, fmt.Errorf("%w: %s step %d", ErrInvalidStep, g, step)
	}
	if _, ok := m.Result(g, step); ok {
		return true, nil
	}
	s := Step{Group: g, Index: step}
	if m.inProgress[s] {
		return false, &StepError{Step: s, Err: fmt.Errorf("%w: step requested itself as a prerequisite", task.ErrCircularDependency)}
	}
	m.logger.Debug("dispatching prerequisite step", "step", s.String())
	return false, m.dispatch(ctx, s, true)
}

func (m *Manager) dispatch(ctx context.Context, s Step, outOfSequence bool) error {
	h, ok := m.handlers[s.Group]
	if !ok {
		return &StepError{Step: s, Err: fmt.Errorf("%w: no handler", ErrUnknownGroup)}
	}

	logger := m.logger
	if m.hook != nil {
		logger = m.hook.LoggerForStep(m.logger, s.String())
	}
	logger = logger.With("step", s.String(), "run_id", m.runID)

	idx := len(m.steps)
	m.steps = append(m.steps, StepRecord{Step: s, State: Pending, OutOfSequence: outOfSequence})
	m.inProgress[s] = true
	m.metrics.StepDispatched(s.Group.String())

	line := statusreporter.NewStatusLine(s.String(), logger, m.statuses)
	ctx = statusreporter.WithStatusLine(withLogger(ctx, logger), line)

	logger.Info("step started")
	line.Set("running")
	var outcomes []task.Outcome
	err := statusreporter.RecordError(line, func() error {
		var herr error
		outcomes, herr = h.Handle(ctx, m, s.Index)
		return herr
	})
	delete(m.inProgress, s)

	m.steps[idx].Outcomes = outcomes
	if err != nil {
		m.steps[idx].State = Failed
		m.steps[idx].Error = err.Error()
		logger.Error("step failed", "error", err)
		var se *StepError
		if errors.As(err, &se) {
			return err
		}
		return &StepError{Step: s, Err: err}
	}

	if err := m.store(s, outcomes); err != nil {
		m.steps[idx].State = Failed
		m.steps[idx].Error = err.Error()
		return err
	}
	m.steps[idx].State = Completed
	for _, o := range outcomes {
		m.metrics.Outcome(o.Status.String())
	}
	line.Set("completed: " + task.Worst(outcomes).String())
	logger.Info("step completed", "outcomes", len(outcomes), "status", task.Worst(outcomes).String())
	return nil
}

// store writes the results table entry for s. An entry is written at most
// once per pass.
func (m *Manager) store(s Step, outcomes []task.Outcome) error {
	byStep, ok := m.results[s.Group]
	if !ok {
		byStep = make(map[int][]task.Outcome)
		m.results[s.Group] = byStep
	}
	if _, exists := byStep[s.Index]; exists {
		return &StepError{Step: s, Err: fmt.Errorf("%w: result already stored", ErrExecutionOutOfOrder)}
	}
	if outcomes == nil {
		outcomes = []task.Outcome{}
	}
	byStep[s.Index] = outcomes
	return nil
}

// Results returns a copy of the whole results table.
func (m *Manager) Results() map[Group]map[int][]task.Outcome {
	out := make(map[Group]map[int][]task.Outcome, len(m.results))
	for g, byStep := range m.results {
		out[g] = cloneSteps(byStep)
	}
	return out
}

// GroupResults returns every stored step of g. The boolean is false when no
// step of g has a result.
func (m *Manager) GroupResults(g Group) (map[int][]task.Outcome, bool) {
	byStep, ok := m.results[g]
	if !ok || len(byStep) == 0 {
		return nil, false
	}
	return cloneSteps(byStep), true
}

// Result returns the outcomes stored for (g, step). The boolean is false
// when nothing is stored, which is distinct from a stored empty list.
func (m *Manager) Result(g Group, step int) ([]task.Outcome, bool) {
	outcomes, ok := m.results[g][step]
	if !ok {
		return nil, false
	}
	return slices.Clone(outcomes), true
}

// LastRecord returns the record of the most recent pass, or false if no pass
// has run. Records are produced for failed passes too.
func (m *Manager) LastRecord() (Record, bool) {
	if m.last == nil {
		return Record{}, false
	}
	return *m.last, true
}

func (m *Manager) reset(runID string) {
	m.runID = runID
	m.force = false
	m.counters = make(map[Group]int)
	m.results = make(map[Group]map[int][]task.Outcome)
	m.inProgress = make(map[Step]bool)
	m.steps = nil
	if c, ok := m.hook.(interface{ Collector() *logging.LogCollector }); ok {
		c.Collector().Clear()
	}
	if m.statuses != nil && runID != "" {
		m.statuses.Clear()
	}
}

func (m *Manager) record(started time.Time, force bool, sel *Selector, err error) Record {
	rec := Record{
		RunID:    m.runID,
		Started:  started,
		Finished: m.now(),
		Forced:   force,
		Selector: sel.String(),
		Steps:    slices.Clone(m.steps),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if c, ok := m.hook.(interface{ Collector() *logging.LogCollector }); ok {
		for i := range rec.Steps {
			rec.Steps[i].Logs = c.Collector().GetLogs(rec.Steps[i].Step.String())
		}
	}
	return rec
}

func cloneSteps(byStep map[int][]task.Outcome) map[int][]task.Outcome {
	out := maps.Clone(byStep)
	for k, v := range out {
		out[k] = slices.Clone(v)
	}
	return out
}
