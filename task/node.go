package task

import (
	"context"
	"log/slog"
	"slices"

	"github.com/battis/batch-action/sandbox"
)

// Action is the work a Node performs once its prerequisites are satisfied.
//
// IMPLEMENTATION CONTRACT:
// - Act receives the run's sandbox and may read or write any path in it
// - Return an Outcome whose Success flag says whether the work completed
// - Return an error for failures that should abort the run
type Action interface {
	Act(ctx context.Context, sb *sandbox.Sandbox) (Outcome, error)
}

// SandboxTester is implemented by actions that need specific sandbox
// contents before they can act. Actions that do not implement it always pass.
type SandboxTester interface {
	TestSandbox(sb *sandbox.Sandbox) bool
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, sb *sandbox.Sandbox) (Outcome, error)

// Act calls f(ctx, sb).
func (f ActionFunc) Act(ctx context.Context, sb *sandbox.Sandbox) (Outcome, error) {
	return f(ctx, sb)
}

// Node is a dependency-aware unit of work.
//
// A Node runs at most once per run identifier. Prerequisites are run first,
// recursively; a Node that is reached again while it is still waiting on its
// own prerequisites has found a cycle and fails with ErrCircularDependency.
//
// Nodes are not safe for concurrent use.
type Node struct {
	name          string
	action        Action
	prerequisites []*Node
	tags          []string
	logger        *slog.Logger

	acting  bool
	acted   bool
	history []string
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithPrerequisites adds prerequisite nodes.
func WithPrerequisites(nodes ...*Node) NodeOption {
	return func(n *Node) {
		n.AddPrerequisites(nodes...)
	}
}

// WithTags adds tags used for filtering.
func WithTags(tags ...string) NodeOption {
	return func(n *Node) {
		n.AddTags(tags...)
	}
}

// WithNodeLogger sets the logger used while the node runs.
func WithNodeLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		n.logger = logger
	}
}

// NewNode creates a node named name that performs action.
func NewNode(name string, action Action, opts ...NodeOption) *Node {
	n := &Node{
		name:   name,
		action: action,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("task", name)
	return n
}

// Name returns the node's name.
func (n *Node) Name() string {
	return n.name
}

// Action returns the node's action.
func (n *Node) Action() Action {
	return n.action
}

// AddPrerequisite adds p once. It returns false if p was already present.
func (n *Node) AddPrerequisite(p *Node) bool {
	if p == nil || slices.Contains(n.prerequisites, p) {
		return false
	}
	n.prerequisites = append(n.prerequisites, p)
	return true
}

// AddPrerequisites adds each node, returning true only if all were added.
func (n *Node) AddPrerequisites(nodes ...*Node) bool {
	all := true
	for _, p := range nodes {
		all = n.AddPrerequisite(p) && all
	}
	return all
}

// RemovePrerequisite removes p. It returns false if p was not present.
func (n *Node) RemovePrerequisite(p *Node) bool {
	i := slices.Index(n.prerequisites, p)
	if i < 0 {
		return false
	}
	n.prerequisites = slices.Delete(n.prerequisites, i, i+1)
	return true
}

// Prerequisites returns the prerequisites in insertion order.
func (n *Node) Prerequisites() []*Node {
	return slices.Clone(n.prerequisites)
}

// AddTag adds tag once. It returns false if the tag was already present.
func (n *Node) AddTag(tag string) bool {
	if slices.Contains(n.tags, tag) {
		return false
	}
	n.tags = append(n.tags, tag)
	return true
}

// AddTags adds each tag, returning true only if all were added.
func (n *Node) AddTags(tags ...string) bool {
	all := true
	for _, t := range tags {
		all = n.AddTag(t) && all
	}
	return all
}

// RemoveTag removes tag. It returns false if the tag was not present.
func (n *Node) RemoveTag(tag string) bool {
	i := slices.Index(n.tags, tag)
	if i < 0 {
		return false
	}
	n.tags = slices.Delete(n.tags, i, i+1)
	return true
}

// HasTag reports whether the node carries tag.
func (n *Node) HasTag(tag string) bool {
	return slices.Contains(n.tags, tag)
}

// Tags returns the node's tags.
func (n *Node) Tags() []string {
	return slices.Clone(n.tags)
}

// IsActing reports whether the node is mid-execution, waiting on a
// prerequisite.
func (n *Node) IsActing() bool {
	return n.acting
}

// HasActed reports whether the node has completed. With an empty runID it
// reports whether the node ever completed; otherwise whether it completed
// during that run.
func (n *Node) HasActed(runID string) bool {
	if runID == "" {
		return n.acted
	}
	return slices.Contains(n.history, runID)
}

// History returns the run identifiers in which the node completed.
func (n *Node) History() []string {
	return slices.Clone(n.history)
}

// Run executes the node's prerequisites and then its action.
//
// Without force, a node that ever completed is not run again. With force, it
// is run again once per distinct runID. Either way a skipped node returns a
// single AlreadyRun outcome and touches nothing.
//
// On success Run returns the outcomes of every prerequisite it ran followed
// by the node's own outcome.
func (n *Node) Run(ctx context.Context, sb *sandbox.Sandbox, runID string, force bool) ([]Outcome, error) {
	if (!force && n.HasActed("")) || (force && n.HasActed(runID)) {
		n.logger.Debug("task already run", "run_id", runID, "force", force)
		return []Outcome{AlreadyRun(n.name)}, nil
	}

	if n.acting {
		n.logger.Error("circular prerequisite dependency detected", "run_id", runID)
		return nil, Errorf(ErrCircularDependency, n.name, "task was reached again while waiting on its prerequisites")
	}

	n.acting = true
	defer func() { n.acting = false }()

	outcomes, err := n.runPrerequisites(ctx, sb, runID, force)
	if err != nil {
		return nil, err
	}

	if tester, ok := n.action.(SandboxTester); ok && !tester.TestSandbox(sb) {
		n.logger.Error("sandbox check failed")
		return nil, Errorf(ErrFailedPrerequisite, n.name, "required sandbox configuration is missing or incomplete")
	}

	n.logger.Debug("running task", "run_id", runID)
	outcome, err := n.action.Act(ctx, sb)
	if err != nil {
		n.logger.Error("task failed", "error", err)
		return nil, Wrap(ErrActionFailed, n.name, err, "failed to act")
	}
	if !outcome.Completed() {
		n.logger.Error("task did not complete", "title", outcome.Title, "detail", outcome.Detail)
		return nil, Errorf(ErrActionFailed, n.name, "failed to act: %s", outcome.Title)
	}

	n.acted = true
	n.history = append(n.history, runID)
	n.logger.Info("task completed", "run_id", runID, "status", outcome.Status.String())

	return append(outcomes, outcome), nil
}

func (n *Node) runPrerequisites(ctx context.Context, sb *sandbox.Sandbox, runID string, force bool) ([]Outcome, error) {
	var outcomes []Outcome
	for _, p := range n.prerequisites {
		if !force && p.HasActed(runID) {
			continue
		}
		n.logger.Debug("running prerequisite", "prerequisite", p.name)
		res, err := p.Run(ctx, sb, runID, force)
		if err != nil {
			return nil, Wrap(ErrFailedPrerequisite, n.name, err, "prerequisite %s failed", p.name)
		}
		outcomes = append(outcomes, res...)
	}
	return outcomes, nil
}
