// Package installer turns a configuration file into a ready-to-run batch.
//
// Every configured XML source becomes a config node. Each database, files
// and scripts entry becomes a task node that depends on all config nodes
// and is placed in the step of its group named by the entry. The Manager
// gets one handler per group, which satisfies the step's declared
// requirements with Manager.Prerequisite and then runs the step's nodes.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/config"
	"github.com/battis/batch-action/history"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/metrics"
	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/schedule"
	"github.com/battis/batch-action/statusreporter"
	"github.com/battis/batch-action/task"
	"github.com/battis/batch-action/tasks"
)

// Installer holds the composed batch.
type Installer struct {
	Manager   *batch.Manager
	Sandbox   *sandbox.Sandbox
	History   *history.Store
	Collector *logging.LogCollector
	Status    *statusreporter.StatusCollection

	config []*task.Node
	nodes  map[batch.Group][]placed
	logger *slog.Logger
}

type placed struct {
	node     *task.Node
	step     int
	requires []batch.Step
}

type options struct {
	logger     *slog.Logger
	registry   metrics.Registry
	opener     tasks.Opener
	bcryptCost int
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger for the manager and every node.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers batch metrics with reg.
func WithRegistry(reg metrics.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithOpener replaces the MySQL opener of every schema import.
func WithOpener(open tasks.Opener) Option {
	return func(o *options) {
		o.opener = open
	}
}

// WithBcryptCost sets the bcrypt cost of every protected directory.
func WithBcryptCost(cost int) Option {
	return func(o *options) {
		o.bcryptCost = cost
	}
}

// New builds the sandbox, nodes, history store and Manager described by cfg.
// cfg is expected to have been through SetDefaults and Validate.
func New(cfg config.Config, opts ...Option) (*Installer, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := history.NewStore(cfg.State.HistoryDir, cfg.State.MaxRecords, o.logger)
	if err != nil {
		return nil, err
	}

	in := &Installer{
		Sandbox:   sandbox.FromMap(maps.Clone(cfg.Sandbox)),
		History:   store,
		Collector: logging.NewLogCollector(),
		Status:    statusreporter.NewStatusCollection(),
		nodes:     make(map[batch.Group][]placed),
		logger:    o.logger.With("component", "installer"),
	}

	if err := in.buildConfigNodes(cfg.ConfigXML, o); err != nil {
		return nil, err
	}
	if err := in.buildDatabaseNodes(cfg.Database, o); err != nil {
		return nil, err
	}
	if err := in.buildFilesNodes(cfg.Files, o); err != nil {
		return nil, err
	}
	if err := in.buildScriptNodes(cfg.Scripts, o); err != nil {
		return nil, err
	}

	var marker batch.Marker = store
	if cfg.State.Marker != "" {
		marker = fileMarker{FileMarker: batch.FileMarker{Path: cfg.State.Marker}, store: store}
	}

	mopts := []batch.Option{
		batch.WithSequence(cfg.Sequence...),
		batch.WithMarker(marker),
		batch.WithLogger(o.logger),
		batch.WithLoggerHook(logging.NewCapturingLoggerHook(in.Collector)),
		batch.WithStatusCollection(in.Status),
		batch.WithRegistry(o.registry),
	}
	for _, g := range batch.Groups() {
		mopts = append(mopts, batch.WithHandler(g, in.handler(g, cfg.Occurrences(g))))
	}
	m, err := batch.NewManager(mopts...)
	if err != nil {
		return nil, err
	}
	in.Manager = m

	in.logger.Debug("batch composed",
		"config_nodes", len(in.config),
		"database_nodes", len(in.nodes[batch.Database]),
		"files_nodes", len(in.nodes[batch.Files]),
		"script_nodes", len(in.nodes[batch.Script]),
	)
	return in, nil
}

// ConfigNodes returns the XML import nodes.
func (in *Installer) ConfigNodes() []*task.Node {
	return in.config
}

// Nodes returns the nodes of group g, in configuration order.
func (in *Installer) Nodes(g batch.Group) []*task.Node {
	out := make([]*task.Node, 0, len(in.nodes[g]))
	for _, p := range in.nodes[g] {
		out = append(out, p.node)
	}
	return out
}

// Pass returns a schedule.Pass that runs the Manager and saves failed
// passes to the history.
func (in *Installer) Pass(force bool, sel *batch.Selector) *schedule.Pass {
	return &schedule.Pass{
		Manager:  in.Manager,
		Force:    force,
		Selector: sel,
		Recorder: in.History,
		Logger:   in.logger,
	}
}

func (in *Installer) buildConfigNodes(sources []string, o options) error {
	for i, src := range sources {
		action, err := tasks.NewImportConfigXML(src)
		if err != nil {
			return fmt.Errorf("config_xml[%d]: %w", i, err)
		}
		name := "config:" + filepath.Base(src)
		in.config = append(in.config, task.NewNode(name, action,
			task.WithTags("config"),
			task.WithNodeLogger(o.logger),
		))
	}
	return nil
}

func (in *Installer) buildDatabaseNodes(entries []config.DatabaseConfig, o options) error {
	for i, e := range entries {
		src, err := connectionSource(e)
		if err != nil {
			return fmt.Errorf("database[%d]: %w", i, err)
		}
		sopts := []tasks.ImportSchemaOption{tasks.WithSchemaLogger(o.logger)}
		if o.opener != nil {
			sopts = append(sopts, tasks.WithOpener(o.opener))
		}
		action, err := tasks.NewImportSchemaFrom(src, e.Schema, sopts...)
		if err != nil {
			return fmt.Errorf("database[%d]: %w", i, err)
		}
		if err := in.place(batch.Database, i, e.Name, e.StepConfig, action, o); err != nil {
			return err
		}
	}
	return nil
}

func connectionSource(e config.DatabaseConfig) (tasks.ConnectionSource, error) {
	switch {
	case e.XPath != nil:
		return tasks.NewXPathValue(e.XPath.Document, e.XPath.Query, nil)
	case e.Path != "":
		v, err := sandbox.FromPath[[]any](e.Path)
		if err != nil {
			return nil, err
		}
		return v, nil
	case len(e.Connection) > 0:
		c := make(map[string]any, len(e.Connection))
		for k, v := range e.Connection {
			c[k] = v
		}
		return sandbox.Literal([]any{c}), nil
	default:
		return nil, fmt.Errorf("%w: no connection source", task.ErrParameterMismatch)
	}
}

func (in *Installer) buildFilesNodes(entries []config.FilesConfig, o options) error {
	for i, e := range entries {
		popts := []tasks.ProtectDirectoryOption{}
		if e.Htpasswd != "" {
			popts = append(popts, tasks.WithHtpasswdPath(e.Htpasswd))
		}
		if e.AuthName != "" {
			popts = append(popts, tasks.WithAuthName(e.AuthName))
		}
		if o.bcryptCost != 0 {
			popts = append(popts, tasks.WithBcryptCost(o.bcryptCost))
		}
		action, err := tasks.NewProtectDirectory(e.Dir, e.Users, popts...)
		if err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
		if err := in.place(batch.Files, i, e.Name, e.StepConfig, action, o); err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) buildScriptNodes(entries []config.ScriptConfig, o options) error {
	for i, e := range entries {
		var eopts []tasks.ExportOption
		if e.Query != "" {
			eopts = append(eopts, tasks.WithQuery(e.Query))
		}
		if e.Output != "" {
			eopts = append(eopts, tasks.WithOutputFile(e.Output))
		}
		action, err := tasks.NewExport(e.Path, eopts...)
		if err != nil {
			return fmt.Errorf("scripts[%d]: %w", i, err)
		}
		if err := in.place(batch.Script, i, e.Name, e.StepConfig, action, o); err != nil {
			return err
		}
	}
	return nil
}

// place wraps action in a node that depends on every config node.
func (in *Installer) place(g batch.Group, i int, name string, sc config.StepConfig, action task.Action, o options) error {
	if name == "" {
		name = fmt.Sprintf("%s[%d]", g, i)
	}
	requires := make([]batch.Step, 0, len(sc.Requires))
	for _, r := range sc.Requires {
		s, err := batch.ParseStep(r)
		if err != nil {
			return fmt.Errorf("%s: requires: %w", name, err)
		}
		requires = append(requires, s)
	}

	node := task.NewNode(name, action,
		task.WithPrerequisites(in.config...),
		task.WithTags(g.String()),
		task.WithNodeLogger(o.logger),
	)
	in.nodes[g] = append(in.nodes[g], placed{node: node, step: sc.Step, requires: requires})
	return nil
}

// handler builds the group's handler: one entry per occurrence of g in the
// sequence. A group outside the sequence still gets a handler so that a
// Prerequisite on it fails with batch.ErrInvalidStep.
func (in *Installer) handler(g batch.Group, steps int) batch.Handler {
	handlers := make([]batch.Handler, steps)
	for step := range steps {
		var (
			nodes    []*task.Node
			requires []batch.Step
		)
		for _, p := range in.nodes[g] {
			if p.step == step {
				nodes = append(nodes, p.node)
				requires = append(requires, p.requires...)
			}
		}
		handlers[step] = stepHandler(in.Sandbox, g, requires, nodes)
	}
	return batch.PerStep(handlers...)
}

// stepHandler runs the nodes tagged with the group's name.
func stepHandler(sb *sandbox.Sandbox, g batch.Group, requires []batch.Step, nodes []*task.Node) batch.Handler {
	run := batch.Nodes(sb, task.Tagged(g.String()), nodes...)
	return batch.HandlerFunc(func(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
		logger := batch.LoggerFrom(ctx)
		line := statusreporter.FromContext(ctx)
		for _, r := range requires {
			line.Set("waiting for " + r.String())
			ran, err := m.Prerequisite(ctx, r.Group, r.Index)
			if err != nil {
				return nil, fmt.Errorf("requirement %s: %w", r, err)
			}
			logger.Debug("requirement satisfied", "requires", r.String(), "already_ran", ran)
		}
		return run.Handle(ctx, m, step)
	})
}

// fileMarker keeps history of successful passes alongside a marker file.
type fileMarker struct {
	batch.FileMarker
	store *history.Store
}

func (f fileMarker) MarkRun(rec batch.Record) error {
	if err := f.store.Save(rec); err != nil {
		return err
	}
	return f.FileMarker.MarkRun(rec)
}
