package schedule

import (
	"context"
	"log/slog"

	"github.com/battis/batch-action/batch"
)

// Recorder stores pass records. *history.Store satisfies it.
type Recorder interface {
	Save(rec batch.Record) error
}

// Pass runs one batch pass. Successful passes reach the history through the
// Manager's marker; a Pass saves failed ones to Recorder so they show up too.
type Pass struct {
	Manager  *batch.Manager
	Force    bool
	Selector *batch.Selector
	Recorder Recorder
	Logger   *slog.Logger
}

// Run calls Manager.Run and records a failed pass.
func (p *Pass) Run(ctx context.Context) error {
	before := p.Manager.RunID()
	err := p.Manager.Run(ctx, p.Force, p.Selector)

	rec, ok := p.Manager.LastRecord()
	if !ok || rec.RunID == before || rec.Success() || p.Recorder == nil {
		return err
	}
	if saveErr := p.Recorder.Save(rec); saveErr != nil {
		p.logger().Warn("failed to save failed run", "run_id", rec.RunID, "error", saveErr)
	}
	return err
}

func (p *Pass) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
