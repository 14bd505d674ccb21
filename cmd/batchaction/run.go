package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/buildinfo"
	"github.com/battis/batch-action/installer"
	"github.com/battis/batch-action/metrics"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass of the batch",
		Long: `Run one pass over the configured sequence.

Without --force nothing happens if a previous pass completed. --select
limits the pass to some steps, e.g. "Script:1,Database"; skipped steps still
count towards their group's step numbers.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	cmd.Flags().BoolP("force", "f", false, "Run even if a previous pass completed")
	cmd.Flags().StringP("select", "s", "", `Steps to run, e.g. "Script:1,Database" (default all)`)
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	spec, _ := cmd.Flags().GetString("select")
	sel, err := batch.ParseSelector(spec)
	if err != nil {
		return fmt.Errorf("invalid --select: %w", err)
	}

	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("batchaction started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", path,
	)

	var push *metrics.PushRegistry
	opts := []installer.Option{installer.WithLogger(logger.Logger)}
	if cfg.Monitoring.URL != "" {
		mcfg := cfg.Monitoring
		if mcfg.Instance == "" {
			if mcfg.Instance, err = os.Hostname(); err != nil {
				return fmt.Errorf("failed to get hostname: %w", err)
			}
		}
		push = metrics.NewPushRegistry(mcfg)
		opts = append(opts, installer.WithRegistry(push))
	}

	in, err := installer.New(cfg, opts...)
	if err != nil {
		return err
	}

	runErr := in.Pass(force, sel).Run(cmd.Context())

	if rec, ok := in.Manager.LastRecord(); ok {
		printRecord(cmd, rec)
	} else if runErr == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Already run; use --force to run again.")
	}

	if push != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 30*time.Second)
		defer cancel()
		if err := push.Push(ctx); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}
	return runErr
}

func printRecord(cmd *cobra.Command, rec batch.Record) {
	out := cmd.OutOrStdout()
	status := "completed"
	if !rec.Success() {
		status = "failed"
	}
	fmt.Fprintf(out, "Run %s %s in %s\n", rec.RunID, status, rec.Duration().Round(time.Millisecond))
	for _, s := range rec.Steps {
		fmt.Fprintf(out, "  %-12s %s\n", s.Step.String(), s.State)
		for _, o := range s.Outcomes {
			if o.IsAlreadyRun() {
				continue
			}
			fmt.Fprintf(out, "    [%s] %s: %s\n", o.Status, o.Task, o.Title)
		}
		if s.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", s.Error)
		}
	}
}
