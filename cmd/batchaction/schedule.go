package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/battis/batch-action/installer"
	"github.com/battis/batch-action/metrics"
	"github.com/battis/batch-action/schedule"
	"github.com/battis/batch-action/server"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the batch on a cron schedule",
		Long: `Run a non-forced pass at startup and then on the configured cron
schedule, so the batch is installed again whenever its marker disappears.
With --listen, an HTTP control API is served alongside the schedule:
status, run history, on-demand passes and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}
	cmd.Flags().String("cron", "", "Cron schedule (overrides schedule.cron)")
	cmd.Flags().String("listen", "", "HTTP listen address (overrides schedule.listen)")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("cron"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Schedule.Listen = v
	}
	if cfg.Schedule.Cron == "" {
		return fmt.Errorf("a cron schedule is required (schedule.cron or --cron)")
	}

	logger, err := newLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	reg, err := metrics.NewScrapeRegistry()
	if err != nil {
		return err
	}
	in, err := installer.New(cfg, installer.WithLogger(logger.Logger), installer.WithRegistry(reg))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.Schedule.Listen != "" {
		srv, err := server.New(in,
			server.WithLogger(logger.Logger),
			server.WithCron(cfg.Schedule.Cron),
			server.WithListenAddr(cfg.Schedule.Listen),
			server.WithMetricsHandler(reg.Handler()),
			server.WithRunAtStart(),
		)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	runner := schedule.NewRunner(in.Manager, in.History, logger.Logger)
	trigger, err := schedule.NewTrigger(cfg.Schedule.Cron, runner.Scheduled(), logger.Logger)
	if err != nil {
		return err
	}
	if err := runner.Run(ctx, false, nil); err != nil {
		logger.Warn("initial run failed", "error", err)
	}

	logger.Info("schedule started", "cron", trigger.Spec(), "next_run", trigger.NextRun())
	trigger.Loop(ctx)
	return nil
}
