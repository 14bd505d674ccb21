package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/battis/batch-action/config"
	"github.com/battis/batch-action/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "batchaction",
		Short: "Run an installation batch once",
		Long: `batchaction runs a fixed sequence of Database, Files and Script steps.

Each step runs dependency-aware tasks: configuration XML is imported first,
then schemas are loaded, directories are protected and values exported. A
completed pass is recorded and later passes do nothing unless forced.

Examples:
  # Install, unless a previous pass already completed
  batchaction run -c batch.yaml

  # Re-run only the second Script step
  batchaction run -c batch.yaml --force --select Script:1

  # Re-install whenever the marker disappears
  batchaction schedule -c batch.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to config file")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newHistoryCmd(),
		newScheduleCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, "", err
	}
	if path == "" {
		return config.Config{}, "", fmt.Errorf("config flag (-c or --config) is required")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.Config{}, path, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the logger described by cfg. Output "stderr" is sent to
// the command's error stream so tests can capture it.
func newLogger(cmd *cobra.Command, cfg logging.Config) (*logging.Logger, error) {
	if cfg.Output == "" || cfg.Output == "stderr" {
		return logging.NewWithWriter(cfg, cmd.ErrOrStderr())
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
