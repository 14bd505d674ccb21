package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/battis/batch-action/buildinfo"
	"github.com/battis/batch-action/history"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/schedule"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Schedule.Cron != "" {
				if _, err := schedule.ParseSpec(cfg.Schedule.Cron); err != nil {
					return fmt.Errorf("schedule.cron: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration validation successful: %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "batchaction %s\n", buildinfo.Get())
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded passes, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := history.NewStore(cfg.State.HistoryDir, cfg.State.MaxRecords, logging.Discard())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		rec, ok := store.Get(args[0])
		if !ok {
			return fmt.Errorf("no recorded run %q", args[0])
		}
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		printRecord(cmd, rec)
		return nil
	}

	records := store.List()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tDURATION\tFORCED\tSELECTOR\tRESULT")
	for _, rec := range records {
		result := "ok"
		if !rec.Success() {
			result = rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.RunID,
			rec.Started.Format(time.RFC3339),
			rec.Duration().Round(time.Millisecond),
			rec.Forced,
			rec.Selector,
			result,
		)
	}
	return w.Flush()
}
