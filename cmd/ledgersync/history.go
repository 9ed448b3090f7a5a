package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgersync/ledgersync/internal/config"
	"github.com/ledgersync/ledgersync/internal/history"
)

var (
	historyLimit     int
	historyPruneDays int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded reconciliation runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.LastRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		for _, run := range runs {
			status := goodColor.Sprint("ok")
			if !run.Success {
				status = badColor.Sprint("failed")
			}
			label := ""
			if run.DryRun {
				label = " (dry-run)"
			}
			fmt.Printf("%s  %-6s  +%d ~%d -%d =%d !%d  %s%s\n",
				run.Timestamp.Local().Format("2006-01-02 15:04:05"),
				status,
				run.Created, run.Updated, run.Deleted, run.Skipped, run.Failed,
				run.Duration.Round(time.Millisecond), label)
			if run.Error != "" {
				badColor.Printf("    %s\n", run.Error)
			}
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over all recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		headerColor.Println("Run history")
		fmt.Printf("  Total runs:    %d (%s ok, %s failed)\n",
			stats.TotalRuns,
			goodColor.Sprintf("%d", stats.Successful),
			badColor.Sprintf("%d", stats.Failed))
		fmt.Printf("  Entries:       %d created, %d updated, %d deleted\n",
			stats.TotalCreated, stats.TotalUpdated, stats.TotalDeleted)
		fmt.Printf("  Avg duration:  %s\n", stats.AvgDuration.Round(time.Millisecond))
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.Prune(cmd.Context(), time.Duration(historyPruneDays)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d runs older than %d days.\n", removed, historyPruneDays)
		return nil
	},
}

func openHistory() (*history.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.HistoryPath)
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	historyPruneCmd.Flags().IntVar(&historyPruneDays, "days", 90, "Retention period in days")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
