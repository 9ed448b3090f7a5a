package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ledgersync/ledgersync/internal/config"
	"github.com/ledgersync/ledgersync/internal/engine"
	"github.com/ledgersync/ledgersync/internal/history"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

var (
	syncDays   int
	syncDryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation and exit",
	Long: `Run a single reconciliation over the configured worklog window.

This fetches worklogs from Tempo, compares them against the local
fingerprint store, and applies the necessary creates, updates, and
deletes in Solidtime. The outcome is recorded in the run history.

Use --dry-run to see what would change without touching Solidtime or the
fingerprint store:

  ledgersync sync --dry-run
  ledgersync sync --days 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		rules, err := loadRulesHolder(cfg)
		if err != nil {
			return err
		}

		out := logWriter(cfg)
		eng := buildEngine(cfg, rules, out, syncDryRun)

		days := syncDays
		if days <= 0 {
			days = cfg.Sync.WindowDays
		}
		end := time.Now()
		start := end.AddDate(0, 0, -days)

		outcome, runErr := eng.Reconcile(cmd.Context(), start, end)

		// Record even failed runs so the history tells the whole story.
		if outcome != nil && !syncDryRun {
			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open history: %v\n", err)
			} else {
				if _, err := store.RecordRun(context.Background(), outcome); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to record run: %v\n", err)
				}
				_ = store.Close()
			}
		}

		if outcome != nil {
			printOutcome(outcome)
		}
		return runErr
	},
}

func printOutcome(outcome *engine.RunOutcome) {
	if outcome.DryRun {
		headerColor.Println("Dry run (no changes applied)")
	}

	fmt.Printf("%s  created %s, updated %s, deleted %s, skipped %d, failed %s  (%s)\n",
		statusLabel(outcome),
		goodColor.Sprintf("%d", outcome.Created),
		goodColor.Sprintf("%d", outcome.Updated),
		warnColor.Sprintf("%d", outcome.Deleted),
		outcome.Skipped,
		failedLabel(outcome.Failed),
		outcome.Duration.Round(time.Millisecond))

	if outcome.Error != "" {
		badColor.Printf("Error: %s\n", outcome.Error)
	}

	for _, action := range outcome.Actions {
		if action.Kind == engine.ActionSkipped {
			continue
		}
		fmt.Printf("  %-10s %-12s %s\n", action.Kind, action.SourceID, action.Detail)
	}
}

func statusLabel(outcome *engine.RunOutcome) string {
	if outcome.Success {
		return goodColor.Sprint("OK")
	}
	return badColor.Sprint("FAILED")
}

func failedLabel(failed int) string {
	if failed > 0 {
		return badColor.Sprintf("%d", failed)
	}
	return "0"
}

func init() {
	syncCmd.Flags().IntVar(&syncDays, "days", 0, "Worklog window in days (default: sync.window_days from config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Report changes without applying them")
	rootCmd.AddCommand(syncCmd)
}
