package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledgersync/ledgersync/internal/config"
	"github.com/ledgersync/ledgersync/internal/daemon"
	"github.com/ledgersync/ledgersync/internal/dashboard"
	"github.com/ledgersync/ledgersync/internal/engine"
	"github.com/ledgersync/ledgersync/internal/history"
)

var daemonNoDashboard bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous reconciliation with a live dashboard",
	Long: `Run ledgersync as a long-lived daemon.

The daemon reconciles on a fixed interval (sync.interval), records every
run in the history database, and hot-reloads the mapping rules file when
it changes. A dashboard server exposes:

  GET  /api/runs    recent run history
  GET  /api/stats   aggregate statistics
  POST /api/sync    trigger an immediate run
  GET  /health      daemon health
  ws://.../ws       live run events

Example usage:
  ledgersync daemon
  ledgersync daemon --no-dashboard`,
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
		eng := buildEngine(cfg, rules, out, false)

		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		var server *dashboard.Server

		daemonCfg := daemon.DefaultConfig()
		daemonCfg.Interval = cfg.Sync.Interval
		daemonCfg.WindowDays = cfg.Sync.WindowDays
		daemonCfg.Logger = log.New(out, "[daemon] ", log.LstdFlags)
		daemonCfg.OnRun = func(outcome *engine.RunOutcome) {
			if server != nil {
				server.BroadcastRun(outcome)
			}
		}

		d, err := daemon.New(eng, store, rules, cfg.MappingsPath, daemonCfg)
		if err != nil {
			return err
		}

		if !daemonNoDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Addr:    cfg.DashboardAddr,
				Trigger: d,
				Runs:    store,
				Logger:  log.New(out, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			fmt.Printf("Dashboard: http://%s\n", server.Addr())
		}

		fmt.Printf("Syncing every %s, window %d days. Press Ctrl+C to stop.\n",
			cfg.Sync.Interval, cfg.Sync.WindowDays)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		err = d.Start(ctx)

		if server != nil {
			if stopErr := server.Stop(); stopErr != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", stopErr)
			}
		}
		return err
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoDashboard, "no-dashboard", false, "Disable the dashboard server")
	rootCmd.AddCommand(daemonCmd)
}
