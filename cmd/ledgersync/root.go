package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ledgersync/ledgersync/internal/config"
	"github.com/ledgersync/ledgersync/internal/engine"
	"github.com/ledgersync/ledgersync/internal/fingerprint"
	"github.com/ledgersync/ledgersync/internal/solidtime"
	"github.com/ledgersync/ledgersync/internal/tempo"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Synchronize Tempo worklogs into Solidtime time entries",
	Long: `ledgersync mirrors a Tempo worklog ledger into a Solidtime organization.

Each run fetches worklogs for a rolling window, compares them against a
local fingerprint store, and creates, updates, or deletes Solidtime time
entries until the destination matches the source. Entries deleted by hand
in Solidtime are recreated; worklogs deleted in Tempo are cleaned up.

Configuration lives in ledgersync.yaml (see --config), with LEDGERSYNC_*
environment variable overrides for secrets. Project and billable mapping
rules live in a separate mappings.yaml that the daemon hot-reloads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./ledgersync.yaml)")
}

// logWriter returns the destination for all loggers: stderr, plus a
// rotating file when one is configured.
func logWriter(cfg *config.Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	})
}

func newLogger(cfg *config.Config, prefix string) *log.Logger {
	return log.New(logWriter(cfg), prefix, log.LstdFlags)
}

// buildEngine wires the full reconciliation stack from config.
func buildEngine(cfg *config.Config, rules *config.RulesHolder, out io.Writer, dryRun bool) *engine.Engine {
	source := tempo.NewClient(tempo.ClientConfig{
		BaseURL:     cfg.Tempo.BaseURL,
		Token:       cfg.Tempo.APIToken,
		JiraBaseURL: cfg.Jira.BaseURL,
		JiraEmail:   cfg.Jira.Email,
		JiraToken:   cfg.Jira.APIToken,
		Logger:      log.New(out, "[tempo] ", log.LstdFlags),
	})

	dest := solidtime.NewClient(solidtime.ClientConfig{
		BaseURL:        cfg.Solidtime.BaseURL,
		Token:          cfg.Solidtime.APIToken,
		OrganizationID: cfg.Solidtime.OrganizationID,
		MemberID:       cfg.Solidtime.MemberID,
		Logger:         log.New(out, "[solidtime] ", log.LstdFlags),
	})

	store := fingerprint.NewFileStore(cfg.StorePath, log.New(out, "[fingerprint] ", log.LstdFlags))

	engineCfg := engine.DefaultConfig()
	engineCfg.VerifyWindow = cfg.Sync.VerifyWindow
	engineCfg.DryRun = dryRun
	engineCfg.Mapper = rules
	engineCfg.Logger = log.New(out, "[engine] ", log.LstdFlags)

	return engine.New(source, dest, store, engineCfg)
}

// loadRulesHolder loads the mapping rules file into a swappable holder.
func loadRulesHolder(cfg *config.Config) (*config.RulesHolder, error) {
	rules, err := config.LoadRules(cfg.MappingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping rules: %w", err)
	}
	return config.NewRulesHolder(rules), nil
}
