// Package config loads ledgersync settings and mapping rules.
//
// Settings come from a YAML config file with environment overrides
// (LEDGERSYNC_ prefix, dots become underscores). Mapping rules live in a
// separate file so they can be hot-reloaded without restarting the
// daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when the config file leaves settings unset.
const (
	DefaultStorePath    = "worklog_mappings.json"
	DefaultHistoryPath  = "sync_history.db"
	DefaultMappingsPath = "mappings.yaml"
	DefaultSyncInterval = 15 * time.Minute
	DefaultWindowDays   = 14
	DefaultVerifyWindow = 24 * time.Hour
	DefaultDashboard    = "localhost:8990"
)

// JiraConfig authenticates metadata lookups.
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
}

// TempoConfig authenticates worklog retrieval.
type TempoConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIToken string `mapstructure:"api_token"`
}

// SolidtimeConfig authenticates time-entry management.
type SolidtimeConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIToken       string `mapstructure:"api_token"`
	OrganizationID string `mapstructure:"organization_id"`
	MemberID       string `mapstructure:"member_id"`
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	// Interval between daemon runs.
	Interval time.Duration `mapstructure:"interval"`

	// WindowDays is how far back each run looks for worklogs.
	WindowDays int `mapstructure:"window_days"`

	// VerifyWindow is the maximum fingerprint verification age.
	VerifyWindow time.Duration `mapstructure:"verify_window"`
}

// LogConfig controls the rotating log file. An empty File logs to stderr
// only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full ledgersync configuration.
type Config struct {
	Jira      JiraConfig      `mapstructure:"jira"`
	Tempo     TempoConfig     `mapstructure:"tempo"`
	Solidtime SolidtimeConfig `mapstructure:"solidtime"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`

	// StorePath is the fingerprint store file.
	StorePath string `mapstructure:"store_path"`

	// HistoryPath is the run history database.
	HistoryPath string `mapstructure:"history_path"`

	// MappingsPath is the mapping rules file.
	MappingsPath string `mapstructure:"mappings_path"`

	// DashboardAddr is the daemon dashboard listen address.
	DashboardAddr string `mapstructure:"dashboard_addr"`
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path searches the working directory for
// ledgersync.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("tempo.base_url", "https://api.tempo.io/4")
	v.SetDefault("sync.interval", DefaultSyncInterval)
	v.SetDefault("sync.window_days", DefaultWindowDays)
	v.SetDefault("sync.verify_window", DefaultVerifyWindow)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("store_path", DefaultStorePath)
	v.SetDefault("history_path", DefaultHistoryPath)
	v.SetDefault("mappings_path", DefaultMappingsPath)
	v.SetDefault("dashboard_addr", DefaultDashboard)

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ledgersync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine when everything comes from the
		// environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Jira.BaseURL == "" {
		missing = append(missing, "jira.base_url")
	}
	if c.Jira.Email == "" {
		missing = append(missing, "jira.email")
	}
	if c.Jira.APIToken == "" {
		missing = append(missing, "jira.api_token")
	}
	if c.Tempo.APIToken == "" {
		missing = append(missing, "tempo.api_token")
	}
	if c.Solidtime.BaseURL == "" {
		missing = append(missing, "solidtime.base_url")
	}
	if c.Solidtime.APIToken == "" {
		missing = append(missing, "solidtime.api_token")
	}
	if c.Solidtime.OrganizationID == "" {
		missing = append(missing, "solidtime.organization_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Sync.WindowDays <= 0 {
		return fmt.Errorf("sync.window_days must be positive, got %d", c.Sync.WindowDays)
	}
	return nil
}
