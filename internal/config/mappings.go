package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/ledgersync/ledgersync/internal/worklog"
)

// Billable rule values.
const (
	// BillableAuto passes the source record's own billable flag through.
	BillableAuto = "auto"
	// BillableAlways marks every entry billable.
	BillableAlways = "always"
	// BillableNever marks no entry billable.
	BillableNever = "never"
)

// BillableRules decides the billable flag per project.
type BillableRules struct {
	// Default applies when no override matches. Empty means auto.
	Default string `yaml:"default"`

	// Overrides maps project keys to a rule value.
	Overrides map[string]string `yaml:"overrides"`
}

// Rules maps source issue attributes onto destination entry fields.
type Rules struct {
	// Projects maps source project keys (the prefix of an issue key,
	// "PROJ" for "PROJ-12") to destination project IDs. Unmapped
	// projects leave the entry without a project.
	Projects map[string]string `yaml:"projects"`

	Billable BillableRules `yaml:"billable"`
}

// Validate rejects unknown billable rule values.
func (r *Rules) Validate() error {
	check := func(where, value string) error {
		switch value {
		case "", BillableAuto, BillableAlways, BillableNever:
			return nil
		}
		return fmt.Errorf("invalid billable rule %q for %s (want auto, always, or never)", value, where)
	}
	if err := check("default", r.Billable.Default); err != nil {
		return err
	}
	for key, value := range r.Billable.Overrides {
		if err := check(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Project returns the destination project ID for an issue key, or empty
// when the project is unmapped.
func (r *Rules) Project(parentKey string) string {
	return r.Projects[projectKey(parentKey)]
}

// BillableFor applies the billable rules to a record.
func (r *Rules) BillableFor(rec worklog.Record) bool {
	switch r.billableRule(projectKey(rec.ParentKey)) {
	case BillableAlways:
		return true
	case BillableNever:
		return false
	default:
		return rec.Billable
	}
}

// billableRule resolves the effective rule for a project key.
func (r *Rules) billableRule(project string) string {
	if rule, ok := r.Billable.Overrides[project]; ok {
		return rule
	}
	if r.Billable.Default != "" {
		return r.Billable.Default
	}
	return BillableAuto
}

// projectKey extracts the project prefix from an issue key.
func projectKey(issueKey string) string {
	if i := strings.IndexByte(issueKey, '-'); i > 0 {
		return issueKey[:i]
	}
	return issueKey
}

// LoadRules reads and validates a mapping rules file. A missing file
// yields empty rules so a fresh install syncs with pass-through mapping.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Rules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping rules: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse mapping rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// RulesHolder is a swappable rules reference. The daemon replaces the
// rules on file change while the engine reads them mid-run.
type RulesHolder struct {
	current atomic.Pointer[Rules]
}

// NewRulesHolder wraps an initial rule set. Nil starts empty.
func NewRulesHolder(rules *Rules) *RulesHolder {
	h := &RulesHolder{}
	if rules == nil {
		rules = &Rules{}
	}
	h.current.Store(rules)
	return h
}

// Replace swaps in a new rule set.
func (h *RulesHolder) Replace(rules *Rules) {
	if rules == nil {
		rules = &Rules{}
	}
	h.current.Store(rules)
}

// Rules returns the current rule set.
func (h *RulesHolder) Rules() *Rules {
	return h.current.Load()
}

// Project implements the engine's field mapper against the current rules.
func (h *RulesHolder) Project(parentKey string) string {
	return h.Rules().Project(parentKey)
}

// Billable implements the engine's field mapper against the current rules.
func (h *RulesHolder) Billable(rec worklog.Record) bool {
	return h.Rules().BillableFor(rec)
}
