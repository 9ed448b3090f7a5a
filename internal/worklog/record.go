// Package worklog defines the domain types shared by the reconciliation
// engine and the ledger adapters.
//
// A Record is a work item as observed in the source ledger. An Entry is the
// destination-facing shape of the same work item after enrichment and field
// mapping. Both are plain value types; validation happens once at the
// boundary, so everything downstream can assume well-formed data.
package worklog

import (
	"fmt"
	"time"
)

// Record is a single logged unit of work observed in the source ledger.
//
// SourceID is the stable identity of the record in the source system and is
// the key the reconciliation engine tracks fingerprints under. Records are
// read-only inputs: the engine never writes back to the source ledger.
type Record struct {
	// SourceID uniquely identifies the record in the source system.
	SourceID string `json:"source_id"`

	// ParentKey identifies the issue/ticket the work was logged against.
	ParentKey string `json:"parent_key"`

	// DurationSeconds is the logged duration. Never negative.
	DurationSeconds int `json:"duration_seconds"`

	// StartedAt is the absolute start timestamp of the work.
	StartedAt time.Time `json:"started_at"`

	// RawComment is the free-form comment attached at logging time.
	// May be empty.
	RawComment string `json:"raw_comment,omitempty"`

	// Billable indicates whether the source system marked this work billable.
	Billable bool `json:"billable"`
}

// ValidationError describes a malformed record rejected at the boundary.
//
// Malformed records are skipped by the engine, not failed: they are counted
// separately so an operator can tell bad input from broken transport.
type ValidationError struct {
	SourceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid work record %s: %s %s", e.SourceID, e.Field, e.Reason)
}

// Validate checks that the record carries everything reconciliation needs.
func (r *Record) Validate() error {
	if r.SourceID == "" {
		return &ValidationError{SourceID: r.SourceID, Field: "source_id", Reason: "is required"}
	}
	if r.ParentKey == "" {
		return &ValidationError{SourceID: r.SourceID, Field: "parent_key", Reason: "is required"}
	}
	if r.DurationSeconds < 0 {
		return &ValidationError{
			SourceID: r.SourceID,
			Field:    "duration_seconds",
			Reason:   fmt.Sprintf("must not be negative (got %d)", r.DurationSeconds),
		}
	}
	if r.StartedAt.IsZero() {
		return &ValidationError{SourceID: r.SourceID, Field: "started_at", Reason: "is required"}
	}
	return nil
}

// IssueMeta is descriptive metadata for a parent issue, resolved in batch
// by the source aggregator.
type IssueMeta struct {
	// Summary is the issue's one-line summary. May be empty when the
	// parent key could not be resolved.
	Summary string `json:"summary"`

	// EpicLabel is the label of the epic the issue belongs to, or empty
	// when the issue has no epic.
	EpicLabel string `json:"epic_label,omitempty"`
}

// Entry is the destination-facing shape of a work record: enriched
// description, mapped project, and the fields the destination ledger
// stores for a time entry.
type Entry struct {
	Description     string    `json:"description"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	Billable        bool      `json:"billable"`

	// Project is the destination project identifier, resolved through the
	// field mapping rules. Empty means the destination default.
	Project string `json:"project,omitempty"`
}
