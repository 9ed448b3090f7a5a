// Package fingerprint tracks the last synchronized state of every source
// record that currently has a destination entry.
//
// The store is the engine's single source of truth for "does the
// destination already have this record". The invariant it maintains: a
// Record exists for a source ID if and only if the engine believes a
// destination entry exists for it. Records are inserted on successful
// creates and removed exactly when the corresponding destination entry is
// deleted (or discovered missing).
package fingerprint

import "time"

// Record is the remembered state of one synchronized work record.
type Record struct {
	// DestinationID is the destination ledger's ID for the entry. Set once
	// on the first successful create and never changed afterwards; a
	// recreation replaces the whole record.
	DestinationID string `json:"destination_id"`

	// Comparison fields. A run classifies a record as changed when any of
	// these differ from the freshly observed values.
	LastDurationSeconds int       `json:"last_duration_seconds"`
	LastDescription     string    `json:"last_description"`
	LastStartedAt       time.Time `json:"last_started_at"`

	// LastVerifiedAt is the last time the destination confirmed the entry
	// exists (create, update, or verification update). Drives the stale
	// verification check that bounds how long a silent external deletion
	// can go unnoticed.
	LastVerifiedAt time.Time `json:"last_verified_at"`

	// Processed marks the record as visited during the current run's
	// upsert pass. Transient: never persisted, so every run starts with
	// all records unprocessed. Records still unprocessed after the upsert
	// pass belong to source records that disappeared and are cleaned up.
	Processed bool `json:"-"`
}

// Store persists the full source-ID -> Record mapping.
//
// Save replaces the entire mapping atomically; there are no per-record
// writes. The engine persists once after each reconciliation phase, and a
// failed Save is fatal to the run (continuing would duplicate work on the
// next run).
type Store interface {
	// Load returns the current mapping. A store that has never been
	// written returns an empty map, not an error.
	Load() (map[string]Record, error)

	// Save atomically replaces the persisted mapping.
	Save(records map[string]Record) error
}
