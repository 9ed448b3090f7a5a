// Package ledger defines the ports the reconciliation engine uses to talk
// to the two external time-tracking systems.
//
// The source ledger is the system of record for logged work and is strictly
// read-only. The destination ledger receives synchronized time entries and
// is the only system the engine mutates. Concrete HTTP adapters live in
// internal/tempo and internal/solidtime; the engine only ever sees these
// interfaces and the error taxonomy below.
package ledger

import (
	"context"
	"time"

	"github.com/ledgersync/ledgersync/internal/worklog"
)

// SourceLedger reads work records and issue metadata from the source system.
type SourceLedger interface {
	// FetchWorkRecords returns every work record whose start timestamp
	// falls inside [start, end]. The source may yield duplicates for the
	// same source ID; callers are expected to deduplicate (last seen wins).
	//
	// A failure here means the run cannot proceed at all.
	FetchWorkRecords(ctx context.Context, start, end time.Time) ([]worklog.Record, error)

	// ResolveParentMetadata resolves descriptive metadata for a batch of
	// parent issue keys in a single upstream query. Keys that cannot be
	// resolved are simply absent from the result; that is not an error.
	ResolveParentMetadata(ctx context.Context, keys []string) (map[string]worklog.IssueMeta, error)
}

// DestinationLedger manages time entries in the destination system.
//
// Update and Delete report a vanished entry through ErrNotFound so the
// engine can self-heal; any transport-level failure is wrapped in a
// TransportError instead.
type DestinationLedger interface {
	// Create creates a new time entry and returns its destination ID.
	Create(ctx context.Context, entry worklog.Entry) (string, error)

	// Update replaces the fields of an existing time entry.
	// Returns an error satisfying errors.Is(err, ErrNotFound) when the
	// entry no longer exists in the destination.
	Update(ctx context.Context, destinationID string, entry worklog.Entry) error

	// Delete removes a time entry.
	// Returns an error satisfying errors.Is(err, ErrNotFound) when the
	// entry was already gone.
	Delete(ctx context.Context, destinationID string) error
}
