// Package engine implements the worklog reconciliation engine.
//
// One reconciliation run compares every work record observed in the source
// ledger window against the fingerprint store and drives the destination
// ledger to match, in two phases:
//
//  1. Upsert pass: each observed record is classified (create, update,
//     verify, or skip) and dispatched; every fingerprint that is still
//     valid gets marked processed. The store is persisted once at the end
//     of the phase.
//  2. Cleanup pass: fingerprints left unprocessed belong to records that
//     disappeared from the source; their destination entries are deleted
//     and the fingerprints removed. The store is persisted once more.
//
// Per-record failures never abort a run. Only two things do: the source
// window cannot be fetched at all, or the fingerprint store cannot be
// written (continuing past a failed store write would duplicate work on
// the next run).
//
// The engine is single-caller: it holds no internal locking and assumes
// the scheduler never overlaps runs.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ledgersync/ledgersync/internal/enrich"
	"github.com/ledgersync/ledgersync/internal/fingerprint"
	"github.com/ledgersync/ledgersync/internal/ledger"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

// FieldMapper customizes the destination-facing fields derived from a
// record: the destination project and the billable flag. The mapping rules
// file provides the production implementation; the zero behavior (no
// project, record's own billable flag) is used when nil.
type FieldMapper interface {
	Project(parentKey string) string
	Billable(rec worklog.Record) bool
}

type nopMapper struct{}

func (nopMapper) Project(string) string          { return "" }
func (nopMapper) Billable(r worklog.Record) bool { return r.Billable }

// Config holds engine tuning knobs.
type Config struct {
	// VerifyWindow is the maximum age of a fingerprint's last verified
	// timestamp before an unchanged record triggers a verification update.
	VerifyWindow time.Duration

	// DryRun classifies and reports without destination calls or store
	// writes.
	DryRun bool

	// Mapper customizes project and billable mapping. Nil uses defaults.
	Mapper FieldMapper

	// Now returns the current time. Overridable for tests.
	Now func() time.Time

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		VerifyWindow: DefaultVerifyWindow,
		Mapper:       nopMapper{},
		Now:          time.Now,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine reconciles the destination ledger against the source ledger.
type Engine struct {
	source ledger.SourceLedger
	dest   ledger.DestinationLedger
	store  fingerprint.Store
	config *Config
}

// New creates an engine over the three collaborator ports.
//
// The fingerprint store must not be shared with another engine instance;
// it is loaded at the start of every run and written at phase boundaries.
func New(source ledger.SourceLedger, dest ledger.DestinationLedger, store fingerprint.Store, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.VerifyWindow <= 0 {
		config.VerifyWindow = DefaultVerifyWindow
	}
	if config.Mapper == nil {
		config.Mapper = nopMapper{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		source: source,
		dest:   dest,
		store:  store,
		config: config,
	}
}

// Reconcile runs one full reconciliation over [start, end].
//
// The returned RunOutcome is always non-nil. The error is non-nil only for
// run-fatal conditions (fetch failure, store write failure); the outcome's
// Success flag mirrors it.
func (e *Engine) Reconcile(ctx context.Context, start, end time.Time) (*RunOutcome, error) {
	now := e.config.Now()
	outcome := &RunOutcome{
		RunID:     uuid.NewString(),
		StartedAt: now,
		DryRun:    e.config.DryRun,
	}

	e.config.Logger.Printf("Starting run %s: window %s .. %s (dry-run=%v)",
		outcome.RunID, start.Format(time.RFC3339), end.Format(time.RFC3339), e.config.DryRun)

	records, err := e.source.FetchWorkRecords(ctx, start, end)
	if err != nil {
		return e.fail(outcome, fmt.Errorf("failed to fetch work records: %w", err))
	}

	fps, err := e.store.Load()
	if err != nil {
		return e.fail(outcome, fmt.Errorf("failed to load fingerprint store: %w", err))
	}

	// Every run starts with a clean processed slate.
	for id, fp := range fps {
		fp.Processed = false
		fps[id] = fp
	}

	observed := dedupe(records)
	e.config.Logger.Printf("Observed %d work records (%d after dedupe), %d fingerprints tracked",
		len(records), len(observed), len(fps))

	e.upsertPass(ctx, observed, fps, outcome)

	if !e.config.DryRun {
		if err := e.store.Save(fps); err != nil {
			return e.fail(outcome, fmt.Errorf("failed to persist fingerprints after upsert pass: %w", err))
		}
	}

	e.cleanupPass(ctx, fps, outcome)

	if !e.config.DryRun {
		if err := e.store.Save(fps); err != nil {
			return e.fail(outcome, fmt.Errorf("failed to persist fingerprints after cleanup pass: %w", err))
		}
	}

	outcome.Success = true
	outcome.Duration = e.config.Now().Sub(now)
	e.config.Logger.Printf("Run %s complete: %s", outcome.RunID, outcome.Summary())
	return outcome, nil
}

// upsertPass classifies and dispatches every observed record.
func (e *Engine) upsertPass(ctx context.Context, observed []worklog.Record, fps map[string]fingerprint.Record, outcome *RunOutcome) {
	now := e.config.Now()

	// Batch-resolve parent metadata before touching any record. The
	// aggregator is per-run so cached metadata never goes stale across
	// runs.
	agg := enrich.New(e.source, e.config.Logger)
	var keys []string
	valid := observed[:0]
	for _, rec := range observed {
		if err := rec.Validate(); err != nil {
			e.config.Logger.Printf("Skipping malformed record: %v", err)
			outcome.Skipped++
			outcome.record(rec.SourceID, ActionInvalid, err.Error())
			continue
		}
		keys = append(keys, rec.ParentKey)
		valid = append(valid, rec)
	}
	meta := agg.Resolve(ctx, keys)

	for _, rec := range valid {
		entry := e.buildEntry(rec, meta[rec.ParentKey])

		var fp *fingerprint.Record
		if stored, ok := fps[rec.SourceID]; ok {
			fp = &stored
		}

		switch cls := Classify(entry, fp, now, e.config.VerifyWindow); cls {
		case NoFingerprint:
			e.createEntry(ctx, rec, entry, fps, outcome, now)

		case Changed, StaleVerification:
			e.updateEntry(ctx, rec, entry, *fp, fps, outcome, now, cls)

		case Unchanged:
			// No destination call, but the fingerprint must still be
			// marked processed or the cleanup pass would delete it.
			stored := fps[rec.SourceID]
			stored.Processed = true
			fps[rec.SourceID] = stored
			outcome.Skipped++
			outcome.record(rec.SourceID, ActionSkipped, "unchanged")
		}
	}
}

// createEntry handles the NoFingerprint path.
func (e *Engine) createEntry(ctx context.Context, rec worklog.Record, entry worklog.Entry, fps map[string]fingerprint.Record, outcome *RunOutcome, now time.Time) {
	if e.config.DryRun {
		outcome.Created++
		outcome.record(rec.SourceID, ActionCreated, "would create")
		return
	}

	destID, err := e.dest.Create(ctx, entry)
	if err != nil {
		e.config.Logger.Printf("Failed to create entry for %s: %v", rec.SourceID, err)
		outcome.Failed++
		outcome.record(rec.SourceID, ActionFailed, fmt.Sprintf("create: %v", err))
		return
	}

	fps[rec.SourceID] = fingerprint.Record{
		DestinationID:       destID,
		LastDurationSeconds: entry.DurationSeconds,
		LastDescription:     entry.Description,
		LastStartedAt:       entry.StartedAt,
		LastVerifiedAt:      now,
		Processed:           true,
	}
	outcome.Created++
	outcome.record(rec.SourceID, ActionCreated, destID)
	e.config.Logger.Printf("Created entry %s for %s", destID, rec.SourceID)
}

// updateEntry handles the Changed and StaleVerification paths, including
// the 404-recreate self-healing transition.
func (e *Engine) updateEntry(ctx context.Context, rec worklog.Record, entry worklog.Entry, fp fingerprint.Record, fps map[string]fingerprint.Record, outcome *RunOutcome, now time.Time, cls Classification) {
	if e.config.DryRun {
		fp.Processed = true
		fps[rec.SourceID] = fp
		outcome.Updated++
		outcome.record(rec.SourceID, ActionUpdated, "would update ("+cls.String()+")")
		return
	}

	err := e.dest.Update(ctx, fp.DestinationID, entry)
	if ledger.IsNotFound(err) {
		// The destination entry vanished underneath us (manual deletion).
		// Clear the stale fingerprint and recreate from scratch.
		e.config.Logger.Printf("Entry %s for %s vanished from destination, recreating", fp.DestinationID, rec.SourceID)
		delete(fps, rec.SourceID)

		destID, cerr := e.dest.Create(ctx, entry)
		if cerr != nil {
			e.config.Logger.Printf("Failed to recreate entry for %s: %v", rec.SourceID, cerr)
			outcome.Failed++
			outcome.record(rec.SourceID, ActionFailed, fmt.Sprintf("recreate: %v", cerr))
			return
		}

		fps[rec.SourceID] = fingerprint.Record{
			DestinationID:       destID,
			LastDurationSeconds: entry.DurationSeconds,
			LastDescription:     entry.Description,
			LastStartedAt:       entry.StartedAt,
			LastVerifiedAt:      now,
			Processed:           true,
		}
		outcome.Created++
		outcome.record(rec.SourceID, ActionRecreated, destID)
		return
	}
	if err != nil {
		e.config.Logger.Printf("Failed to update entry %s for %s: %v", fp.DestinationID, rec.SourceID, err)
		outcome.Failed++
		outcome.record(rec.SourceID, ActionFailed, fmt.Sprintf("update: %v", err))
		return
	}

	fp.LastDurationSeconds = entry.DurationSeconds
	fp.LastDescription = entry.Description
	fp.LastStartedAt = entry.StartedAt
	fp.LastVerifiedAt = now
	fp.Processed = true
	fps[rec.SourceID] = fp

	outcome.Updated++
	outcome.record(rec.SourceID, ActionUpdated, cls.String())
}

// cleanupPass deletes destination entries whose source records disappeared.
func (e *Engine) cleanupPass(ctx context.Context, fps map[string]fingerprint.Record, outcome *RunOutcome) {
	for id, fp := range fps {
		if fp.Processed {
			continue
		}

		if e.config.DryRun {
			outcome.Deleted++
			outcome.record(id, ActionDeleted, "would delete "+fp.DestinationID)
			continue
		}

		err := e.dest.Delete(ctx, fp.DestinationID)
		switch {
		case err == nil:
			delete(fps, id)
			outcome.Deleted++
			outcome.record(id, ActionDeleted, fp.DestinationID)
			e.config.Logger.Printf("Deleted overhang entry %s for %s", fp.DestinationID, id)

		case ledger.IsNotFound(err):
			// Already gone: the invariant says no destination entry means
			// no fingerprint, so drop it either way.
			delete(fps, id)
			outcome.Deleted++
			outcome.record(id, ActionDeleted, fp.DestinationID+" (already absent)")
			e.config.Logger.Printf("Overhang entry %s for %s already absent", fp.DestinationID, id)

		default:
			// Keep the fingerprint so the delete is retried next run.
			e.config.Logger.Printf("Failed to delete overhang entry %s for %s: %v", fp.DestinationID, id, err)
			outcome.Failed++
			outcome.record(id, ActionFailed, fmt.Sprintf("delete: %v", err))
		}
	}
}

// buildEntry derives the destination-facing entry for a record.
func (e *Engine) buildEntry(rec worklog.Record, meta worklog.IssueMeta) worklog.Entry {
	return worklog.Entry{
		Description:     worklog.BuildDescription(rec, meta),
		DurationSeconds: rec.DurationSeconds,
		StartedAt:       rec.StartedAt,
		Billable:        e.config.Mapper.Billable(rec),
		Project:         e.config.Mapper.Project(rec.ParentKey),
	}
}

// fail finalizes a run-fatal outcome.
func (e *Engine) fail(outcome *RunOutcome, err error) (*RunOutcome, error) {
	outcome.Success = false
	outcome.Error = err.Error()
	outcome.Duration = e.config.Now().Sub(outcome.StartedAt)
	e.config.Logger.Printf("Run %s aborted: %v", outcome.RunID, err)
	return outcome, err
}

// dedupe collapses duplicate source IDs, last seen wins, preserving the
// order records were first observed in.
func dedupe(records []worklog.Record) []worklog.Record {
	index := make(map[string]int, len(records))
	out := make([]worklog.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.SourceID]; ok {
			out[i] = rec
			continue
		}
		index[rec.SourceID] = len(out)
		out = append(out, rec)
	}
	return out
}
