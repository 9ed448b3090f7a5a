// Package enrich batches parent-issue metadata lookups for the
// reconciliation engine.
//
// Descriptions synchronized to the destination include the parent issue's
// summary and epic label. Resolving those one record at a time would mean
// one upstream call per work record; the aggregator instead collects the
// distinct parent keys of a run and resolves them in a single batch query,
// caching the results for the rest of the run.
package enrich

import (
	"context"
	"log"
	"os"
	"sort"

	"github.com/ledgersync/ledgersync/internal/ledger"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

// Aggregator resolves parent-issue metadata in batches.
//
// An Aggregator is scoped to one reconciliation run: the engine creates a
// fresh one per run so cached metadata never outlives the run that fetched
// it.
type Aggregator struct {
	source ledger.SourceLedger
	logger *log.Logger

	cache map[string]worklog.IssueMeta
}

// New creates an aggregator over the given source ledger.
// If logger is nil, a default logger writing to stderr is used.
func New(source ledger.SourceLedger, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(os.Stderr, "[enrich] ", log.LstdFlags)
	}
	return &Aggregator{
		source: source,
		logger: logger,
		cache:  make(map[string]worklog.IssueMeta),
	}
}

// Resolve returns metadata for every key it can resolve, issuing at most
// one upstream batch query for the keys not already cached.
//
// Unresolvable keys are simply absent from the result; callers fall back to
// the sentinel epic label and an omitted summary. A failed batch query
// degrades the same way for the whole batch: enrichment loss must never
// fail a run, so the error is logged and an empty result returned.
func (a *Aggregator) Resolve(ctx context.Context, keys []string) map[string]worklog.IssueMeta {
	missing := a.missingKeys(keys)

	if len(missing) > 0 {
		resolved, err := a.source.ResolveParentMetadata(ctx, missing)
		if err != nil {
			a.logger.Printf("WARNING: failed to resolve metadata for %d keys, descriptions will be degraded: %v",
				len(missing), err)
		} else {
			for key, meta := range resolved {
				a.cache[key] = meta
			}
			// Remember unresolvable keys too, so a second Resolve in the
			// same run does not re-query them.
			for _, key := range missing {
				if _, ok := a.cache[key]; !ok {
					a.cache[key] = worklog.IssueMeta{}
				}
			}
		}
	}

	out := make(map[string]worklog.IssueMeta, len(keys))
	for _, key := range keys {
		if meta, ok := a.cache[key]; ok {
			out[key] = meta
		}
	}
	return out
}

// missingKeys returns the sorted distinct keys not yet cached.
func (a *Aggregator) missingKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var missing []string
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := a.cache[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}
