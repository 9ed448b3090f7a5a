package engine

import (
	"time"

	"github.com/ledgersync/ledgersync/internal/fingerprint"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

// Classification is the change detector's verdict for one observed record.
type Classification int

const (
	// NoFingerprint means the record has never been synchronized.
	// Triggers a destination create.
	NoFingerprint Classification = iota

	// Changed means at least one comparison field differs from the stored
	// fingerprint. Triggers a destination update.
	Changed

	// StaleVerification means the record is unchanged but its existence in
	// the destination has not been confirmed within the verification
	// window. Triggers an update call purely to detect silent deletion.
	StaleVerification

	// Unchanged means the record matches its fingerprint and was verified
	// recently. No destination call is issued.
	Unchanged
)

// String returns the classification name for logs and action details.
func (c Classification) String() string {
	switch c {
	case NoFingerprint:
		return "no-fingerprint"
	case Changed:
		return "changed"
	case StaleVerification:
		return "stale-verification"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// DefaultVerifyWindow bounds how long an unchanged record may go without a
// confirmed existence check against the destination.
const DefaultVerifyWindow = 24 * time.Hour

// Classify compares an observed entry against its stored fingerprint.
//
// Classify is a pure function: identical inputs always yield the same
// classification. Rules apply in order: missing fingerprint, then field
// drift, then stale verification, then unchanged. Duration and description
// are compared exactly; start times are compared to the second.
func Classify(entry worklog.Entry, fp *fingerprint.Record, now time.Time, window time.Duration) Classification {
	if fp == nil {
		return NoFingerprint
	}

	if entry.DurationSeconds != fp.LastDurationSeconds ||
		entry.Description != fp.LastDescription ||
		!entry.StartedAt.Truncate(time.Second).Equal(fp.LastStartedAt.Truncate(time.Second)) {
		return Changed
	}

	if window <= 0 {
		window = DefaultVerifyWindow
	}
	if now.Sub(fp.LastVerifiedAt) > window {
		return StaleVerification
	}

	return Unchanged
}
