package engine

import (
	"fmt"
	"time"
)

// ActionKind names what the engine did (or declined to do) for one record.
type ActionKind string

const (
	// ActionCreated means a new destination entry was created.
	ActionCreated ActionKind = "created"

	// ActionUpdated means an existing destination entry was updated,
	// either because a field changed or to verify it still exists.
	ActionUpdated ActionKind = "updated"

	// ActionRecreated means an update found the destination entry gone
	// and the engine self-healed by creating a replacement.
	ActionRecreated ActionKind = "recreated"

	// ActionDeleted means an overhang entry was deleted from the
	// destination.
	ActionDeleted ActionKind = "deleted"

	// ActionSkipped means the record was unchanged and recently verified;
	// no destination call was issued.
	ActionSkipped ActionKind = "skipped"

	// ActionInvalid means the observed record failed boundary validation
	// and was excluded from the run.
	ActionInvalid ActionKind = "invalid"

	// ActionFailed means a destination call for this record failed. The
	// run continues; the record is retried on the next run.
	ActionFailed ActionKind = "failed"
)

// Action is one per-record event in a run's action log.
type Action struct {
	SourceID string     `json:"source_id"`
	Kind     ActionKind `json:"kind"`
	Detail   string     `json:"detail,omitempty"`
}

// RunOutcome is the result of one reconciliation run: aggregate counters, a
// per-record action log, and an overall success flag. The engine produces
// one per invocation; persistence (run history) is the caller's concern.
type RunOutcome struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	Actions []Action `json:"actions,omitempty"`

	// Success is false when the run aborted: fetch failure or a
	// fingerprint store write failure. Per-record failures leave Success
	// true and show up in Failed instead.
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// DryRun marks an outcome produced without issuing destination calls
	// or store writes.
	DryRun bool `json:"dry_run,omitempty"`
}

// Changes returns the number of destination mutations the run performed.
func (o *RunOutcome) Changes() int {
	return o.Created + o.Updated + o.Deleted
}

// Summary renders a one-line human summary for logs and CLI output.
func (o *RunOutcome) Summary() string {
	status := "ok"
	if !o.Success {
		status = "FAILED"
	}
	return fmt.Sprintf("%s: created=%d updated=%d deleted=%d skipped=%d failed=%d in %s",
		status, o.Created, o.Updated, o.Deleted, o.Skipped, o.Failed, o.Duration.Round(time.Millisecond))
}

func (o *RunOutcome) record(sourceID string, kind ActionKind, detail string) {
	o.Actions = append(o.Actions, Action{SourceID: sourceID, Kind: kind, Detail: detail})
}
