package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a destination entry referenced by a stored
// destination ID no longer exists. It is an abstract signal: adapters map
// whatever their protocol uses (HTTP 404 in practice) onto it, and the
// engine treats it as "recreate", never as a run failure.
//
// Check with errors.Is:
//
//	if errors.Is(err, ledger.ErrNotFound) {
//	    // entry vanished, self-heal
//	}
var ErrNotFound = errors.New("destination entry not found")

// TransportError wraps a network, auth, or rate-limit failure from either
// ledger. Transport errors are per-record: the engine logs them, counts the
// record as failed, and moves on.
type TransportError struct {
	// Op names the operation that failed (e.g. "create", "fetch worklogs").
	Op string

	// Status is the protocol status code when one was received, 0 otherwise.
	Status int

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err signals a vanished destination entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
