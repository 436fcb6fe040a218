package review

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by stage transitions and the registry.
var (
	// ErrNoDocuments blocks the awaiting_review -> analyzing transition when
	// the reviewer confirmed a checklist with nothing included.
	ErrNoDocuments = errors.New("no documents included for analysis")

	// ErrAlreadyCommitted rejects a duplicate commit of a committed session.
	ErrAlreadyCommitted = errors.New("session already committed")

	// ErrKeyCollision rejects a commit whose vendor key cannot be resolved
	// unambiguously.
	ErrKeyCollision = errors.New("ambiguous vendor key")

	// ErrClassificationAmbiguous marks a document the classifier could not
	// resolve to any recognized category. Non-fatal: the document defaults to
	// unclassified and excluded.
	ErrClassificationAmbiguous = errors.New("document classification ambiguous")

	// ErrSessionNotFound is returned by session stores for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEntryNotFound is returned by registry lookups for unknown keys.
	ErrEntryNotFound = errors.New("registry entry not found")
)

// FetchError annotates a per-URL fetch failure. It is recorded on the
// manifest entry and never aborts discovery of sibling documents.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CapabilityError wraps a failed capability invocation. Timeout and Schema
// distinguish the retry taxonomy; both are retryable up to the budget.
type CapabilityError struct {
	Capability string
	Timeout    bool
	Schema     bool
	Err        error
}

func (e *CapabilityError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("capability %s timed out: %v", e.Capability, e.Err)
	case e.Schema:
		return fmt.Sprintf("capability %s returned invalid payload: %v", e.Capability, e.Err)
	default:
		return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
	}
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// DecisionParseError identifies the field that made a decision record
// unusable. A required field is never silently defaulted.
type DecisionParseError struct {
	Field  string
	Reason string
}

func (e *DecisionParseError) Error() string {
	return fmt.Sprintf("decision record field %q: %s", e.Field, e.Reason)
}

// StaleTriggerError marks a trigger that arrived for a session already in or
// past the target stage. Handlers treat it as a no-op, not a failure.
type StaleTriggerError struct {
	SessionID string
	Stage     Stage
	Trigger   TriggerKind
}

func (e *StaleTriggerError) Error() string {
	return fmt.Sprintf("trigger %s is stale for session %s in stage %s", e.Trigger, e.SessionID, e.Stage)
}

// IsStaleTrigger reports whether err marks a duplicate trigger delivery.
func IsStaleTrigger(err error) bool {
	var stale *StaleTriggerError
	return errors.As(err, &stale)
}
