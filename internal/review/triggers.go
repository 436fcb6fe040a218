package review

import "time"

// TriggerKind identifies an external trigger event.
type TriggerKind string

// Trigger kinds delivered by the collaborator event systems. Delivery is
// at-least-once; every handler must tolerate duplicates.
const (
	TriggerRequestOpened    TriggerKind = "request_opened"
	TriggerReviewConfirmed  TriggerKind = "review_confirmed"
	TriggerDecisionApproved TriggerKind = "decision_approved"
	TriggerRefreshRequested TriggerKind = "refresh_requested"
	TriggerReviewAborted    TriggerKind = "review_aborted"
)

// OpenRequest carries the payload of a request_opened trigger.
type OpenRequest struct {
	VendorName string      `json:"vendor_name"`
	Seeds      []Seed      `json:"seeds"`
	Profile    RiskProfile `json:"profile"`
}

// ChecklistOverride is one human edit re-parsed from the confirmed checklist.
type ChecklistOverride struct {
	CanonicalURL string     `json:"canonical_url"`
	Included     bool       `json:"included"`
	Categories   []Category `json:"categories,omitempty"`
}

// Trigger is one asynchronous external event routed into the workflow engine.
type Trigger struct {
	Kind        TriggerKind         `json:"kind"`
	SessionID   string              `json:"session_id,omitempty"`
	Request     *OpenRequest        `json:"request,omitempty"`
	Overrides   []ChecklistOverride `json:"overrides,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	DeliveredAt time.Time           `json:"delivered_at,omitempty"`
	Attempt     int                 `json:"attempt,omitempty"`
}
