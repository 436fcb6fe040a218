package review

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Fetcher retrieves a URL and returns the body plus extracted links.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a probe response warrants a headless
// re-fetch (script-rendered policy pages).
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// FetchRequest captures everything needed to fetch a document.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Links        []string
	Duration     time.Duration
	UsedHeadless bool
}

// Invoker runs a named external analysis capability. Implementations must
// validate the response against the capability's schema before returning it.
type Invoker interface {
	Invoke(ctx context.Context, capability string, input map[string]any) (json.RawMessage, error)
}

// BlobStore writes raw artifacts and returns a URI. DeleteObject supports
// release of transient session storage at commit time.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	DeleteObject(ctx context.Context, path string) error
}

// SessionEvent is one entry in a session's append-only event log: bot
// reports, human comments, and blocking-error explanations.
type SessionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Author    string    `json:"author"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Event kinds posted to session logs.
const (
	EventChecklist = "checklist"
	EventReport    = "report"
	EventComment   = "comment"
	EventError     = "error"
)

// EventLog is the append-only log collaborator (the issue thread). List
// returns events in chronological order.
type EventLog interface {
	Append(ctx context.Context, event SessionEvent) error
	List(ctx context.Context, sessionID string) ([]SessionEvent, error)
}

// SessionStore persists review sessions.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Update(ctx context.Context, session Session) error
	List(ctx context.Context) ([]Session, error)
}

// Registry is the durable keyed store of committed decisions. Commit must
// serialize writers and assign the superseding version itself.
type Registry interface {
	Commit(ctx context.Context, entry RegistryEntry) (RegistryEntry, error)
	Get(ctx context.Context, vendorKey string) (RegistryEntry, error)
	List(ctx context.Context) ([]RegistryEntry, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for archived document text.
type Hasher interface {
	Hash(data []byte) (string, error)
}
