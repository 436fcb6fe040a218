// Package memory provides an in-process append-only event log, used in tests
// and single-node deployments where the collaborator ticket system is not
// wired up.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Log stores session events in memory, in append order per session.
type Log struct {
	mu     sync.RWMutex
	events map[string][]review.SessionEvent
}

var _ review.EventLog = (*Log)(nil)

// NewLog builds an empty log.
func NewLog() *Log {
	return &Log{events: make(map[string][]review.SessionEvent)}
}

// Append adds the event to its session's stream.
func (l *Log) Append(_ context.Context, event review.SessionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[event.SessionID] = append(l.events[event.SessionID], event)
	return nil
}

// List returns the session's events in chronological order.
func (l *Log) List(_ context.Context, sessionID string) ([]review.SessionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[sessionID]
	out := make([]review.SessionEvent, len(events))
	copy(out, events)
	return out, nil
}
