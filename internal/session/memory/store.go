// Package memory provides an in-process session store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Store keeps review sessions in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]review.Session
}

var _ review.SessionStore = (*Store)(nil)

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]review.Session)}
}

// Create stores a new session; the ID must be unused.
func (s *Store) Create(_ context.Context, session review.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

// Get returns the session for the ID.
func (s *Store) Get(_ context.Context, sessionID string) (review.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return review.Session{}, review.ErrSessionNotFound
	}
	return session, nil
}

// Update replaces an existing session.
func (s *Store) Update(_ context.Context, session review.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return review.ErrSessionNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

// List returns all sessions ordered by creation time, oldest first.
func (s *Store) List(_ context.Context) ([]review.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]review.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
