// Package memory provides an in-process registry, used in tests and
// single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Registry keeps committed entries in memory, every version retained.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string][]review.RegistryEntry
	committed map[string]bool
}

var _ review.Registry = (*Registry)(nil)

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string][]review.RegistryEntry),
		committed: make(map[string]bool),
	}
}

// Commit appends a superseding version for the vendor key. A session that has
// already committed is rejected; the audit trail is append-only.
func (r *Registry) Commit(_ context.Context, entry review.RegistryEntry) (review.RegistryEntry, error) {
	if entry.VendorKey == "" {
		return review.RegistryEntry{}, review.ErrKeyCollision
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed[entry.SessionID] {
		return review.RegistryEntry{}, review.ErrAlreadyCommitted
	}

	versions := r.entries[entry.VendorKey]
	entry.Version = 1
	if n := len(versions); n > 0 {
		entry.Version = versions[n-1].Version + 1
	}
	r.entries[entry.VendorKey] = append(versions, entry)
	r.committed[entry.SessionID] = true
	return entry, nil
}

// Get returns the newest version for the vendor key.
func (r *Registry) Get(_ context.Context, vendorKey string) (review.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.entries[vendorKey]
	if len(versions) == 0 {
		return review.RegistryEntry{}, review.ErrEntryNotFound
	}
	return versions[len(versions)-1], nil
}

// List returns the newest version of every vendor, ordered by key.
func (r *Registry) List(_ context.Context) ([]review.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]review.RegistryEntry, 0, len(r.entries))
	for _, versions := range r.entries {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorKey < out[j].VendorKey })
	return out, nil
}

// History returns every committed version for the vendor key, oldest first.
func (r *Registry) History(_ context.Context, vendorKey string) ([]review.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.entries[vendorKey]
	if len(versions) == 0 {
		return nil, review.ErrEntryNotFound
	}
	out := make([]review.RegistryEntry, len(versions))
	copy(out, versions)
	return out, nil
}
