// Package location holds the registry interface the ledger consumes and an
// in-memory implementation. Locations are owned here; the ledger only looks
// them up and never mutates them.
package location

import (
	"context"
	"fmt"
	"sync"

	"fieldtrack/internal/domain"
)

// Registry resolves location IDs for the ledger.
type Registry interface {
	Lookup(ctx context.Context, locationID string) (domain.Location, error)
}

// InMemoryRegistry is a thread-safe registry with administrative upserts.
// Updating a location never rewrites past validations: visits store the
// distance and status computed at commit time.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	locations map[string]domain.Location
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{locations: make(map[string]domain.Location)}
}

func (r *InMemoryRegistry) Lookup(_ context.Context, locationID string) (domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if loc, ok := r.locations[locationID]; ok {
		return loc, nil
	}
	return domain.Location{}, fmt.Errorf("%w: %s", domain.ErrUnknownLocation, locationID)
}

// Upsert registers or administratively updates a location.
func (r *InMemoryRegistry) Upsert(_ context.Context, loc domain.Location) error {
	if loc.ID == "" {
		return fmt.Errorf("%w: location id required", domain.ErrMalformedEvent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[loc.ID] = loc
	return nil
}

// List returns all registered locations, for the query surface.
func (r *InMemoryRegistry) List(_ context.Context) ([]domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Location, 0, len(r.locations))
	for _, loc := range r.locations {
		out = append(out, loc)
	}
	return out, nil
}
