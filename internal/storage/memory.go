package storage

import (
	"context"
	"sort"
	"sync"

	"fieldtrack/internal/domain"
)

// InMemoryVisitStore keeps the initial implementation lightweight and
// testable. It intentionally favors clarity over performance.
type InMemoryVisitStore struct {
	mu     sync.RWMutex
	visits map[domain.VisitKey]domain.Visit
}

func NewInMemoryVisitStore() *InMemoryVisitStore {
	return &InMemoryVisitStore{visits: make(map[domain.VisitKey]domain.Visit)}
}

func (s *InMemoryVisitStore) Put(_ context.Context, visit domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[visit.Key] = visit
	return nil
}

func (s *InMemoryVisitStore) Get(_ context.Context, key domain.VisitKey) (domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if visit, ok := s.visits[key]; ok {
		return visit, nil
	}
	return domain.Visit{}, ErrNotFound
}

func (s *InMemoryVisitStore) ListByPerson(_ context.Context, personID, fromDate, toDate string) ([]domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Visit
	for key, visit := range s.visits {
		if key.PersonID != personID {
			continue
		}
		// Dates are "2006-01-02", so string order is date order.
		if key.PlannedDate < fromDate || key.PlannedDate > toDate {
			continue
		}
		out = append(out, visit)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.PlannedDate != b.PlannedDate {
			return a.PlannedDate < b.PlannedDate
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.SequenceNo < b.SequenceNo
	})
	return out, nil
}
