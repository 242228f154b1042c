// Package ledger owns the authoritative visit records and their state
// machine. It is the single writer: every accepted event passes through
// Commit, which serializes per visit triple, persists durably, and only
// then publishes the transition.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/geo"
	"fieldtrack/internal/platform/metrics"
	"fieldtrack/internal/storage"
)

// LocationRegistry resolves the location a submission claims to be at.
type LocationRegistry interface {
	Lookup(ctx context.Context, locationID string) (domain.Location, error)
}

// Publisher receives each committed transition exactly once, after the
// durable write.
type Publisher interface {
	Publish(t domain.Transition)
}

// Service applies the visit state machine:
//
//	NONE -> CHECK_IN  -> OPEN
//	OPEN -> CHECK_OUT -> CLOSED (terminal; force-close is the only other path)
//
// A CHECK_IN while a visit for the same person/location/date is OPEN is a
// DuplicateCheckIn; once that visit closes, a new CHECK_IN starts the next
// sequence number. Replays of an already-accepted token return the stored
// visit unchanged.
type Service struct {
	store     storage.VisitStore
	locations LocationRegistry
	bus       Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	keys      *keyedMutex
	now       func() time.Time
}

func NewService(store storage.VisitStore, locations LocationRegistry, bus Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		locations: locations,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		keys:      newKeyedMutex(),
		now:       time.Now,
	}
}

// Commit validates and applies one client event. The durable write happens
// before the transition is published; on any error the state machine is
// left exactly as it was and nothing is published.
func (s *Service) Commit(ctx context.Context, event domain.ClientEvent) (domain.Visit, error) {
	unlock := s.keys.Lock(tripleKey(event.PersonID, event.LocationID, event.PlannedDate))
	defer unlock()

	start := s.now()
	visit, transition, err := s.apply(ctx, event)
	outcome := domain.TagCommitted
	if err != nil {
		outcome = domain.ErrorTag(err)
	}
	s.metrics.RecordCommit(outcome, s.now().Sub(start))
	if err != nil {
		return domain.Visit{}, err
	}

	if transition != nil {
		s.bus.Publish(*transition)
		if s.logger != nil {
			s.logger.Info("visit transition committed",
				"person_id", visit.Key.PersonID,
				"location_id", visit.Key.LocationID,
				"planned_date", visit.Key.PlannedDate,
				"sequence_no", visit.Key.SequenceNo,
				"old_state", transition.OldState,
				"new_state", transition.NewState,
			)
		}
	}
	return visit, nil
}

func (s *Service) apply(ctx context.Context, event domain.ClientEvent) (domain.Visit, *domain.Transition, error) {
	loc, err := s.locations.Lookup(ctx, event.LocationID)
	if err != nil {
		return domain.Visit{}, nil, err
	}

	existing, err := s.visitsForTriple(ctx, event.PersonID, event.LocationID, event.PlannedDate)
	if err != nil {
		return domain.Visit{}, nil, err
	}

	switch event.Kind {
	case domain.EventCheckIn:
		return s.applyCheckIn(ctx, event, loc, existing)
	case domain.EventCheckOut:
		return s.applyCheckOut(ctx, event, loc, existing)
	default:
		return domain.Visit{}, nil, fmt.Errorf("%w: unknown event kind %q", domain.ErrMalformedEvent, event.Kind)
	}
}

func (s *Service) applyCheckIn(ctx context.Context, event domain.ClientEvent, loc domain.Location, existing []domain.Visit) (domain.Visit, *domain.Transition, error) {
	for _, v := range existing {
		if v.CheckInToken == event.Token {
			// Replay of an accepted check-in: same visit, no new write.
			return v, nil, nil
		}
	}
	if open := openVisit(existing); open != nil {
		return domain.Visit{}, nil, fmt.Errorf("%w: visit %d is open", domain.ErrDuplicateCheckIn, open.Key.SequenceNo)
	}

	dist, status, err := geo.Validate(event.Coords, loc.Coords, loc.Radius())
	if err != nil {
		return domain.Visit{}, nil, err
	}
	if status == domain.GeoStatusInvalid {
		return domain.Visit{}, nil, fmt.Errorf("%w: %.0fm from %s (radius %.0fm)",
			domain.ErrOutsideGeofence, dist, loc.ID, loc.Radius())
	}

	visit := domain.Visit{
		Key: domain.VisitKey{
			PersonID:    event.PersonID,
			LocationID:  event.LocationID,
			PlannedDate: event.PlannedDate,
			SequenceNo:  nextSequence(existing),
		},
		State:            domain.VisitStateOpen,
		CheckInAt:        event.ClientTimestamp.UTC(),
		CheckInCoords:    event.Coords,
		CheckInDistanceM: dist,
		CheckInStatus:    status,
		CheckInToken:     event.Token,
		AttachmentRef:    event.AttachmentRef,
	}

	if err := s.store.Put(ctx, visit); err != nil {
		return domain.Visit{}, nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return visit, s.transition(domain.VisitStateNone, visit), nil
}

func (s *Service) applyCheckOut(ctx context.Context, event domain.ClientEvent, loc domain.Location, existing []domain.Visit) (domain.Visit, *domain.Transition, error) {
	for _, v := range existing {
		if v.CheckOutToken != "" && v.CheckOutToken == event.Token {
			return v, nil, nil
		}
	}

	open := openVisit(existing)
	if open == nil {
		if len(existing) > 0 {
			return domain.Visit{}, nil, fmt.Errorf("%w: all visits closed", domain.ErrDuplicateCheckOut)
		}
		return domain.Visit{}, nil, domain.ErrCheckOutWithoutCheckIn
	}

	checkOutAt := event.ClientTimestamp.UTC()
	if !checkOutAt.After(open.CheckInAt) {
		return domain.Visit{}, nil, fmt.Errorf("%w: check-out %s, check-in %s",
			domain.ErrOutOfOrderTimestamps, checkOutAt.Format(time.RFC3339), open.CheckInAt.Format(time.RFC3339))
	}

	dist, status, err := geo.Validate(event.Coords, loc.Coords, loc.Radius())
	if err != nil {
		return domain.Visit{}, nil, err
	}
	if status == domain.GeoStatusInvalid {
		return domain.Visit{}, nil, fmt.Errorf("%w: %.0fm from %s (radius %.0fm)",
			domain.ErrOutsideGeofence, dist, loc.ID, loc.Radius())
	}

	visit := *open
	visit.State = domain.VisitStateClosed
	visit.CheckOutAt = checkOutAt
	visit.CheckOutCoords = event.Coords
	visit.CheckOutDistanceM = dist
	visit.CheckOutStatus = status
	visit.CheckOutToken = event.Token
	visit.DurationMin = int(checkOutAt.Sub(open.CheckInAt).Minutes())
	if event.AttachmentRef != "" {
		visit.AttachmentRef = event.AttachmentRef
	}

	if err := s.store.Put(ctx, visit); err != nil {
		return domain.Visit{}, nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return visit, s.transition(domain.VisitStateOpen, visit), nil
}

// ForceClose is the administrative override: it closes an open visit
// without geofence validation and publishes a normal transition. Closing an
// already-closed visit is a no-op returning the stored record.
func (s *Service) ForceClose(ctx context.Context, key domain.VisitKey, at time.Time, reason string) (domain.Visit, error) {
	unlock := s.keys.Lock(tripleKey(key.PersonID, key.LocationID, key.PlannedDate))
	defer unlock()

	visit, err := s.store.Get(ctx, key)
	if err != nil {
		return domain.Visit{}, err
	}
	if visit.State == domain.VisitStateClosed {
		return visit, nil
	}

	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	if !at.After(visit.CheckInAt) {
		return domain.Visit{}, fmt.Errorf("%w: close %s, check-in %s",
			domain.ErrOutOfOrderTimestamps, at.Format(time.RFC3339), visit.CheckInAt.Format(time.RFC3339))
	}

	visit.State = domain.VisitStateClosed
	visit.CheckOutAt = at
	visit.DurationMin = int(at.Sub(visit.CheckInAt).Minutes())
	visit.OverrideReason = reason

	if err := s.store.Put(ctx, visit); err != nil {
		return domain.Visit{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	s.bus.Publish(*s.transition(domain.VisitStateOpen, visit))
	return visit, nil
}

// GetVisit returns one visit by full key.
func (s *Service) GetVisit(ctx context.Context, key domain.VisitKey) (domain.Visit, error) {
	return s.store.Get(ctx, key)
}

// ListVisits returns a person's visits for an inclusive date range.
func (s *Service) ListVisits(ctx context.Context, personID, fromDate, toDate string) ([]domain.Visit, error) {
	return s.store.ListByPerson(ctx, personID, fromDate, toDate)
}

// OpenVisit returns the open visit for a triple, or ErrNotFound when every
// visit is closed or none exists.
func (s *Service) OpenVisit(ctx context.Context, personID, locationID, date string) (domain.Visit, error) {
	visits, err := s.visitsForTriple(ctx, personID, locationID, date)
	if err != nil {
		return domain.Visit{}, err
	}
	if open := openVisit(visits); open != nil {
		return *open, nil
	}
	return domain.Visit{}, storage.ErrNotFound
}

func (s *Service) visitsForTriple(ctx context.Context, personID, locationID, date string) ([]domain.Visit, error) {
	all, err := s.store.ListByPerson(ctx, personID, date, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	var out []domain.Visit
	for _, v := range all {
		if v.Key.LocationID == locationID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) transition(old domain.VisitState, visit domain.Visit) *domain.Transition {
	return &domain.Transition{
		ID:          uuid.New().String(),
		Key:         visit.Key,
		OldState:    old,
		NewState:    visit.State,
		Visit:       visit,
		CommittedAt: s.now().UTC(),
	}
}

func openVisit(visits []domain.Visit) *domain.Visit {
	for i := range visits {
		if visits[i].State == domain.VisitStateOpen {
			return &visits[i]
		}
	}
	return nil
}

func nextSequence(visits []domain.Visit) int {
	max := 0
	for _, v := range visits {
		if v.Key.SequenceNo > max {
			max = v.Key.SequenceNo
		}
	}
	return max + 1
}

func tripleKey(personID, locationID, date string) string {
	return personID + "\x1f" + locationID + "\x1f" + date
}
