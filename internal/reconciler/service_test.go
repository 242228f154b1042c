package reconciler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/ledger"
	"fieldtrack/internal/location"
	"fieldtrack/internal/storage"
)

const (
	testPerson   = "per-meera"
	testLocation = "loc-indiranagar"
	testDate     = "2026-08-24"
)

var testCoords = domain.Coordinates{Lat: 12.9716, Lon: 77.5946}

type nopBus struct{}

func (nopBus) Publish(domain.Transition) {}

type countingStore struct {
	*storage.InMemoryVisitStore
	puts atomic.Int64
}

func (s *countingStore) Put(ctx context.Context, v domain.Visit) error {
	s.puts.Add(1)
	return s.InMemoryVisitStore.Put(ctx, v)
}

type ReconcilerSuite struct {
	suite.Suite
	ctx   context.Context
	store *countingStore
	svc   *Service
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &countingStore{InMemoryVisitStore: storage.NewInMemoryVisitStore()}

	registry := location.NewInMemoryRegistry()
	err := registry.Upsert(s.ctx, domain.Location{
		ID: testLocation, Name: "Indiranagar branch", Coords: testCoords, RadiusMeters: 50,
	})
	s.Require().NoError(err)

	led := ledger.NewService(s.store, registry, nopBus{}, nil, nil)
	s.svc = NewService(led, NewInMemoryTokenStore(), nil, nil, time.Hour, time.Second)
}

func (s *ReconcilerSuite) event(token string, kind domain.EventKind, at time.Time) domain.ClientEvent {
	return domain.ClientEvent{
		Token:           token,
		PersonID:        testPerson,
		LocationID:      testLocation,
		PlannedDate:     testDate,
		Kind:            kind,
		ClientTimestamp: at,
		Coords:          testCoords,
	}
}

func (s *ReconcilerSuite) TestCommitsWellFormedEvent() {
	token := uuid.NewString()
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	results := s.svc.Submit(s.ctx, []domain.ClientEvent{s.event(token, domain.EventCheckIn, at)})
	s.Require().Len(results, 1)
	s.Equal(domain.TagCommitted, results[0].Status)
	s.Require().NotNil(results[0].Visit)
	s.Equal(domain.VisitStateOpen, results[0].Visit.State)
}

func (s *ReconcilerSuite) TestReplaySameTokenSamePayload() {
	token := uuid.NewString()
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	event := s.event(token, domain.EventCheckIn, at)

	first := s.svc.Submit(s.ctx, []domain.ClientEvent{event})
	s.Require().Equal(domain.TagCommitted, first[0].Status)
	writes := s.store.puts.Load()

	second := s.svc.Submit(s.ctx, []domain.ClientEvent{event})
	s.Require().Equal(domain.TagCommitted, second[0].Status)
	s.Equal(*first[0].Visit, *second[0].Visit, "replay must return the same committed visit")
	s.Equal(writes, s.store.puts.Load(), "replay must cause no additional durable write")
}

func (s *ReconcilerSuite) TestTokenConflict() {
	token := uuid.NewString()
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	first := s.svc.Submit(s.ctx, []domain.ClientEvent{s.event(token, domain.EventCheckIn, at)})
	s.Require().Equal(domain.TagCommitted, first[0].Status)
	writes := s.store.puts.Load()

	// Same token, different coordinates.
	conflicting := s.event(token, domain.EventCheckIn, at)
	conflicting.Coords = domain.Coordinates{Lat: 12.9717, Lon: 77.5947}
	results := s.svc.Submit(s.ctx, []domain.ClientEvent{conflicting})

	s.Equal(domain.TagTokenConflict, results[0].Status)
	s.Nil(results[0].Visit)
	s.Equal(writes, s.store.puts.Load(), "conflict must cause zero writes")
}

func (s *ReconcilerSuite) TestMalformedEvents() {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		mutate func(*domain.ClientEvent)
	}{
		{"missing token", func(e *domain.ClientEvent) { e.Token = "" }},
		{"non-uuid token", func(e *domain.ClientEvent) { e.Token = "not-a-uuid" }},
		{"missing person", func(e *domain.ClientEvent) { e.PersonID = "" }},
		{"missing location", func(e *domain.ClientEvent) { e.LocationID = "" }},
		{"bad date", func(e *domain.ClientEvent) { e.PlannedDate = "24/08/2026" }},
		{"bad kind", func(e *domain.ClientEvent) { e.Kind = "PING" }},
		{"zero timestamp", func(e *domain.ClientEvent) { e.ClientTimestamp = time.Time{} }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			event := s.event(uuid.NewString(), domain.EventCheckIn, at)
			tc.mutate(&event)
			results := s.svc.Submit(s.ctx, []domain.ClientEvent{event})
			s.Equal(domain.TagMalformedEvent, results[0].Status)
		})
	}
}

// An offline day synced in one batch, with the check-out listed before the
// check-in: the reconciler reorders by client timestamp and the ledger
// ends at CLOSED, not an error.
func (s *ReconcilerSuite) TestReordersOutOfOrderBatch() {
	checkInAt := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	checkOutAt := checkInAt.Add(45 * time.Minute)

	results := s.svc.Submit(s.ctx, []domain.ClientEvent{
		s.event(uuid.NewString(), domain.EventCheckOut, checkOutAt),
		s.event(uuid.NewString(), domain.EventCheckIn, checkInAt),
	})

	s.Equal(domain.TagCommitted, results[0].Status)
	s.Equal(domain.TagCommitted, results[1].Status)
	s.Require().NotNil(results[0].Visit)
	s.Equal(domain.VisitStateClosed, results[0].Visit.State)
	s.Equal(45, results[0].Visit.DurationMin)
}

func (s *ReconcilerSuite) TestCheckOutAloneIsRejected() {
	results := s.svc.Submit(s.ctx, []domain.ClientEvent{
		s.event(uuid.NewString(), domain.EventCheckOut, time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC)),
	})
	s.Equal(domain.TagCheckOutWithoutCheckIn, results[0].Status)
}

// One key's rejection must not block another key in the same batch.
func (s *ReconcilerSuite) TestKeysFailIndependently() {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	bad := s.event(uuid.NewString(), domain.EventCheckIn, at)
	bad.LocationID = "loc-unregistered"
	good := s.event(uuid.NewString(), domain.EventCheckIn, at)

	results := s.svc.Submit(s.ctx, []domain.ClientEvent{bad, good})
	s.Equal(domain.TagUnknownLocation, results[0].Status)
	s.Equal(domain.TagCommitted, results[1].Status)
}

func (s *ReconcilerSuite) TestDuplicateTokenWithinBatch() {
	token := uuid.NewString()
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	event := s.event(token, domain.EventCheckIn, at)

	results := s.svc.Submit(s.ctx, []domain.ClientEvent{event, event})
	s.Equal(domain.TagCommitted, results[0].Status)
	s.Equal(domain.TagCommitted, results[1].Status)
	s.Equal(int64(1), s.store.puts.Load(), "one durable write for a duplicated token")
}

// slowLedger blocks until the per-event deadline fires.
type slowLedger struct{}

func (slowLedger) Commit(ctx context.Context, _ domain.ClientEvent) (domain.Visit, error) {
	<-ctx.Done()
	return domain.Visit{}, ctx.Err()
}

func (s *ReconcilerSuite) TestPerEventTimeout() {
	svc := NewService(slowLedger{}, NewInMemoryTokenStore(), nil, nil, time.Hour, 25*time.Millisecond)
	results := svc.Submit(s.ctx, []domain.ClientEvent{
		s.event(uuid.NewString(), domain.EventCheckIn, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)),
	})
	s.Equal(domain.TagTimeout, results[0].Status)
}

type TokenStoreSuite struct {
	suite.Suite
}

func TestTokenStoreSuite(t *testing.T) {
	suite.Run(t, new(TokenStoreSuite))
}

func (s *TokenStoreSuite) TestWindowExpiry() {
	store := NewInMemoryTokenStore()
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	rec := TokenRecord{Fingerprint: "fp-1"}
	s.Require().NoError(store.Remember(ctx, "per-a", "tok-a", rec, time.Hour))

	got, ok, err := store.Find(ctx, "per-a", "tok-a")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("fp-1", got.Fingerprint)

	s.Run("other person does not see the token", func() {
		_, ok, err := store.Find(ctx, "per-b", "tok-a")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("expired token is forgotten", func() {
		now = now.Add(2 * time.Hour)
		_, ok, err := store.Find(ctx, "per-a", "tok-a")
		s.Require().NoError(err)
		s.False(ok)
	})
}
