package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/location"
	"fieldtrack/internal/storage"
)

const (
	testPerson   = "per-ravi"
	testLocation = "loc-koramangala"
	testDate     = "2026-08-24"
)

var testCoords = domain.Coordinates{Lat: 12.9716, Lon: 77.5946}

// recordingBus captures published transitions in order.
type recordingBus struct {
	mu          sync.Mutex
	transitions []domain.Transition
}

func (b *recordingBus) Publish(t domain.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, t)
}

func (b *recordingBus) all() []domain.Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Transition{}, b.transitions...)
}

// countingStore wraps the in-memory store to count and optionally fail
// durable writes.
type countingStore struct {
	*storage.InMemoryVisitStore
	puts    atomic.Int64
	failPut atomic.Bool
}

func (s *countingStore) Put(ctx context.Context, v domain.Visit) error {
	if s.failPut.Load() {
		return storage.ErrUnavailable
	}
	s.puts.Add(1)
	return s.InMemoryVisitStore.Put(ctx, v)
}

type LedgerSuite struct {
	suite.Suite
	ctx      context.Context
	store    *countingStore
	registry *location.InMemoryRegistry
	bus      *recordingBus
	svc      *Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &countingStore{InMemoryVisitStore: storage.NewInMemoryVisitStore()}
	s.registry = location.NewInMemoryRegistry()
	s.bus = &recordingBus{}
	s.svc = NewService(s.store, s.registry, s.bus, nil, nil)

	err := s.registry.Upsert(s.ctx, domain.Location{
		ID:           testLocation,
		Name:         "Koramangala branch",
		Coords:       testCoords,
		RadiusMeters: 50,
	})
	s.Require().NoError(err)
}

func (s *LedgerSuite) checkIn(token string, at time.Time, coords domain.Coordinates) (domain.Visit, error) {
	return s.svc.Commit(s.ctx, domain.ClientEvent{
		Token:           token,
		PersonID:        testPerson,
		LocationID:      testLocation,
		PlannedDate:     testDate,
		Kind:            domain.EventCheckIn,
		ClientTimestamp: at,
		Coords:          coords,
	})
}

func (s *LedgerSuite) checkOut(token string, at time.Time, coords domain.Coordinates) (domain.Visit, error) {
	return s.svc.Commit(s.ctx, domain.ClientEvent{
		Token:           token,
		PersonID:        testPerson,
		LocationID:      testLocation,
		PlannedDate:     testDate,
		Kind:            domain.EventCheckOut,
		ClientTimestamp: at,
		Coords:          coords,
	})
}

func (s *LedgerSuite) TestCheckInOpensVisit() {
	at := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	visit, err := s.checkIn("tok-1", at, testCoords)
	s.Require().NoError(err)

	s.Equal(domain.VisitStateOpen, visit.State)
	s.Equal(1, visit.Key.SequenceNo)
	s.Equal(domain.GeoStatusValid, visit.CheckInStatus)
	s.Zero(visit.CheckInDistanceM)
	s.Equal(at, visit.CheckInAt)

	transitions := s.bus.all()
	s.Require().Len(transitions, 1)
	s.Equal(domain.VisitStateNone, transitions[0].OldState)
	s.Equal(domain.VisitStateOpen, transitions[0].NewState)
}

func (s *LedgerSuite) TestUnknownLocation() {
	_, err := s.svc.Commit(s.ctx, domain.ClientEvent{
		Token:           "tok-1",
		PersonID:        testPerson,
		LocationID:      "loc-nowhere",
		PlannedDate:     testDate,
		Kind:            domain.EventCheckIn,
		ClientTimestamp: time.Now(),
		Coords:          testCoords,
	})
	s.ErrorIs(err, domain.ErrUnknownLocation)
	s.Empty(s.bus.all())
}

func (s *LedgerSuite) TestInvalidCoordinates() {
	_, err := s.checkIn("tok-1", time.Now(), domain.Coordinates{Lat: 91, Lon: 0})
	s.ErrorIs(err, domain.ErrInvalidCoordinates)
	s.Zero(s.store.puts.Load())
}

func (s *LedgerSuite) TestOutsideGeofenceRejected() {
	far := domain.Coordinates{Lat: 12.99, Lon: 77.60} // kilometers away
	_, err := s.checkIn("tok-1", time.Now(), far)
	s.ErrorIs(err, domain.ErrOutsideGeofence)
	s.Zero(s.store.puts.Load())
	s.Empty(s.bus.all())
}

func (s *LedgerSuite) TestDuplicateCheckIn() {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	first, err := s.checkIn("tok-1", at, testCoords)
	s.Require().NoError(err)

	s.Run("different token while open is rejected", func() {
		_, err := s.checkIn("tok-2", at.Add(time.Second), testCoords)
		s.ErrorIs(err, domain.ErrDuplicateCheckIn)
	})

	s.Run("same token replays the stored visit without a new write", func() {
		before := s.store.puts.Load()
		replay, err := s.checkIn("tok-1", at, testCoords)
		s.Require().NoError(err)
		s.Equal(first, replay)
		s.Equal(before, s.store.puts.Load())
		s.Len(s.bus.all(), 1, "replay must not publish again")
	})
}

func (s *LedgerSuite) TestCheckOutWithoutCheckIn() {
	_, err := s.checkOut("tok-1", time.Now(), testCoords)
	s.ErrorIs(err, domain.ErrCheckOutWithoutCheckIn)
	s.Empty(s.bus.all())
}

// Full lifecycle at the Koramangala branch: exact check-in, a 40 minute
// visit, check-out from across the street lands in the warning band.
func (s *LedgerSuite) TestVisitLifecycle() {
	checkInAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	_, err := s.checkIn("tok-in", checkInAt, testCoords)
	s.Require().NoError(err)

	checkOutAt := checkInAt.Add(40 * time.Minute)
	acrossTheStreet := domain.Coordinates{Lat: 12.9720, Lon: 77.5950}
	visit, err := s.checkOut("tok-out", checkOutAt, acrossTheStreet)
	s.Require().NoError(err)

	s.Equal(domain.VisitStateClosed, visit.State)
	s.Equal(domain.GeoStatusValid, visit.CheckInStatus)
	s.Equal(domain.GeoStatusWarning, visit.CheckOutStatus)
	s.Greater(visit.CheckOutDistanceM, 50.0)
	s.LessOrEqual(visit.CheckOutDistanceM, 100.0)
	s.Equal(40, visit.DurationMin)

	transitions := s.bus.all()
	s.Require().Len(transitions, 2)
	s.Equal(domain.VisitStateOpen, transitions[1].OldState)
	s.Equal(domain.VisitStateClosed, transitions[1].NewState)
}

func (s *LedgerSuite) TestCheckOutTimestampMustAdvance() {
	checkInAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	_, err := s.checkIn("tok-in", checkInAt, testCoords)
	s.Require().NoError(err)

	for _, at := range []time.Time{checkInAt, checkInAt.Add(-time.Minute)} {
		_, err := s.checkOut("tok-out", at, testCoords)
		s.ErrorIs(err, domain.ErrOutOfOrderTimestamps)
	}

	// The open visit is untouched by the rejections.
	visit, err := s.svc.GetVisit(s.ctx, domain.VisitKey{
		PersonID: testPerson, LocationID: testLocation, PlannedDate: testDate, SequenceNo: 1,
	})
	s.Require().NoError(err)
	s.Equal(domain.VisitStateOpen, visit.State)
}

func (s *LedgerSuite) TestDuplicateCheckOut() {
	checkInAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	_, err := s.checkIn("tok-in", checkInAt, testCoords)
	s.Require().NoError(err)
	closed, err := s.checkOut("tok-out", checkInAt.Add(time.Hour), testCoords)
	s.Require().NoError(err)

	s.Run("same token replays", func() {
		replay, err := s.checkOut("tok-out", checkInAt.Add(time.Hour), testCoords)
		s.Require().NoError(err)
		s.Equal(closed, replay)
	})

	s.Run("different token is rejected", func() {
		_, err := s.checkOut("tok-other", checkInAt.Add(2*time.Hour), testCoords)
		s.ErrorIs(err, domain.ErrDuplicateCheckOut)
	})
}

func (s *LedgerSuite) TestRepeatVisitGetsNextSequence() {
	morning := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	_, err := s.checkIn("tok-1", morning, testCoords)
	s.Require().NoError(err)
	_, err = s.checkOut("tok-2", morning.Add(30*time.Minute), testCoords)
	s.Require().NoError(err)

	afternoon, err := s.checkIn("tok-3", morning.Add(6*time.Hour), testCoords)
	s.Require().NoError(err)
	s.Equal(2, afternoon.Key.SequenceNo)
	s.Equal(domain.VisitStateOpen, afternoon.State)

	visits, err := s.svc.ListVisits(s.ctx, testPerson, testDate, testDate)
	s.Require().NoError(err)
	s.Len(visits, 2)
}

// Two devices racing a check-in for the same person/location/date: exactly
// one transitions NONE->OPEN, the rest see DuplicateCheckIn.
func (s *LedgerSuite) TestConcurrentCheckInsSameKey() {
	const devices = 16
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var accepted, duplicates atomic.Int32
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.checkIn("tok-dev-"+string(rune('a'+n)), at, testCoords)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrDuplicateCheckIn):
				duplicates.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), accepted.Load())
	s.Equal(int32(devices-1), duplicates.Load())
	s.Len(s.bus.all(), 1)
}

func (s *LedgerSuite) TestStorageFailureCommitsNothing() {
	s.store.failPut.Store(true)
	_, err := s.checkIn("tok-1", time.Now(), testCoords)
	s.ErrorIs(err, domain.ErrStorageUnavailable)
	s.Empty(s.bus.all(), "nothing may be published without a durable write")

	// The same token succeeds once storage recovers.
	s.store.failPut.Store(false)
	visit, err := s.checkIn("tok-1", time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), testCoords)
	s.Require().NoError(err)
	s.Equal(domain.VisitStateOpen, visit.State)
}

func (s *LedgerSuite) TestOpenVisit() {
	_, err := s.svc.OpenVisit(s.ctx, testPerson, testLocation, testDate)
	s.ErrorIs(err, storage.ErrNotFound)

	checkInAt := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	_, err = s.checkIn("tok-1", checkInAt, testCoords)
	s.Require().NoError(err)

	open, err := s.svc.OpenVisit(s.ctx, testPerson, testLocation, testDate)
	s.Require().NoError(err)
	s.Equal(1, open.Key.SequenceNo)

	_, err = s.checkOut("tok-2", checkInAt.Add(time.Hour), testCoords)
	s.Require().NoError(err)
	_, err = s.svc.OpenVisit(s.ctx, testPerson, testLocation, testDate)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *LedgerSuite) TestForceClose() {
	checkInAt := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	open, err := s.checkIn("tok-1", checkInAt, testCoords)
	s.Require().NoError(err)

	closed, err := s.svc.ForceClose(s.ctx, open.Key, checkInAt.Add(2*time.Hour), "device lost")
	s.Require().NoError(err)
	s.Equal(domain.VisitStateClosed, closed.State)
	s.Equal("device lost", closed.OverrideReason)
	s.Equal(120, closed.DurationMin)
	s.Len(s.bus.all(), 2)

	s.Run("force-closing a closed visit is a no-op", func() {
		again, err := s.svc.ForceClose(s.ctx, open.Key, time.Now(), "again")
		s.Require().NoError(err)
		s.Equal(closed, again)
		s.Len(s.bus.all(), 2)
	})
}
