//go:build integration

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fieldtrack/internal/domain"
	"fieldtrack/pkg/testutil/containers"
)

type RedisTokenStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisTokenStore
}

func TestRedisTokenStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTokenStoreSuite))
}

func (s *RedisTokenStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedisTokenStore(s.redis.Client)
}

func (s *RedisTokenStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisTokenStoreSuite) record() TokenRecord {
	return TokenRecord{
		Fingerprint: "fp-1",
		Visit: domain.Visit{
			Key: domain.VisitKey{
				PersonID:    "per-divya",
				LocationID:  "loc-1",
				PlannedDate: "2026-08-24",
				SequenceNo:  1,
			},
			State:         domain.VisitStateOpen,
			CheckInAt:     time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC),
			CheckInStatus: domain.GeoStatusValid,
		},
	}
}

func (s *RedisTokenStoreSuite) TestRememberAndFind() {
	ctx := context.Background()
	token := uuid.NewString()
	rec := s.record()

	s.Require().NoError(s.store.Remember(ctx, "per-divya", token, rec, time.Minute))

	got, ok, err := s.store.Find(ctx, "per-divya", token)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(rec.Fingerprint, got.Fingerprint)
	s.Equal(rec.Visit.Key, got.Visit.Key)
	s.True(rec.Visit.CheckInAt.Equal(got.Visit.CheckInAt))
}

func (s *RedisTokenStoreSuite) TestFindMiss() {
	_, ok, err := s.store.Find(context.Background(), "per-divya", uuid.NewString())
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisTokenStoreSuite) TestTokensAreScopedPerPerson() {
	ctx := context.Background()
	token := uuid.NewString()
	s.Require().NoError(s.store.Remember(ctx, "per-divya", token, s.record(), time.Minute))

	_, ok, err := s.store.Find(ctx, "per-other", token)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisTokenStoreSuite) TestWindowExpiry() {
	ctx := context.Background()
	token := uuid.NewString()
	s.Require().NoError(s.store.Remember(ctx, "per-divya", token, s.record(), 50*time.Millisecond))

	s.Eventually(func() bool {
		_, ok, err := s.store.Find(ctx, "per-divya", token)
		return err == nil && !ok
	}, 2*time.Second, 25*time.Millisecond)
}
