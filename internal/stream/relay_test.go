package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"fieldtrack/internal/bus"
	"fieldtrack/internal/domain"
)

type recordingProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
}

func (p *recordingProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	p.mu.Unlock()
	if promise != nil {
		promise(r, nil)
	}
}

func (p *recordingProducer) all() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kgo.Record{}, p.records...)
}

type RelaySuite struct {
	suite.Suite
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) TestForwardsTransitions() {
	b := bus.New(16, nil, nil)
	producer := &recordingProducer{}
	relay := NewRelay(producer, "fieldtrack.transitions", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx, b.Subscribe())
	}()

	committedAt := time.Date(2026, 8, 24, 9, 40, 0, 0, time.UTC)
	b.Publish(domain.Transition{
		ID:          "t-1",
		Key:         domain.VisitKey{PersonID: "per-a", LocationID: "loc-a", PlannedDate: "2026-08-24", SequenceNo: 1},
		OldState:    domain.VisitStateNone,
		NewState:    domain.VisitStateOpen,
		CommittedAt: committedAt,
	})

	s.Require().Eventually(func() bool { return len(producer.all()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	record := producer.all()[0]
	s.Equal("fieldtrack.transitions", record.Topic)
	s.Equal("per-a", string(record.Key), "records are keyed by person for per-person ordering")

	var msg transitionMessage
	s.Require().NoError(json.Unmarshal(record.Value, &msg))
	s.Equal("t-1", msg.ID)
	s.Equal("NONE", msg.OldState)
	s.Equal("OPEN", msg.NewState)
	s.Equal(committedAt, msg.CommittedAt)
}

func (s *RelaySuite) TestStopsWhenFeedCloses() {
	b := bus.New(16, nil, nil)
	relay := NewRelay(&recordingProducer{}, "fieldtrack.transitions", nil, nil)

	sub := b.Subscribe()
	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background(), sub) }()

	sub.Close()
	select {
	case err := <-done:
		s.NoError(err, "voluntary close is not an error")
	case <-time.After(time.Second):
		s.Fail("relay did not stop after the feed closed")
	}
}
