// Package bus is the in-process feed of committed visit transitions. The
// ledger is its only publisher; dashboards, the session tracker, and the
// kafka relay subscribe.
package bus

import (
	"log/slog"
	"sync"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/platform/metrics"
)

// DefaultBuffer is the per-subscriber backlog bound. A subscriber that
// falls this far behind is disconnected rather than allowed to block
// commits; it must resubscribe and re-sync current state via the query
// interface.
const DefaultBuffer = 256

// Bus fans committed transitions out to subscribers. Publish holds the
// subscriber list lock only long enough for a non-blocking channel send per
// subscriber, so transition order equals commit order on every live feed.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(buffer int, logger *slog.Logger, m *metrics.Metrics) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

// Subscribe returns a feed of every transition published after this call.
// There is no history replay: a new subscriber queries the ledger for
// current state first, then follows the feed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan domain.Transition, b.buffer), bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers a transition to every live subscriber in commit order.
// It never blocks: a subscriber whose backlog is full is dropped, its
// channel closed, and ErrSlowSubscriber recorded on its subscription.
func (b *Bus) Publish(t domain.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- t:
		default:
			sub.fail(domain.ErrSlowSubscriber)
			delete(b.subs, sub)
			b.metrics.SubscriberDropped()
			if b.logger != nil {
				b.logger.Warn("dropping slow subscriber",
					"backlog", b.buffer,
					"transition_id", t.ID,
				)
			}
		}
	}
	b.metrics.TransitionPublished()
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		sub.fail(nil)
	}
}

// Subscription is one subscriber's cursor into the transition feed.
type Subscription struct {
	ch   chan domain.Transition
	bus  *Bus
	once sync.Once

	errMu sync.Mutex
	err   error
}

// C yields transitions in commit order. It is closed when the subscriber
// is dropped or Close is called; check Err to tell the two apart.
func (s *Subscription) C() <-chan domain.Transition {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Err reports why the channel closed: ErrSlowSubscriber after a backlog
// drop, nil after a voluntary Close.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail closes the channel once and records the reason. Callers must hold
// the bus lock so no publish races the close.
func (s *Subscription) fail(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.ch)
	})
}
