// Package stream forwards committed transitions to Kafka for consumers
// outside the process (downstream dashboards, alert evaluators). The relay
// is a plain bus subscriber: produce failures are logged and counted, never
// surfaced back to the commit path.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fieldtrack/internal/bus"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/platform/metrics"
)

// Producer is the slice of *kgo.Client the relay uses.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// transitionMessage is the JSON payload produced per transition. Records
// are keyed by person so each person's transitions stay ordered per
// partition.
type transitionMessage struct {
	ID          string    `json:"id"`
	PersonID    string    `json:"person_id"`
	LocationID  string    `json:"location_id"`
	PlannedDate string    `json:"planned_date"`
	SequenceNo  int       `json:"sequence_no"`
	OldState    string    `json:"old_state"`
	NewState    string    `json:"new_state"`
	CommittedAt time.Time `json:"committed_at"`
}

type Relay struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewRelay(producer Producer, topic string, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{producer: producer, topic: topic, logger: logger, metrics: m}
}

// Run consumes the subscription until the context ends or the feed closes.
// Returning ErrSlowSubscriber means the relay fell too far behind and the
// operator must resubscribe after downstream re-syncs from the query
// interface.
func (r *Relay) Run(ctx context.Context, sub *bus.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case transition, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			r.produce(ctx, transition)
		}
	}
}

func (r *Relay) produce(ctx context.Context, t domain.Transition) {
	payload, err := json.Marshal(transitionMessage{
		ID:          t.ID,
		PersonID:    t.Key.PersonID,
		LocationID:  t.Key.LocationID,
		PlannedDate: t.Key.PlannedDate,
		SequenceNo:  t.Key.SequenceNo,
		OldState:    string(t.OldState),
		NewState:    string(t.NewState),
		CommittedAt: t.CommittedAt,
	})
	if err != nil {
		r.metrics.RelayFailure()
		return
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(t.Key.PersonID),
		Value: payload,
	}
	r.producer.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err == nil {
			return
		}
		r.metrics.RelayFailure()
		if r.logger != nil {
			r.logger.Warn("transition relay produce failed",
				"transition_id", t.ID,
				"error", err,
			)
		}
	})
}
