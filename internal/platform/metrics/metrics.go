package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the visit core. Methods are
// nil-safe so tests can pass a nil *Metrics without registering anything.
type Metrics struct {
	CommitsTotal         *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	BatchSize            prometheus.Histogram
	DedupeReplays        prometheus.Counter
	TokenConflicts       prometheus.Counter
	TransitionsPublished prometheus.Counter
	SubscribersDropped   prometheus.Counter
	SessionsRecomputed   prometheus.Counter
	RelayFailures        prometheus.Counter
}

// New creates and registers all Prometheus metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		CommitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldtrack_commits_total",
			Help: "Ledger commit attempts by outcome tag",
		}, []string{"outcome"}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldtrack_commit_duration_seconds",
			Help:    "Latency of ledger commits including the durable write",
			Buckets: prometheus.DefBuckets,
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldtrack_sync_batch_size",
			Help:    "Events per submitted sync batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		DedupeReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_dedupe_replays_total",
			Help: "Events answered from the dedupe window without a ledger call",
		}),
		TokenConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_token_conflicts_total",
			Help: "Reused idempotency tokens with a different payload",
		}),
		TransitionsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_transitions_published_total",
			Help: "Visit transitions published to the event bus",
		}),
		SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_subscribers_dropped_total",
			Help: "Bus subscribers disconnected for exceeding their backlog",
		}),
		SessionsRecomputed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_sessions_recomputed_total",
			Help: "Daily session recomputations triggered by transitions",
		}),
		RelayFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldtrack_relay_failures_total",
			Help: "Kafka produce failures in the transition relay",
		}),
	}
}

func (m *Metrics) RecordCommit(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(outcome).Inc()
	m.CommitDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) DedupeReplay() {
	if m == nil {
		return
	}
	m.DedupeReplays.Inc()
}

func (m *Metrics) TokenConflict() {
	if m == nil {
		return
	}
	m.TokenConflicts.Inc()
}

func (m *Metrics) TransitionPublished() {
	if m == nil {
		return
	}
	m.TransitionsPublished.Inc()
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

func (m *Metrics) SessionRecomputed() {
	if m == nil {
		return
	}
	m.SessionsRecomputed.Inc()
}

func (m *Metrics) RelayFailure() {
	if m == nil {
		return
	}
	m.RelayFailures.Inc()
}
