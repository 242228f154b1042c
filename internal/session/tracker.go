// Package session maintains the DailySession materialized view: one
// person's day in the field, derived entirely from ledger records. The
// tracker recomputes the affected day from scratch on every transition
// rather than accumulating deltas, so replays and restarts cannot drift
// the aggregate.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fieldtrack/internal/bus"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/platform/metrics"
)

// Ledger is the read seam the tracker recomputes from.
type Ledger interface {
	ListVisits(ctx context.Context, personID, fromDate, toDate string) ([]domain.Visit, error)
}

type sessionKey struct {
	personID string
	date     string
}

// Tracker caches DailySession aggregates and refreshes them as bus
// transitions arrive. Reads may lag a commit by one bus delivery; that
// staleness is the accepted price for never blocking writers.
type Tracker struct {
	ledger  Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[sessionKey]domain.DailySession
}

func NewTracker(ledger Ledger, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		ledger:   ledger,
		logger:   logger,
		metrics:  m,
		sessions: make(map[sessionKey]domain.DailySession),
	}
}

// Feed hands out fresh transition subscriptions.
type Feed interface {
	Subscribe() *bus.Subscription
}

// Follow keeps the tracker on the feed for the life of the context. When
// the bus drops the tracker as a slow subscriber, the cache is invalidated
// (entries computed before the drop may have missed transitions) and the
// tracker resubscribes, so reads stay at most one delivery stale.
func (t *Tracker) Follow(ctx context.Context, feed Feed) error {
	for {
		err := t.Run(ctx, feed.Subscribe())
		if !errors.Is(err, domain.ErrSlowSubscriber) {
			return err
		}
		if t.logger != nil {
			t.logger.Warn("session tracker dropped from feed, resubscribing")
		}
		t.invalidate()
	}
}

// Run consumes one subscription until the context ends or the feed closes.
// Returns ErrSlowSubscriber when the bus dropped the tracker; Follow is the
// driver that resubscribes and heals the cache.
func (t *Tracker) Run(ctx context.Context, sub *bus.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case transition, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			if _, err := t.Recompute(ctx, transition.Key.PersonID, transition.Key.PlannedDate); err != nil {
				if t.logger != nil {
					t.logger.Warn("session recompute failed",
						"person_id", transition.Key.PersonID,
						"date", transition.Key.PlannedDate,
						"error", err,
					)
				}
			}
		}
	}
}

// invalidate drops every cached aggregate; the next read recomputes from
// the ledger.
func (t *Tracker) invalidate() {
	t.mu.Lock()
	t.sessions = make(map[sessionKey]domain.DailySession)
	t.mu.Unlock()
}

// GetSession returns the daily aggregate, recomputing on a cache miss.
func (t *Tracker) GetSession(ctx context.Context, personID, date string) (domain.DailySession, error) {
	t.mu.RLock()
	cached, ok := t.sessions[sessionKey{personID, date}]
	t.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return t.Recompute(ctx, personID, date)
}

// Recompute rebuilds one (person, date) aggregate purely from visit
// records and caches the result.
func (t *Tracker) Recompute(ctx context.Context, personID, date string) (domain.DailySession, error) {
	visits, err := t.ledger.ListVisits(ctx, personID, date, date)
	if err != nil {
		return domain.DailySession{}, err
	}

	session := domain.DailySession{PersonID: personID, Date: date}
	anyOpen := false
	for _, v := range visits {
		session.TotalVisits++
		if session.LoginAt.IsZero() || v.CheckInAt.Before(session.LoginAt) {
			session.LoginAt = v.CheckInAt
		}
		switch v.State {
		case domain.VisitStateOpen:
			anyOpen = true
			session.OpenVisits++
		case domain.VisitStateClosed:
			// WARNING visits are accepted-but-flagged and count toward the
			// day's validated minutes; INVALID ones were never committed.
			session.ValidatedMinutes += v.DurationMin
			if v.CheckOutAt.After(session.LogoutAt) {
				session.LogoutAt = v.CheckOutAt
			}
		}
	}
	if anyOpen {
		// Still in the field: the day has no logout yet.
		session.LogoutAt = time.Time{}
	}

	t.mu.Lock()
	t.sessions[sessionKey{personID, date}] = session
	t.mu.Unlock()
	t.metrics.SessionRecomputed()
	return session, nil
}
