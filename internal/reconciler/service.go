// Package reconciler accepts raw sync batches from mobile clients:
// possibly delayed, out of order, or duplicated. It deduplicates by
// idempotency token, orders each key's events by client timestamp, and
// forwards well-formed transitions to the ledger. The ledger's state
// machine stays the final arbiter; the reconciler's ordering is a
// best-effort optimization.
package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/platform/metrics"
)

// Ledger is the commit seam to the visit ledger.
type Ledger interface {
	Commit(ctx context.Context, event domain.ClientEvent) (domain.Visit, error)
}

// Result is the per-event outcome of a batch submission.
type Result struct {
	Token  string
	Status string        // TagCommitted or an error tag
	Visit  *domain.Visit // set when Status == TagCommitted
	Error  string        // detail for rejected events
}

const (
	DefaultDedupeTTL    = 24 * time.Hour
	DefaultEventTimeout = 5 * time.Second
	// maxBatchConcurrency caps the keys processed in parallel per batch.
	maxBatchConcurrency = 8
)

type Service struct {
	ledger       Ledger
	tokens       TokenStore
	logger       *slog.Logger
	metrics      *metrics.Metrics
	dedupeTTL    time.Duration
	eventTimeout time.Duration
}

func NewService(ledger Ledger, tokens TokenStore, logger *slog.Logger, m *metrics.Metrics, dedupeTTL, eventTimeout time.Duration) *Service {
	if dedupeTTL <= 0 {
		dedupeTTL = DefaultDedupeTTL
	}
	if eventTimeout <= 0 {
		eventTimeout = DefaultEventTimeout
	}
	return &Service{
		ledger:       ledger,
		tokens:       tokens,
		logger:       logger,
		metrics:      m,
		dedupeTTL:    dedupeTTL,
		eventTimeout: eventTimeout,
	}
}

// Submit processes a batch and returns one Result per event, in the
// batch's order. Events for different visit keys proceed concurrently;
// one key's failure never blocks another's.
func (s *Service) Submit(ctx context.Context, batch []domain.ClientEvent) []Result {
	s.metrics.ObserveBatchSize(len(batch))
	results := make([]Result, len(batch))

	// Group well-formed events by visit triple; malformed ones are
	// answered in place.
	groups := make(map[string][]int)
	for i, event := range batch {
		if err := validateEvent(event); err != nil {
			results[i] = failure(event.Token, err)
			continue
		}
		key := event.PersonID + "\x1f" + event.LocationID + "\x1f" + event.PlannedDate
		groups[key] = append(groups[key], i)
	}

	// A device syncing an offline day may batch a key's events out of
	// order: sort by client timestamp, check-ins ahead of check-outs on
	// ties.
	for _, idxs := range groups {
		sort.SliceStable(idxs, func(a, b int) bool {
			ea, eb := batch[idxs[a]], batch[idxs[b]]
			if !ea.ClientTimestamp.Equal(eb.ClientTimestamp) {
				return ea.ClientTimestamp.Before(eb.ClientTimestamp)
			}
			return ea.Kind == domain.EventCheckIn && eb.Kind == domain.EventCheckOut
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(maxBatchConcurrency)
	for _, idxs := range groups {
		g.Go(func() error {
			for _, i := range idxs {
				results[i] = s.processOne(ctx, batch[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) processOne(parent context.Context, event domain.ClientEvent) Result {
	ctx, cancel := context.WithTimeout(parent, s.eventTimeout)
	defer cancel()

	fp := fingerprint(event)

	rec, seen, err := s.tokens.Find(ctx, event.PersonID, event.Token)
	if err != nil {
		// The window is an optimization; on lookup failure fall through to
		// the ledger, whose token checks still make the commit idempotent.
		if s.logger != nil {
			s.logger.Warn("dedupe window lookup failed", "token", event.Token, "error", err)
		}
		seen = false
	}
	if seen {
		if rec.Fingerprint == fp {
			s.metrics.DedupeReplay()
			visit := rec.Visit
			return Result{Token: event.Token, Status: domain.TagCommitted, Visit: &visit}
		}
		s.metrics.TokenConflict()
		return failure(event.Token, fmt.Errorf("%w: token %s reused with a different payload",
			domain.ErrTokenConflict, event.Token))
	}

	visit, err := s.ledger.Commit(ctx, event)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(event.Token, fmt.Errorf("%w: event exceeded %s", domain.ErrTimeout, s.eventTimeout))
		}
		return failure(event.Token, err)
	}

	if err := s.tokens.Remember(ctx, event.PersonID, event.Token, TokenRecord{Fingerprint: fp, Visit: visit}, s.dedupeTTL); err != nil {
		if s.logger != nil {
			s.logger.Warn("dedupe window write failed", "token", event.Token, "error", err)
		}
	}
	return Result{Token: event.Token, Status: domain.TagCommitted, Visit: &visit}
}

func failure(token string, err error) Result {
	return Result{Token: token, Status: domain.ErrorTag(err), Error: err.Error()}
}

func validateEvent(e domain.ClientEvent) error {
	switch {
	case e.Token == "":
		return fmt.Errorf("%w: missing idempotency token", domain.ErrMalformedEvent)
	case e.PersonID == "":
		return fmt.Errorf("%w: missing person_id", domain.ErrMalformedEvent)
	case e.LocationID == "":
		return fmt.Errorf("%w: missing location_id", domain.ErrMalformedEvent)
	case e.ClientTimestamp.IsZero():
		return fmt.Errorf("%w: missing client_timestamp", domain.ErrMalformedEvent)
	}
	if _, err := uuid.Parse(e.Token); err != nil {
		return fmt.Errorf("%w: idempotency token must be a uuid", domain.ErrMalformedEvent)
	}
	if _, err := time.Parse("2006-01-02", e.PlannedDate); err != nil {
		return fmt.Errorf("%w: planned_date %q is not a calendar date", domain.ErrMalformedEvent, e.PlannedDate)
	}
	if e.Kind != domain.EventCheckIn && e.Kind != domain.EventCheckOut {
		return fmt.Errorf("%w: event kind %q", domain.ErrMalformedEvent, e.Kind)
	}
	return nil
}

// fingerprint hashes the payload fields that define an event's identity. A
// resubmission with the same token must match it exactly to be replayed.
func fingerprint(e domain.ClientEvent) string {
	parts := []string{
		e.PersonID,
		e.LocationID,
		e.PlannedDate,
		string(e.Kind),
		e.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(e.Coords.Lat, 'f', -1, 64),
		strconv.FormatFloat(e.Coords.Lon, 'f', -1, 64),
		e.AttachmentRef,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
