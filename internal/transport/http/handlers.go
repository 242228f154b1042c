package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/platform/middleware"
	"fieldtrack/internal/reconciler"
)

// Reconciler accepts sync batches.
type Reconciler interface {
	Submit(ctx context.Context, batch []domain.ClientEvent) []reconciler.Result
}

// VisitReader is the ledger's read surface plus the administrative
// override.
type VisitReader interface {
	GetVisit(ctx context.Context, key domain.VisitKey) (domain.Visit, error)
	ListVisits(ctx context.Context, personID, fromDate, toDate string) ([]domain.Visit, error)
	ForceClose(ctx context.Context, key domain.VisitKey, at time.Time, reason string) (domain.Visit, error)
}

// SessionReader serves daily aggregates.
type SessionReader interface {
	GetSession(ctx context.Context, personID, date string) (domain.DailySession, error)
}

// LocationAdmin is the registry's administrative surface.
type LocationAdmin interface {
	Upsert(ctx context.Context, loc domain.Location) error
	List(ctx context.Context) ([]domain.Location, error)
}

// Handler is the thin HTTP layer. It delegates to the core services so
// transport concerns remain isolated from business logic.
type Handler struct {
	reconciler Reconciler
	visits     VisitReader
	sessions   SessionReader
	locations  LocationAdmin
	logger     *slog.Logger
}

func NewHandler(rec Reconciler, visits VisitReader, sessions SessionReader, locations LocationAdmin, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: rec,
		visits:     visits,
		sessions:   sessions,
		locations:  locations,
		logger:     logger,
	}
}

// handleSyncBatch ingests a batch of client events and answers per-event
// outcomes. Only a malformed envelope fails the request as a whole.
func (h *Handler) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req syncBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid sync batch envelope",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrMalformedEvent))
		return
	}

	// Events that fail wire-level parsing are answered in place; the rest
	// go to the reconciler in one batch.
	events := make([]domain.ClientEvent, 0, len(req.Events))
	parseFailures := make(map[int]reconciler.Result)
	positions := make([]int, 0, len(req.Events))
	for i, raw := range req.Events {
		event, err := raw.toDomain()
		if err != nil {
			parseFailures[i] = reconciler.Result{
				Token:  raw.Token,
				Status: domain.ErrorTag(err),
				Error:  err.Error(),
			}
			continue
		}
		events = append(events, event)
		positions = append(positions, i)
	}

	submitted := h.reconciler.Submit(ctx, events)

	merged := make([]reconciler.Result, len(req.Events))
	for i, res := range submitted {
		merged[positions[i]] = res
	}
	for i, res := range parseFailures {
		merged[i] = res
	}

	resp := syncBatchResponse{Results: make([]eventResult, len(merged))}
	for i, res := range merged {
		out := eventResult{Token: res.Token, Status: res.Status, Error: res.Error}
		if res.Visit != nil {
			out.Visit = toVisitResponse(*res.Visit)
		}
		resp.Results[i] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: sequence number", domain.ErrMalformedEvent))
		return
	}
	key := domain.VisitKey{
		PersonID:    chi.URLParam(r, "personID"),
		LocationID:  chi.URLParam(r, "locationID"),
		PlannedDate: chi.URLParam(r, "date"),
		SequenceNo:  seq,
	}
	visit, err := h.visits.GetVisit(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitResponse(visit))
}

// handleForceClose is the administrative override for a visit whose
// check-out never arrived.
func (h *Handler) handleForceClose(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: sequence number", domain.ErrMalformedEvent))
		return
	}

	var req forceCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrMalformedEvent))
		return
	}
	if req.Reason == "" {
		writeError(w, fmt.Errorf("%w: reason is required", domain.ErrMalformedEvent))
		return
	}
	var at time.Time
	if req.At != "" {
		at, err = time.Parse(time.RFC3339, req.At)
		if err != nil {
			writeError(w, fmt.Errorf("%w: at %q", domain.ErrMalformedEvent, req.At))
			return
		}
	}

	key := domain.VisitKey{
		PersonID:    chi.URLParam(r, "personID"),
		LocationID:  chi.URLParam(r, "locationID"),
		PlannedDate: chi.URLParam(r, "date"),
		SequenceNo:  seq,
	}
	visit, err := h.visits.ForceClose(r.Context(), key, at, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "visit force-closed",
		"request_id", middleware.GetRequestID(r.Context()),
		"person_id", key.PersonID,
		"location_id", key.LocationID,
		"planned_date", key.PlannedDate,
		"sequence_no", key.SequenceNo,
		"reason", req.Reason,
	)
	writeJSON(w, http.StatusOK, toVisitResponse(visit))
}

func (h *Handler) handleListVisits(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("person_id")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = from
	}
	if personID == "" || !validDate(from) || !validDate(to) {
		writeError(w, fmt.Errorf("%w: person_id, from and to are required", domain.ErrMalformedEvent))
		return
	}

	visits, err := h.visits.ListVisits(r.Context(), personID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*visitResponse, len(visits))
	for i, v := range visits {
		out[i] = toVisitResponse(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": out})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("person_id")
	date := r.URL.Query().Get("date")
	if personID == "" || !validDate(date) {
		writeError(w, fmt.Errorf("%w: person_id and date are required", domain.ErrMalformedEvent))
		return
	}

	session, err := h.sessions.GetSession(r.Context(), personID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) handleUpsertLocation(w http.ResponseWriter, r *http.Request) {
	var req upsertLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrMalformedEvent))
		return
	}
	loc := domain.Location{
		ID:           chi.URLParam(r, "locationID"),
		Name:         req.Name,
		Coords:       domain.Coordinates{Lat: req.Latitude, Lon: req.Longitude},
		RadiusMeters: req.RadiusMeters,
	}
	if err := h.locations.Upsert(r.Context(), loc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.locations.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]locationResponse, len(locs))
	for i, l := range locs {
		out[i] = toLocationResponse(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": out})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
