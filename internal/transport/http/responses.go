package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/storage"
)

type syncBatchResponse struct {
	Results []eventResult `json:"results"`
}

// eventResult mirrors reconciler.Result on the wire: the batch always
// answers 200 with per-event outcomes.
type eventResult struct {
	Token  string         `json:"token"`
	Status string         `json:"status"`
	Visit  *visitResponse `json:"visit,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type visitResponse struct {
	PersonID    string `json:"person_id"`
	LocationID  string `json:"location_id"`
	PlannedDate string `json:"planned_date"`
	SequenceNo  int    `json:"sequence_no"`
	State       string `json:"state"`

	CheckInAt        time.Time `json:"check_in_at"`
	CheckInLatitude  float64   `json:"check_in_latitude"`
	CheckInLongitude float64   `json:"check_in_longitude"`
	CheckInDistanceM float64   `json:"check_in_distance_m"`
	CheckInStatus    string    `json:"check_in_status"`

	CheckOutAt        *time.Time `json:"check_out_at,omitempty"`
	CheckOutLatitude  *float64   `json:"check_out_latitude,omitempty"`
	CheckOutLongitude *float64   `json:"check_out_longitude,omitempty"`
	CheckOutDistanceM *float64   `json:"check_out_distance_m,omitempty"`
	CheckOutStatus    string     `json:"check_out_status,omitempty"`

	DurationMin    int    `json:"duration_min,omitempty"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

func toVisitResponse(v domain.Visit) *visitResponse {
	out := &visitResponse{
		PersonID:         v.Key.PersonID,
		LocationID:       v.Key.LocationID,
		PlannedDate:      v.Key.PlannedDate,
		SequenceNo:       v.Key.SequenceNo,
		State:            string(v.State),
		CheckInAt:        v.CheckInAt,
		CheckInLatitude:  v.CheckInCoords.Lat,
		CheckInLongitude: v.CheckInCoords.Lon,
		CheckInDistanceM: v.CheckInDistanceM,
		CheckInStatus:    string(v.CheckInStatus),
		DurationMin:      v.DurationMin,
		AttachmentRef:    v.AttachmentRef,
		OverrideReason:   v.OverrideReason,
	}
	if !v.CheckOutAt.IsZero() {
		at := v.CheckOutAt
		lat, lon, dist := v.CheckOutCoords.Lat, v.CheckOutCoords.Lon, v.CheckOutDistanceM
		out.CheckOutAt = &at
		out.CheckOutLatitude = &lat
		out.CheckOutLongitude = &lon
		out.CheckOutDistanceM = &dist
		out.CheckOutStatus = string(v.CheckOutStatus)
	}
	return out
}

type sessionResponse struct {
	PersonID         string     `json:"person_id"`
	Date             string     `json:"date"`
	LoginAt          *time.Time `json:"login_at,omitempty"`
	LogoutAt         *time.Time `json:"logout_at,omitempty"`
	TotalVisits      int        `json:"total_visits"`
	OpenVisits       int        `json:"open_visits"`
	ValidatedMinutes int        `json:"validated_minutes"`
}

func toSessionResponse(d domain.DailySession) sessionResponse {
	out := sessionResponse{
		PersonID:         d.PersonID,
		Date:             d.Date,
		TotalVisits:      d.TotalVisits,
		OpenVisits:       d.OpenVisits,
		ValidatedMinutes: d.ValidatedMinutes,
	}
	if !d.LoginAt.IsZero() {
		at := d.LoginAt
		out.LoginAt = &at
	}
	if !d.LogoutAt.IsZero() {
		at := d.LogoutAt
		out.LogoutAt = &at
	}
	return out
}

type locationResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

func toLocationResponse(l domain.Location) locationResponse {
	return locationResponse{
		ID:           l.ID,
		Name:         l.Name,
		Latitude:     l.Coords.Lat,
		Longitude:    l.Coords.Lon,
		RadiusMeters: l.Radius(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses,
// keeping a consistent JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, domain.ErrUnknownLocation):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMalformedEvent):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
