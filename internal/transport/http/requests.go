package httptransport

import (
	"fmt"
	"time"

	"fieldtrack/internal/domain"
)

// syncBatchRequest is the ingest envelope from the mobile sync client.
type syncBatchRequest struct {
	Events []clientEventRequest `json:"events"`
}

type clientEventRequest struct {
	Token           string  `json:"token"`
	PersonID        string  `json:"person_id"`
	LocationID      string  `json:"location_id"`
	PlannedDate     string  `json:"planned_date"`
	Kind            string  `json:"kind"`
	ClientTimestamp string  `json:"client_timestamp"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	AttachmentRef   string  `json:"attachment_ref,omitempty"`
}

// toDomain parses the wire event. Timestamps are ISO-8601 with zone; a
// parse failure is a malformed event, reported per-event rather than
// failing the envelope.
func (r clientEventRequest) toDomain() (domain.ClientEvent, error) {
	ts, err := time.Parse(time.RFC3339, r.ClientTimestamp)
	if err != nil {
		return domain.ClientEvent{}, fmt.Errorf("%w: client_timestamp %q", domain.ErrMalformedEvent, r.ClientTimestamp)
	}
	return domain.ClientEvent{
		Token:           r.Token,
		PersonID:        r.PersonID,
		LocationID:      r.LocationID,
		PlannedDate:     r.PlannedDate,
		Kind:            domain.EventKind(r.Kind),
		ClientTimestamp: ts,
		Coords:          domain.Coordinates{Lat: r.Latitude, Lon: r.Longitude},
		AttachmentRef:   r.AttachmentRef,
	}, nil
}

type forceCloseRequest struct {
	// At defaults to the server clock when omitted.
	At     string `json:"at,omitempty"`
	Reason string `json:"reason"`
}

type upsertLocationRequest struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters,omitempty"`
}
