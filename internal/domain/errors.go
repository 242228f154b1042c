package domain

import "errors"

// Sentinel errors for the visit core, grouped by how the caller should
// react. Services return these (optionally wrapped) so transports can
// translate them into per-event result tags.
//
// Input errors are rejected immediately and never retried by the core.
// Sequencing errors are permanent rejections the client must reconcile.
// Transient errors are safe to retry under the same idempotency token.
var (
	// input
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUnknownLocation    = errors.New("unknown location")
	ErrOutsideGeofence    = errors.New("outside geofence")
	ErrMalformedEvent     = errors.New("malformed event")
	ErrTokenConflict      = errors.New("token conflict")

	// sequencing
	ErrDuplicateCheckIn       = errors.New("duplicate check-in")
	ErrDuplicateCheckOut      = errors.New("duplicate check-out")
	ErrCheckOutWithoutCheckIn = errors.New("check-out without check-in")
	ErrOutOfOrderTimestamps   = errors.New("check-out not after check-in")

	// transient
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("timeout")

	// capacity; reported to the affected subscriber, never to submitters
	ErrSlowSubscriber = errors.New("subscriber backlog exceeded")
)

// Result tags for the ingest wire protocol. Each maps 1:1 to a sentinel.
const (
	TagCommitted              = "COMMITTED"
	TagInvalidCoordinates     = "INVALID_COORDINATES"
	TagUnknownLocation        = "UNKNOWN_LOCATION"
	TagOutsideGeofence        = "OUTSIDE_GEOFENCE"
	TagMalformedEvent         = "MALFORMED_EVENT"
	TagTokenConflict          = "TOKEN_CONFLICT"
	TagDuplicateCheckIn       = "DUPLICATE_CHECK_IN"
	TagDuplicateCheckOut      = "DUPLICATE_CHECK_OUT"
	TagCheckOutWithoutCheckIn = "CHECK_OUT_WITHOUT_CHECK_IN"
	TagOutOfOrderTimestamps   = "OUT_OF_ORDER_TIMESTAMPS"
	TagStorageUnavailable     = "STORAGE_UNAVAILABLE"
	TagTimeout                = "TIMEOUT"
	TagInternal               = "INTERNAL"
)

// ErrorTag maps an error to its wire-level result tag.
func ErrorTag(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCoordinates):
		return TagInvalidCoordinates
	case errors.Is(err, ErrUnknownLocation):
		return TagUnknownLocation
	case errors.Is(err, ErrOutsideGeofence):
		return TagOutsideGeofence
	case errors.Is(err, ErrMalformedEvent):
		return TagMalformedEvent
	case errors.Is(err, ErrTokenConflict):
		return TagTokenConflict
	case errors.Is(err, ErrDuplicateCheckIn):
		return TagDuplicateCheckIn
	case errors.Is(err, ErrDuplicateCheckOut):
		return TagDuplicateCheckOut
	case errors.Is(err, ErrCheckOutWithoutCheckIn):
		return TagCheckOutWithoutCheckIn
	case errors.Is(err, ErrOutOfOrderTimestamps):
		return TagOutOfOrderTimestamps
	case errors.Is(err, ErrStorageUnavailable):
		return TagStorageUnavailable
	case errors.Is(err, ErrTimeout):
		return TagTimeout
	default:
		return TagInternal
	}
}
