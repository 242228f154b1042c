package domain

import "time"

// EventKind discriminates the two submission types a mobile client sends.
type EventKind string

const (
	EventCheckIn  EventKind = "CHECK_IN"
	EventCheckOut EventKind = "CHECK_OUT"
)

// ClientEvent is the wire-level submission unit. It is ephemeral: the
// reconciler consumes it and retains only its token inside the dedupe
// window.
type ClientEvent struct {
	Token           string // client-generated idempotency token (uuid)
	PersonID        string
	LocationID      string
	PlannedDate     string // "2006-01-02"
	Kind            EventKind
	ClientTimestamp time.Time
	Coords          Coordinates
	AttachmentRef   string
}
