package domain

import "time"

// VisitState is the lifecycle state of a visit. A visit that has never been
// checked into has no record at all; the zero state exists only inside
// transitions to describe that starting point.
type VisitState string

const (
	VisitStateNone   VisitState = "NONE"
	VisitStateOpen   VisitState = "OPEN"
	VisitStateClosed VisitState = "CLOSED"
)

// GeoStatus classifies how far a check-in/out landed from its location's
// geofence center.
type GeoStatus string

const (
	GeoStatusValid   GeoStatus = "VALID"
	GeoStatusWarning GeoStatus = "WARNING"
	GeoStatusInvalid GeoStatus = "INVALID"
)

// VisitKey identifies one visit instance. SequenceNo disambiguates repeat
// visits to the same location on the same day; the ledger assigns it in
// commit order starting at 1 and never reuses it.
type VisitKey struct {
	PersonID    string
	LocationID  string
	PlannedDate string // calendar date, "2006-01-02"
	SequenceNo  int
}

// Visit is the authoritative record owned by the ledger. Distances and
// statuses are computed at commit time and never recomputed, so later
// administrative changes to a location cannot rewrite history.
type Visit struct {
	Key   VisitKey
	State VisitState

	CheckInAt        time.Time
	CheckInCoords    Coordinates
	CheckInDistanceM float64
	CheckInStatus    GeoStatus
	CheckInToken     string

	CheckOutAt        time.Time
	CheckOutCoords    Coordinates
	CheckOutDistanceM float64
	CheckOutStatus    GeoStatus
	CheckOutToken     string

	// DurationMin is finalized when the visit closes.
	DurationMin int

	AttachmentRef  string
	OverrideReason string // set only by administrative force-close
}

// Transition is a committed change in a visit's state, published exactly
// once per durable commit.
type Transition struct {
	ID          string
	Key         VisitKey
	OldState    VisitState
	NewState    VisitState
	Visit       Visit
	CommittedAt time.Time
}
