package domain

// Coordinates is a WGS84 point in decimal degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// DefaultGeofenceRadiusM applies when a location carries no explicit radius.
const DefaultGeofenceRadiusM = 50.0

// Location is owned by the location registry; the ledger only looks it up.
type Location struct {
	ID           string
	Name         string
	Coords       Coordinates
	RadiusMeters float64
}

// Radius returns the effective geofence radius in meters.
func (l Location) Radius() float64 {
	if l.RadiusMeters <= 0 {
		return DefaultGeofenceRadiusM
	}
	return l.RadiusMeters
}
