// Package geo classifies check-in/check-out coordinates against a
// location's geofence. It is pure: no state, no I/O.
package geo

import (
	"fmt"
	"math"

	"fieldtrack/internal/domain"
)

// Mean earth radius in meters (IUGG). Haversine over this radius is
// accurate to well under a meter for distances below 100 km.
const earthRadiusM = 6371008.8

// DistanceM returns the great-circle distance in meters between two points.
func DistanceM(a, b domain.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// Validate computes the distance between an observed point and a location's
// reference point and classifies it against the geofence radius:
//
//	distance <= radius      -> VALID
//	radius < d <= 2*radius  -> WARNING (accepted but flagged)
//	distance > 2*radius     -> INVALID (rejected)
//
// Both boundaries are inclusive on the lower side. A non-positive radius
// falls back to the 50 m default.
func Validate(observed, reference domain.Coordinates, radiusMeters float64) (float64, domain.GeoStatus, error) {
	if err := checkCoordinates(observed); err != nil {
		return 0, "", err
	}
	if err := checkCoordinates(reference); err != nil {
		return 0, "", err
	}
	if radiusMeters <= 0 {
		radiusMeters = domain.DefaultGeofenceRadiusM
	}

	d := DistanceM(observed, reference)
	switch {
	case d <= radiusMeters:
		return d, domain.GeoStatusValid, nil
	case d <= 2*radiusMeters:
		return d, domain.GeoStatusWarning, nil
	default:
		return d, domain.GeoStatusInvalid, nil
	}
}

func checkCoordinates(c domain.Coordinates) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", domain.ErrInvalidCoordinates, c.Lat, c.Lon)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", domain.ErrInvalidCoordinates, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", domain.ErrInvalidCoordinates, c.Lon)
	}
	return nil
}
