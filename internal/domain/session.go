package domain

import "time"

// DailySession is a materialized view of one person's visits for one day.
// It is always recomputed from visit records, never mutated directly, so it
// can be rebuilt from scratch after a restart or replay.
type DailySession struct {
	PersonID string
	Date     string // "2006-01-02"

	// LoginAt is the earliest check-in of the day.
	LoginAt time.Time
	// LogoutAt is the latest check-out; zero while any visit is still open.
	LogoutAt time.Time

	TotalVisits      int
	OpenVisits       int
	ValidatedMinutes int
}
