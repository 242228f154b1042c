package storage

import "errors"

// Sentinel errors for store facts. Services translate these into domain
// errors; ErrUnavailable maps to a retryable StorageUnavailable rejection.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("store unavailable")
)
