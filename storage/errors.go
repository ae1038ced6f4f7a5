package storage

import "errors"

// Sentinel errors returned by stores. Callers distinguish failure modes with
// errors.Is rather than string matching.
var (
	// ErrNotFound indicates the requested record does not exist (or was
	// already consumed).
	ErrNotFound = errors.New("storage: not found")

	// ErrExpired indicates the record existed but outlived its TTL.
	// The record is removed as a side effect of the lookup.
	ErrExpired = errors.New("storage: expired")

	// ErrInvalidSecret indicates client secret validation failed.
	ErrInvalidSecret = errors.New("storage: invalid client secret")
)
