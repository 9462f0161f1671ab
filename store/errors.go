package store

import "errors"

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint, including the at-most-one-live-refresh-token-per-session
// partial unique index.
var ErrDuplicate = errors.New("store: duplicate row")

// ErrUnavailable wraps transport-level failures talking to the backing
// database so callers can distinguish them from domain outcomes.
var ErrUnavailable = errors.New("store: unavailable")
