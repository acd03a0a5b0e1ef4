package model

import "errors"

// Sentinel errors shared by the engine and its adapters. Callers test with
// [errors.Is]; adapters wrap them with context via fmt.Errorf and %w.
var (
	// ErrNetworkUnavailable indicates no connectivity — the failure is local,
	// not the remote's fault.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrNoCachedData indicates a read could not be served because no valid
	// cached snapshot exists to fall back to.
	ErrNoCachedData = errors.New("no cached data available")

	// ErrNotFound indicates a requested item exists neither remotely
	// (unreachable) nor in the cached snapshot. Distinct from
	// [ErrNoCachedData], which means there is no snapshot at all.
	ErrNotFound = errors.New("item not found")

	// ErrUnknownAction indicates a pending action whose type tag has no
	// dispatch handler. Such actions are kept in the queue for retry, never
	// silently dropped.
	ErrUnknownAction = errors.New("unknown pending action type")
)
