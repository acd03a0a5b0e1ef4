package model

import "time"

// SyncStatus is the engine's observable state, persisted to the durable store
// after every mutation and reloaded on startup. The UI layer renders its
// fields directly ("last synced 3m ago", "2 changes pending").
type SyncStatus struct {
	// LastSync is the completion time of the last successful remote fetch or
	// replay cycle. Zero means the engine has never synced.
	LastSync time.Time `json:"last_sync"`

	// IsOnline mirrors the reachability monitor's latest reading.
	IsOnline bool `json:"is_online"`

	// PendingChanges mirrors the pending-action queue length. The queue
	// itself is the source of truth; this field exists so the UI can render
	// a badge without touching the queue.
	PendingChanges int `json:"pending_changes"`

	// SyncInProgress is true while a replay cycle is running. At most one
	// cycle runs at a time.
	SyncInProgress bool `json:"sync_in_progress"`
}
