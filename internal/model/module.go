// Package model defines shared types used across the cache, queue, sync
// engine, and remote adapter.
package model

import "time"

// Module is the normalised representation of a course module as served by the
// learning API and cached locally. Field names mirror the API's JSON schema.
type Module struct {
	// ID is the server-assigned module identifier. Cache upserts key on it.
	ID string `json:"id"`

	// Title is the module's display title.
	Title string `json:"title"`

	// Description is the module's summary text.
	Description string `json:"description,omitempty"`

	// Category is the catalog category (e.g. "civics", "history").
	Category string `json:"category,omitempty"`

	// Difficulty is the server's difficulty label ("beginner", "advanced", …).
	Difficulty string `json:"difficulty,omitempty"`

	// LessonCount is the number of lessons the module contains.
	LessonCount int `json:"lesson_count,omitempty"`

	// DurationMinutes is the estimated total duration.
	DurationMinutes int `json:"duration_minutes,omitempty"`

	// Enrolled is true when the current user is enrolled in the module.
	Enrolled bool `json:"enrolled,omitempty"`

	// Progress is the user's completion fraction in [0, 1].
	Progress float64 `json:"progress,omitempty"`

	// UpdatedAt is the server-side last-modified time.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ModulePage is one page of the module catalog as returned by the remote
// fetcher. Total is the server's count across all pages and is treated as an
// opaque echo — it is never cross-checked against len(Items).
type ModulePage struct {
	Items []Module `json:"items"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
}
