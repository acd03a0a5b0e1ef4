// Package sync implements the offline-first cache and replay engine for
// courserelay. Reads are served from the remote API when it is reachable and
// fall back to the local snapshot otherwise; writes that cannot be confirmed
// are queued durably and replayed when connectivity returns.
//
// The package contains two main flows:
//
//   - [Engine.GetCollection] / [Engine.GetModule] implement the
//     cache-or-remote read path.
//   - [Engine.Sync] drives the pending-action replay cycle; [Engine.Run]
//     schedules it from a poll ticker and reachability transitions.
package sync

import (
	"context"

	"github.com/courserelay/courserelay/internal/model"
)

// Source provides read access to the remote module catalog.
// Implemented by [remote.Client].
type Source interface {
	FetchPage(ctx context.Context, filters map[string]string) (*model.ModulePage, error)
	FetchByID(ctx context.Context, id string) (*model.Module, error)
}

// Dispatcher replays pending actions against the remote API, one method per
// action type. Implemented by [remote.Client].
type Dispatcher interface {
	CompleteLesson(ctx context.Context, lessonID string) error
	SubmitQuiz(ctx context.Context, quizID string, answers []int, timeSpentSec int) error
	UpdateProgress(ctx context.Context, lessonID string, progress float64) error
	EnrollModule(ctx context.Context, moduleID string) error
}

// Reachability reports network connectivity. Implemented by [netmon.Monitor].
// The engine consumes it read-only: it never probes, only reads and
// subscribes.
type Reachability interface {
	Current() bool
	OnChange(fn func(online bool))
}
