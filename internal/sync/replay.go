package sync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/courserelay/courserelay/internal/model"
	"github.com/courserelay/courserelay/internal/remote"
)

// ReplayStats summarizes one replay cycle.
type ReplayStats struct {
	// Replayed actions were accepted by the server and removed.
	Replayed int
	// Failed actions hit a transient error and stay queued for the next cycle.
	Failed int
	// Dropped actions were permanently rejected by the server and removed
	// without effect.
	Dropped int
}

// Sync replays the pending-action queue against the server, in FIFO order.
// Only one cycle runs at a time: a call that arrives while another is in
// flight returns immediately with zero stats. Offline, it is likewise a
// no-op — the connectivity watcher in [Engine.Run] re-triggers it when the
// network comes back.
//
// Actions are removed from the queue only after the server accepts them
// (or permanently rejects them), so a crash mid-cycle re-delivers rather
// than loses. A transient failure stops neither the cycle nor later actions.
func (e *Engine) Sync(ctx context.Context) (ReplayStats, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.log.Debug("sync already in progress, skipping")
		return ReplayStats{}, nil
	}
	defer e.syncing.Store(false)

	if !e.net.Current() {
		e.log.Debug("offline, skipping sync")
		return ReplayStats{}, nil
	}

	ctx, span := e.tracer.Start(ctx, spanReplay)
	defer span.End()

	e.setStatus(ctx, func(s *model.SyncStatus) { s.SyncInProgress = true })

	actions, err := e.queue.BeginReplay(ctx)
	if err != nil {
		e.setStatus(ctx, func(s *model.SyncStatus) { s.SyncInProgress = false })
		span.SetStatus(codes.Error, err.Error())
		return ReplayStats{}, fmt.Errorf("reading pending actions: %w", err)
	}

	var stats ReplayStats
	done := make([]string, 0, len(actions))
	for _, action := range actions {
		actx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
		err := e.dispatch(actx, action)
		cancel()

		switch {
		case err == nil:
			done = append(done, action.ID())
			stats.Replayed++
		case remote.IsTerminal(err):
			e.log.Error("pending action permanently rejected, dropping",
				"id", action.ID(), "type", action.Type(), "error", err)
			done = append(done, action.ID())
			stats.Dropped++
		default:
			e.log.Warn("pending action failed, keeping for next cycle",
				"id", action.ID(), "type", action.Type(), "error", err)
			stats.Failed++
		}
	}

	if err := e.queue.CommitReplay(ctx, done); err != nil {
		e.setStatus(ctx, func(s *model.SyncStatus) { s.SyncInProgress = false })
		span.SetStatus(codes.Error, err.Error())
		// Accepted actions stay queued and will be re-sent; at-least-once,
		// not exactly-once.
		return stats, fmt.Errorf("committing replayed actions: %w", err)
	}

	pending := e.queueSize(ctx)
	e.setStatus(ctx, func(s *model.SyncStatus) {
		s.LastSync = e.now().UTC()
		s.PendingChanges = pending
		s.SyncInProgress = false
	})

	e.cntReplayed.Add(ctx, int64(stats.Replayed))
	e.cntFailed.Add(ctx, int64(stats.Failed))
	e.cntDropped.Add(ctx, int64(stats.Dropped))
	span.SetAttributes(
		attribute.Int("sync.replayed", stats.Replayed),
		attribute.Int("sync.failed", stats.Failed),
		attribute.Int("sync.dropped", stats.Dropped),
	)

	if stats.Replayed+stats.Failed+stats.Dropped > 0 {
		e.log.Info("replay cycle finished",
			"replayed", stats.Replayed, "failed", stats.Failed, "dropped", stats.Dropped)
	}
	return stats, nil
}

// dispatch routes one pending action to its dispatcher call. A [model.RawAction]
// deserialized from a newer client version cannot be replayed here and is
// reported as unknown; it stays queued rather than being silently dropped.
func (e *Engine) dispatch(ctx context.Context, action model.PendingAction) error {
	switch a := action.(type) {
	case model.CompleteLesson:
		return e.dispatcher.CompleteLesson(ctx, a.LessonID)
	case model.SubmitQuiz:
		return e.dispatcher.SubmitQuiz(ctx, a.QuizID, a.Answers, a.TimeSpentSec)
	case model.UpdateProgress:
		return e.dispatcher.UpdateProgress(ctx, a.LessonID, a.Progress)
	case model.EnrollModule:
		return e.dispatcher.EnrollModule(ctx, a.ModuleID)
	default:
		return fmt.Errorf("action %q: %w", action.Type(), model.ErrUnknownAction)
	}
}
