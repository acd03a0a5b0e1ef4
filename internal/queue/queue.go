// Package queue persists the ordered list of pending actions — write intents
// the server has not yet confirmed. The queue never discards an action on its
// own initiative: entries leave only through [Queue.CommitReplay] after the
// sync engine has confirmed their dispatch, or through [Queue.Clear].
//
// Replay is an explicit two-phase protocol: [Queue.BeginReplay] returns a
// read-only snapshot, and [Queue.CommitReplay] removes exactly the actions
// whose IDs the engine reports as done. A crash between the two phases leaves
// the full queue intact, which is what makes delivery at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/courserelay/courserelay/internal/model"
	"github.com/courserelay/courserelay/internal/storage"
)

// Queue is a durable FIFO of [model.PendingAction], one per logical domain.
type Queue struct {
	kv  storage.Store
	key string
	log *slog.Logger

	// mu serialises load-modify-store cycles so a CommitReplay cannot
	// clobber an Enqueue that raced it.
	mu sync.Mutex

	now func() time.Time // swappable in tests
}

// New creates a Queue for the given domain (e.g. "lessons"). The domain
// determines the durable-store key, so distinct domains never interfere.
func New(kv storage.Store, domain string, logger *slog.Logger) *Queue {
	return &Queue{
		kv:  kv,
		key: "queue:" + domain,
		log: logger,
		now: time.Now,
	}
}

// Key returns the durable-store key this Queue owns.
func (q *Queue) Key() string { return q.key }

// Enqueue stamps the action (ID and creation time, if unset) and appends it
// durably. If the durable write fails the error propagates — the caller must
// never believe an action was queued when it was not.
func (q *Queue) Enqueue(ctx context.Context, action model.PendingAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	encoded, err := model.EncodeAction(model.StampAction(action, q.now()))
	if err != nil {
		return err
	}
	entries = append(entries, encoded)

	if err := q.save(ctx, entries); err != nil {
		return err
	}
	q.log.Debug("action queued", "type", action.Type(), "queued", len(entries))
	return nil
}

// BeginReplay returns the queued actions in append order without removing
// anything. Entries that fail to decode are logged and skipped — they stay in
// storage untouched, since dropping them here would violate the no-loss rule.
func (q *Queue) BeginReplay(ctx context.Context) ([]model.PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	actions := make([]model.PendingAction, 0, len(entries))
	for _, e := range entries {
		a, err := model.DecodeAction(e)
		if err != nil {
			q.log.Error("undecodable queue entry skipped for replay", "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// CommitReplay removes the actions with the given IDs and keeps everything
// else in its original relative order. The committed set is diffed against
// the queue's current durable contents, so actions enqueued after the
// matching [Queue.BeginReplay] survive untouched.
func (q *Queue) CommitReplay(ctx context.Context, doneIDs []string) error {
	if len(doneIDs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	done := make(map[string]struct{}, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = struct{}{}
	}

	remaining := entries[:0]
	for _, e := range entries {
		var env struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e, &env); err != nil {
			remaining = append(remaining, e) // keep what we cannot identify
			continue
		}
		if _, ok := done[env.ID]; !ok {
			remaining = append(remaining, e)
		}
	}

	if err := q.save(ctx, remaining); err != nil {
		return err
	}
	q.log.Debug("replay committed", "removed", len(entries)-len(remaining), "remaining", len(remaining))
	return nil
}

// Size returns the number of queued actions.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// IsEmpty reports whether no actions are queued.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Size(ctx)
	return n == 0, err
}

// Clear removes the whole queue. Intended for logout/privacy-reset flows.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.kv.Remove(ctx, q.key); err != nil {
		return fmt.Errorf("clearing queue %q: %w", q.key, err)
	}
	return nil
}

// load reads the stored entry list. Absent key means empty queue; a stored
// value that is not a JSON array is an error, never silently discarded.
func (q *Queue) load(ctx context.Context) ([]json.RawMessage, error) {
	raw, found, err := q.kv.Get(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("loading queue %q: %w", q.key, err)
	}
	if !found {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("queue %q is not a valid action list: %w", q.key, err)
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []json.RawMessage) error {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding queue %q: %w", q.key, err)
	}
	if err := q.kv.Set(ctx, q.key, string(b)); err != nil {
		return fmt.Errorf("persisting queue %q: %w", q.key, err)
	}
	return nil
}
