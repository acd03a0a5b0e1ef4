package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/courserelay/courserelay/internal/model"
	"github.com/courserelay/courserelay/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestQueue(t *testing.T) (*Queue, storage.Store) {
	t.Helper()
	kv, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, "lessons", testLogger()), kv
}

func enqueueN(t *testing.T, q *Queue, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := range n {
		a := model.StampAction(model.CompleteLesson{LessonID: fmt.Sprintf("lesson-%d", i)}, time.Now())
		if err := q.Enqueue(ctx, a); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		ids = append(ids, a.ID())
	}
	return ids
}

func TestEnqueue_StampsAndAppends(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, model.SubmitQuiz{QuizID: "quiz-7", Answers: []int{1, 2}, TimeSpentSec: 42}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	actions, err := q.BeginReplay(ctx)
	if err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if actions[0].ID() == "" {
		t.Error("enqueued action has no ID")
	}
	if actions[0].CreatedAt().IsZero() {
		t.Error("enqueued action has no timestamp")
	}
}

func TestBeginReplay_IsAPeek(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	enqueueN(t, q, 3)

	if _, err := q.BeginReplay(ctx); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}

	// Peeking must not remove anything.
	n, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 3 {
		t.Errorf("Size after peek = %d, want 3", n)
	}
}

func TestAppendOrderPreserved(t *testing.T) {
	q, _ := openTestQueue(t)
	enqueueN(t, q, 5)

	actions, err := q.BeginReplay(context.Background())
	if err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	for i, a := range actions {
		cl, ok := a.(model.CompleteLesson)
		if !ok {
			t.Fatalf("action %d decoded to %T", i, a)
		}
		if want := fmt.Sprintf("lesson-%d", i); cl.LessonID != want {
			t.Errorf("position %d holds %q, want %q", i, cl.LessonID, want)
		}
	}
}

// Crash-simulated restart: everything enqueued before the crash must be
// present, in order, after reloading from the durable store.
func TestSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	kv1, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	q1 := New(kv1, "lessons", testLogger())
	ids := enqueueN(t, q1, 4)
	if err := kv1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv2, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = kv2.Close() }()
	q2 := New(kv2, "lessons", testLogger())

	actions, err := q2.BeginReplay(ctx)
	if err != nil {
		t.Fatalf("BeginReplay after restart: %v", err)
	}
	if len(actions) != 4 {
		t.Fatalf("got %d actions after restart, want 4", len(actions))
	}
	for i, a := range actions {
		if a.ID() != ids[i] {
			t.Errorf("position %d: ID %q, want %q", i, a.ID(), ids[i])
		}
	}
}

func TestCommitReplay_RemovesAll(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	ids := enqueueN(t, q, 3)

	if err := q.CommitReplay(ctx, ids); err != nil {
		t.Fatalf("CommitReplay: %v", err)
	}

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("queue not empty after committing every action")
	}
}

// Committing positions {0, 2, 4} of 5 must keep exactly {1, 3} in their
// original relative order.
func TestCommitReplay_PartialKeepsOrder(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	ids := enqueueN(t, q, 5)

	if err := q.CommitReplay(ctx, []string{ids[0], ids[2], ids[4]}); err != nil {
		t.Fatalf("CommitReplay: %v", err)
	}

	actions, err := q.BeginReplay(ctx)
	if err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d surviving actions, want 2", len(actions))
	}
	if actions[0].ID() != ids[1] || actions[1].ID() != ids[3] {
		t.Errorf("survivors out of order: got [%s %s], want [%s %s]",
			actions[0].ID(), actions[1].ID(), ids[1], ids[3])
	}
}

// An action enqueued between BeginReplay and CommitReplay must survive the
// commit.
func TestCommitReplay_PreservesConcurrentEnqueue(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	ids := enqueueN(t, q, 2)

	if _, err := q.BeginReplay(ctx); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}

	late := model.StampAction(model.EnrollModule{ModuleID: "mod-9"}, time.Now())
	if err := q.Enqueue(ctx, late); err != nil {
		t.Fatalf("Enqueue during replay: %v", err)
	}

	if err := q.CommitReplay(ctx, ids); err != nil {
		t.Fatalf("CommitReplay: %v", err)
	}

	actions, err := q.BeginReplay(ctx)
	if err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	if len(actions) != 1 || actions[0].ID() != late.ID() {
		t.Errorf("late enqueue lost: %+v", actions)
	}
}

func TestCommitReplay_EmptyDoneIsNoOp(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	enqueueN(t, q, 2)

	if err := q.CommitReplay(ctx, nil); err != nil {
		t.Fatalf("CommitReplay(nil): %v", err)
	}
	n, _ := q.Size(ctx)
	if n != 2 {
		t.Errorf("Size = %d, want 2", n)
	}
}

func TestUnknownActionTypeRoundTrips(t *testing.T) {
	q, kv := openTestQueue(t)
	ctx := context.Background()

	// Simulate an entry written by a newer build with an unknown type tag.
	raw := `[{"id":"future-1","type":"rate_module","timestamp":"2026-03-01T12:00:00Z","payload":{"stars":5}}]`
	if err := kv.Set(ctx, q.Key(), raw); err != nil {
		t.Fatalf("Set: %v", err)
	}

	actions, err := q.BeginReplay(ctx)
	if err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if _, ok := actions[0].(model.RawAction); !ok {
		t.Fatalf("unknown type decoded to %T, want RawAction", actions[0])
	}

	// Not committing it must leave it stored verbatim.
	if err := q.CommitReplay(ctx, []string{"something-else"}); err != nil {
		t.Fatalf("CommitReplay: %v", err)
	}
	n, _ := q.Size(ctx)
	if n != 1 {
		t.Errorf("unknown action dropped: size = %d, want 1", n)
	}
}

func TestSizeAndIsEmpty(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("new queue not empty")
	}

	enqueueN(t, q, 3)
	n, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 3 {
		t.Errorf("Size = %d, want 3", n)
	}
}

func TestClear(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	enqueueN(t, q, 3)

	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	empty, _ := q.IsEmpty(ctx)
	if !empty {
		t.Error("queue not empty after Clear")
	}
}

func TestDomainsAreIsolated(t *testing.T) {
	_, kv := openTestQueue(t)
	ctx := context.Background()

	lessons := New(kv, "lessons", testLogger())
	catalog := New(kv, "catalog", testLogger())

	if err := lessons.Enqueue(ctx, model.CompleteLesson{LessonID: "l-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, err := catalog.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 0 {
		t.Errorf("catalog queue sees lessons entries: size = %d", n)
	}
}

// errStore simulates durable-write failure: the enqueue must report it.
type errStore struct {
	storage.Store
	failSet bool
}

func (e *errStore) Set(ctx context.Context, key, value string) error {
	if e.failSet {
		return fmt.Errorf("disk full")
	}
	return e.Store.Set(ctx, key, value)
}

func TestEnqueue_PersistFailurePropagates(t *testing.T) {
	_, kv := openTestQueue(t)
	es := &errStore{Store: kv, failSet: true}
	q := New(es, "lessons", testLogger())

	err := q.Enqueue(context.Background(), model.CompleteLesson{LessonID: "l-1"})
	if err == nil {
		t.Fatal("expected error when durable write fails")
	}
}
