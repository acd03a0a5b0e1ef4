package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTripAllVariants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := ActionMeta{ActionID: "a-1", Timestamp: now}

	actions := []PendingAction{
		CompleteLesson{ActionMeta: meta, LessonID: "lesson-9"},
		SubmitQuiz{ActionMeta: meta, QuizID: "quiz-7", Answers: []int{1, 3, 2}, TimeSpentSec: 42},
		UpdateProgress{ActionMeta: meta, LessonID: "lesson-9", Progress: 0.75},
		EnrollModule{ActionMeta: meta, ModuleID: "mod-4"},
	}

	for _, a := range actions {
		t.Run(string(a.Type()), func(t *testing.T) {
			b, err := EncodeAction(a)
			if err != nil {
				t.Fatalf("EncodeAction: %v", err)
			}
			got, err := DecodeAction(b)
			if err != nil {
				t.Fatalf("DecodeAction: %v", err)
			}
			if got.ID() != "a-1" {
				t.Errorf("ID = %q, want %q", got.ID(), "a-1")
			}
			if got.Type() != a.Type() {
				t.Errorf("Type = %q, want %q", got.Type(), a.Type())
			}
			if !got.CreatedAt().Equal(now) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt(), now)
			}
		})
	}
}

func TestDecode_PayloadFields(t *testing.T) {
	a := SubmitQuiz{
		ActionMeta:   ActionMeta{ActionID: "a-2", Timestamp: time.Now().UTC()},
		QuizID:       "quiz-7",
		Answers:      []int{0, 2, 1, 3},
		TimeSpentSec: 301,
	}
	b, err := EncodeAction(a)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	got, err := DecodeAction(b)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	sq, ok := got.(SubmitQuiz)
	if !ok {
		t.Fatalf("decoded to %T, want SubmitQuiz", got)
	}
	if sq.QuizID != "quiz-7" || sq.TimeSpentSec != 301 {
		t.Errorf("payload fields lost: %+v", sq)
	}
	if len(sq.Answers) != 4 || sq.Answers[1] != 2 {
		t.Errorf("answers lost: %v", sq.Answers)
	}
}

func TestDecode_UnknownTypePreservedVerbatim(t *testing.T) {
	raw := []byte(`{"id":"a-3","type":"rate_module","timestamp":"2026-03-01T12:00:00Z","payload":{"module_id":"mod-1","stars":5}}`)

	got, err := DecodeAction(raw)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	ra, ok := got.(RawAction)
	if !ok {
		t.Fatalf("decoded to %T, want RawAction", got)
	}
	if ra.Type() != "rate_module" {
		t.Errorf("Type = %q, want rate_module", ra.Type())
	}

	// Re-encoding must reproduce the original payload byte-for-byte.
	b, err := EncodeAction(ra)
	if err != nil {
		t.Fatalf("EncodeAction(RawAction): %v", err)
	}
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal re-encoded envelope: %v", err)
	}
	if string(env.Payload) != `{"module_id":"mod-1","stars":5}` {
		t.Errorf("payload mutated on round trip: %s", env.Payload)
	}
}

func TestDecode_MalformedEnvelope(t *testing.T) {
	if _, err := DecodeAction([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestStampAction_FillsZeroMeta(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stamped := StampAction(CompleteLesson{LessonID: "l-1"}, now)
	if stamped.ID() == "" {
		t.Error("expected non-empty ID after stamping")
	}
	if !stamped.CreatedAt().Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", stamped.CreatedAt(), now)
	}
}

func TestStampAction_PreservesExistingMeta(t *testing.T) {
	orig := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := EnrollModule{
		ActionMeta: ActionMeta{ActionID: "keep-me", Timestamp: orig},
		ModuleID:   "mod-1",
	}

	stamped := StampAction(a, time.Now().UTC())
	if stamped.ID() != "keep-me" {
		t.Errorf("ID = %q, want keep-me", stamped.ID())
	}
	if !stamped.CreatedAt().Equal(orig) {
		t.Errorf("CreatedAt = %v, want %v", stamped.CreatedAt(), orig)
	}
}

func TestNewActionMeta_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		m := NewActionMeta(time.Now())
		if m.ActionID == "" {
			t.Fatal("empty action ID")
		}
		if seen[m.ActionID] {
			t.Fatalf("duplicate action ID %q", m.ActionID)
		}
		seen[m.ActionID] = true
	}
}
