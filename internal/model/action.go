package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType tags a pending action variant on the wire.
type ActionType string

const (
	ActionCompleteLesson ActionType = "complete_lesson"
	ActionSubmitQuiz     ActionType = "submit_quiz"
	ActionUpdateProgress ActionType = "update_progress"
	ActionEnrollModule   ActionType = "enroll_module"
)

// PendingAction is a write intent that could not be confirmed by the server
// and awaits replay. An action is immutable once enqueued: replay either
// removes it (success) or keeps it verbatim (failure).
//
// The concrete variants are [CompleteLesson], [SubmitQuiz], [UpdateProgress],
// and [EnrollModule]. [RawAction] carries any unrecognised type through
// decode/encode without loss.
type PendingAction interface {
	// ID is the unique identifier assigned at enqueue time. Replay commits
	// reference actions by ID.
	ID() string

	// Type is the variant's wire tag.
	Type() ActionType

	// CreatedAt is the enqueue timestamp.
	CreatedAt() time.Time

	isPendingAction()
}

// ActionMeta carries the fields common to all variants. It is excluded from
// the payload encoding — the envelope stores it once.
type ActionMeta struct {
	ActionID  string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// NewActionMeta returns a meta with a fresh UUID and the given creation time.
func NewActionMeta(now time.Time) ActionMeta {
	return ActionMeta{ActionID: uuid.NewString(), Timestamp: now.UTC()}
}

func (m ActionMeta) ID() string           { return m.ActionID }
func (m ActionMeta) CreatedAt() time.Time { return m.Timestamp }
func (m ActionMeta) isPendingAction()     {}

// CompleteLesson marks a lesson as finished.
type CompleteLesson struct {
	ActionMeta
	LessonID string `json:"lesson_id"`
}

func (CompleteLesson) Type() ActionType { return ActionCompleteLesson }

// SubmitQuiz submits a user's quiz answers.
type SubmitQuiz struct {
	ActionMeta
	QuizID       string `json:"quiz_id"`
	Answers      []int  `json:"answers"`
	TimeSpentSec int    `json:"time_spent_sec"`
}

func (SubmitQuiz) Type() ActionType { return ActionSubmitQuiz }

// UpdateProgress records a user's progress within a lesson.
type UpdateProgress struct {
	ActionMeta
	LessonID string  `json:"lesson_id"`
	Progress float64 `json:"progress"`
}

func (UpdateProgress) Type() ActionType { return ActionUpdateProgress }

// EnrollModule enrolls the user in a module.
type EnrollModule struct {
	ActionMeta
	ModuleID string `json:"module_id"`
}

func (EnrollModule) Type() ActionType { return ActionEnrollModule }

// RawAction preserves an action whose type tag this build does not recognise
// (e.g. written by a newer app version). Its payload round-trips verbatim so
// the action survives in the queue until a build that understands it replays
// it.
type RawAction struct {
	ActionMeta
	Tag     ActionType
	Payload json.RawMessage
}

func (a RawAction) Type() ActionType { return a.Tag }

// actionEnvelope is the stored JSON form of a pending action.
type actionEnvelope struct {
	ID        string          `json:"id"`
	Type      ActionType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeAction serialises an action into its envelope form.
func EncodeAction(a PendingAction) ([]byte, error) {
	var payload json.RawMessage
	var err error

	switch v := a.(type) {
	case CompleteLesson:
		payload, err = json.Marshal(v)
	case SubmitQuiz:
		payload, err = json.Marshal(v)
	case UpdateProgress:
		payload, err = json.Marshal(v)
	case EnrollModule:
		payload, err = json.Marshal(v)
	case RawAction:
		payload = v.Payload
	default:
		return nil, fmt.Errorf("encoding action: unsupported variant %T", a)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", a.Type(), err)
	}

	env := actionEnvelope{
		ID:        a.ID(),
		Type:      a.Type(),
		Timestamp: a.CreatedAt(),
		Payload:   payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", a.Type(), err)
	}
	return b, nil
}

// DecodeAction deserialises an envelope back into its concrete variant.
// Unknown type tags decode to [RawAction] — they are a future build's
// business, not an error.
func DecodeAction(data []byte) (PendingAction, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding action envelope: %w", err)
	}

	meta := ActionMeta{ActionID: env.ID, Timestamp: env.Timestamp}

	switch env.Type {
	case ActionCompleteLesson:
		var a CompleteLesson
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		a.ActionMeta = meta
		return a, nil
	case ActionSubmitQuiz:
		var a SubmitQuiz
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		a.ActionMeta = meta
		return a, nil
	case ActionUpdateProgress:
		var a UpdateProgress
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		a.ActionMeta = meta
		return a, nil
	case ActionEnrollModule:
		var a EnrollModule
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		a.ActionMeta = meta
		return a, nil
	default:
		return RawAction{ActionMeta: meta, Tag: env.Type, Payload: env.Payload}, nil
	}
}

// StampAction fills in a zero-valued meta (blank ID or zero timestamp) and
// returns the updated action. Already-stamped actions pass through unchanged,
// so restamping on a retried enqueue cannot change an action's identity.
func StampAction(a PendingAction, now time.Time) PendingAction {
	stamp := func(m *ActionMeta) {
		if m.ActionID == "" {
			m.ActionID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now.UTC()
		}
	}

	switch v := a.(type) {
	case CompleteLesson:
		stamp(&v.ActionMeta)
		return v
	case SubmitQuiz:
		stamp(&v.ActionMeta)
		return v
	case UpdateProgress:
		stamp(&v.ActionMeta)
		return v
	case EnrollModule:
		stamp(&v.ActionMeta)
		return v
	case RawAction:
		stamp(&v.ActionMeta)
		return v
	default:
		return a
	}
}
