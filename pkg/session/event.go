package session

import (
	"time"

	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/frames"
)

type EventKind string

const (
	EventAction       EventKind = "action"
	EventTransition   EventKind = "transition"
	EventTurnStarted  EventKind = "turn_started"
	EventTurnEnded    EventKind = "turn_ended"
	EventSentence     EventKind = "sentence"
	EventBargeIn      EventKind = "barge_in"
	EventRollback     EventKind = "rollback"
	EventError        EventKind = "error"
	EventClosed       EventKind = "closed"
	EventUtterance    EventKind = "utterance"
	EventToolFinished EventKind = "tool_finished"
)

// Event is the side channel for UIs and logs: actions as they are
// executed, stage transitions, turn boundaries and errors.
type Event struct {
	Kind      EventKind
	SessionID string
	TurnID    string
	At        time.Time

	Action   conversation.Action
	From, To string
	Sentence frames.SentenceUnit
	// Text is the utterance, the heard reply, or a tool name.
	Text      string
	Cancelled bool
	Outcome   conversation.Outcome
	Err       error
}
