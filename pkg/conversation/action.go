package conversation

import (
	"encoding/json"
	"time"
)

type ActionKind int

const (
	ActionStartListening ActionKind = iota
	ActionSpeak
	ActionGenerateResponse
	ActionExecuteTool
	ActionCheckpoint
	ActionEndConversation
	ActionEscalate
	ActionScheduleFollowUp
	ActionUpdateSlot
	ActionDiagnostic
)

var actionNames = map[ActionKind]string{
	ActionStartListening:   "start_listening",
	ActionSpeak:            "speak",
	ActionGenerateResponse: "generate_response",
	ActionExecuteTool:      "execute_tool",
	ActionCheckpoint:       "checkpoint",
	ActionEndConversation:  "end_conversation",
	ActionEscalate:         "escalate",
	ActionScheduleFollowUp: "schedule_follow_up",
	ActionUpdateSlot:       "update_slot",
	ActionDiagnostic:       "diagnostic",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Action is an instruction for the session supervisor. Actions are
// consumed once and never stored.
type Action struct {
	Kind ActionKind

	// Text is spoken by Speak and describes a Diagnostic.
	Text string
	// Query and Topic drive GenerateResponse.
	Query string
	Topic string
	// Tool and Args describe ExecuteTool.
	Tool string
	Args json.RawMessage

	Outcome Outcome
	To      string
	Reason  string
	After   time.Duration
	Key     string
	Seq     int
}

func StartListening() Action   { return Action{Kind: ActionStartListening} }
func Speak(text string) Action { return Action{Kind: ActionSpeak, Text: text} }

func GenerateResponse(query, topic string) Action {
	return Action{Kind: ActionGenerateResponse, Query: query, Topic: topic}
}

func ExecuteTool(name string, args json.RawMessage) Action {
	return Action{Kind: ActionExecuteTool, Tool: name, Args: args}
}

func CheckpointTaken(seq int) Action { return Action{Kind: ActionCheckpoint, Seq: seq} }

func EndConversation(outcome Outcome) Action {
	return Action{Kind: ActionEndConversation, Outcome: outcome}
}

func Escalate(to, reason string) Action {
	return Action{Kind: ActionEscalate, To: to, Reason: reason}
}

func ScheduleFollowUp(after time.Duration, note string) Action {
	return Action{Kind: ActionScheduleFollowUp, After: after, Reason: note}
}

func UpdateSlot(key string) Action { return Action{Kind: ActionUpdateSlot, Key: key} }
func Diagnostic(msg string) Action { return Action{Kind: ActionDiagnostic, Text: msg} }

// Has reports whether actions contains one of kind.
func Has(actions []Action, kind ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Find returns the first action of kind.
func Find(actions []Action, kind ActionKind) (Action, bool) {
	for _, a := range actions {
		if a.Kind == kind {
			return a, true
		}
	}
	return Action{}, false
}
