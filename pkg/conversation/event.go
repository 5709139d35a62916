package conversation

type EventKind int

const (
	EventCallStarted EventKind = iota
	EventUserIntent
	EventUserQuestion
	EventUserObjection
	EventUserAgreement
	EventUserRefusal
	EventFollowUpRequested
	EventEscalationRequested
	EventLowConfidence
	EventBargeIn
	EventTimeout
	EventToolResult
	EventTurnFailed
	EventCallEnded
	EventAgentReplied
	EventReset
)

var eventNames = map[EventKind]string{
	EventCallStarted:         "call_started",
	EventUserIntent:          "user_intent",
	EventUserQuestion:        "user_question",
	EventUserObjection:       "user_objection",
	EventUserAgreement:       "user_agreement",
	EventUserRefusal:         "user_refusal",
	EventFollowUpRequested:   "follow_up_requested",
	EventEscalationRequested: "escalation_requested",
	EventLowConfidence:       "low_confidence",
	EventBargeIn:             "barge_in",
	EventTimeout:             "timeout",
	EventToolResult:          "tool_result",
	EventTurnFailed:          "turn_failed",
	EventCallEnded:           "call_ended",
	EventAgentReplied:        "agent_replied",
	EventReset:               "reset",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is an input to the transition function. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind
	// Text is the caller utterance that produced the event, if any.
	Text       string
	Language   string
	Confidence float64

	Intent    string
	Topic     string
	Objection ObjectionKind
	Reason    string
	Slots     map[string]Slot

	CallID   string
	ToolName string
	ToolOK   bool

	// Reply is what the caller actually heard of an agent turn.
	Reply string
}

func (e Event) fromCaller() bool { return e.Text != "" }
