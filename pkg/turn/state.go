package turn

import (
	"slices"
	"time"
)

type State int

const (
	StateSilence State = iota
	StateSpeechDetected
	StateSpeechActive
	StateSpeechEnd
	StateInterrupted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateSpeechDetected:
		return "SPEECH_DETECTED"
	case StateSpeechActive:
		return "SPEECH_ACTIVE"
	case StateSpeechEnd:
		return "SPEECH_END"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions is the complete transition table of the controller.
var validTransitions = map[State][]State{
	StateSilence:        {StateSpeechDetected},
	StateSpeechDetected: {StateSpeechActive, StateInterrupted, StateSilence},
	StateSpeechActive:   {StateSpeechEnd, StateInterrupted},
	StateInterrupted:    {StateSpeechEnd},
	StateSpeechEnd:      {StateSilence, StateSpeechDetected},
}

func transitionValid(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// Strategy decides whether caller speech may cut the agent off.
type Strategy interface {
	Name() string
	BargeInEnabled() bool
}

type AggressiveStrategy struct{}

func (AggressiveStrategy) Name() string         { return "aggressive" }
func (AggressiveStrategy) BargeInEnabled() bool { return true }

type PoliteStrategy struct{}

func (PoliteStrategy) Name() string         { return "polite" }
func (PoliteStrategy) BargeInEnabled() bool { return false }

// StrategyByName resolves "aggressive" (default) or "polite".
func StrategyByName(name string) Strategy {
	if name == "polite" {
		return PoliteStrategy{}
	}
	return AggressiveStrategy{}
}
