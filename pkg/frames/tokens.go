package frames

import "encoding/json"

// ToolCall is a model request for an external action embedded in a token stream.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// StreamToken is one incremental unit of model output.
type StreamToken struct {
	Text      string
	Final     bool
	ToolCalls []ToolCall
	Err       error
}

func (t StreamToken) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

// SentenceUnit is the unit handed to speech synthesis. Index is the
// generation order within a turn, starting at 0.
type SentenceUnit struct {
	TurnID string
	Index  int
	Text   string
}
