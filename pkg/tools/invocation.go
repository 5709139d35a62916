package tools

import (
	"encoding/json"
	"errors"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Invocation is one tool call requested by the model.
type Invocation struct {
	CallID string
	Name   string
	Args   json.RawMessage
	// IdempotencyKey is forwarded to tools that side-effect. Empty keys are
	// derived from the session and call id.
	IdempotencyKey string
}

type ErrorKind string

const (
	ErrorExecution   ErrorKind = "execution"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorInvalidArgs ErrorKind = "invalid_args"
	ErrorUnknownTool ErrorKind = "unknown_tool"
	ErrorCancelled   ErrorKind = "cancelled"
)

type ErrorResult struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorResult) Error() string { return string(e.Kind) + ": " + e.Message }

// Result is the outcome of one Invocation. Exactly one of Output and Err
// is set.
type Result struct {
	CallID string
	Name   string
	Output json.RawMessage
	Err    *ErrorResult
}

func (r Result) OK() bool { return r.Err == nil }

// Content is the text folded back into the model conversation.
func (r Result) Content() string {
	if r.Err != nil {
		raw, _ := json.Marshal(map[string]any{"error": r.Err})
		return string(raw)
	}
	return string(r.Output)
}
