package llm

import (
	"context"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/frames"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role
	Content string
	// ToolCalls is set on assistant messages that asked for tools.
	ToolCalls []frames.ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
	Name       string
}

// Tool is a function the model may call. Schema is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Schema      any
}

type Params struct {
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature float64  `mapstructure:"temperature"`
	Stop        []string `mapstructure:"stop"`
}

// GenerationRequest is everything one model call sees.
type GenerationRequest struct {
	SystemPrompt string
	Messages     []Message
	Documents    []retrieval.Document
	Tools        []Tool
	Params       Params
}

// WithMessages returns a copy of r with msgs appended.
func (r GenerationRequest) WithMessages(msgs ...Message) GenerationRequest {
	out := r
	out.Messages = append(append(make([]Message, 0, len(r.Messages)+len(msgs)), r.Messages...), msgs...)
	return out
}

// LanguageModel streams tokens for a request. The returned channel is
// closed after a token with Final or Err set, or when ctx ends. Errors
// that prevent the stream from opening are returned directly.
type LanguageModel interface {
	Name() string
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan frames.StreamToken, error)
}
