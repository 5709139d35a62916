package mock

import (
	"context"
	"strings"

	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
)

type LLMAdapter struct {
	cfg LLMConfig
}

type LLMConfig struct {
	ResponseText string `mapstructure:"response_text"`
	// StreamChunks overrides how ResponseText is split into tokens.
	StreamChunks []string `mapstructure:"stream_chunks"`
	// ToolCalls are requested on the first round of a turn, before any
	// tool result is in the conversation.
	ToolCalls []frames.ToolCall `mapstructure:"-"`
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "Thank you for your patience. Let me help you with that."
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan frames.StreamToken, error) {
	out := make(chan frames.StreamToken, 4)
	go func() {
		defer close(out)
		if len(a.cfg.ToolCalls) > 0 && !answeredTools(req) {
			llm.Send(ctx, out, frames.StreamToken{ToolCalls: a.cfg.ToolCalls, Final: true})
			return
		}
		chunks := a.cfg.StreamChunks
		if len(chunks) == 0 {
			chunks = strings.SplitAfter(a.cfg.ResponseText, " ")
		}
		for _, chunk := range chunks {
			if !llm.Send(ctx, out, frames.StreamToken{Text: chunk}) {
				return
			}
		}
		llm.Send(ctx, out, frames.StreamToken{Final: true})
	}()
	return out, nil
}

func answeredTools(req llm.GenerationRequest) bool {
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool {
			return true
		}
	}
	return false
}

var _ llm.LanguageModel = (*LLMAdapter)(nil)
