package llm

import (
	"context"
	"strings"

	"github.com/harunnryd/parley/pkg/frames"
)

// Collect drains a token stream into its text and tool calls. It stops at
// the first Final or error token.
func Collect(ctx context.Context, tokens <-chan frames.StreamToken) (string, []frames.ToolCall, error) {
	var sb strings.Builder
	var calls []frames.ToolCall
	for {
		select {
		case <-ctx.Done():
			return sb.String(), calls, ctx.Err()
		case tok, ok := <-tokens:
			if !ok {
				return sb.String(), calls, nil
			}
			if tok.Err != nil {
				return sb.String(), calls, tok.Err
			}
			sb.WriteString(tok.Text)
			calls = append(calls, tok.ToolCalls...)
			if tok.Final {
				return sb.String(), calls, nil
			}
		}
	}
}

// Send delivers tok unless ctx ends first.
func Send(ctx context.Context, out chan<- frames.StreamToken, tok frames.StreamToken) bool {
	select {
	case out <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}
