package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/resilience"
)

// Adapter streams chat completions from any OpenAI-compatible endpoint.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateStream opens one streaming completion. HTTP failures before the
// stream opens are returned directly: 429 as a rate limit, 5xx as transient.
func (a *Adapter) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan frames.StreamToken, error) {
	body, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(httpReq)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errorsx.Transient(errorsx.Wrap(err, errorsx.ReasonLLMGenerate))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: string(msg)}, errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		err := errorsx.Newf(errorsx.ReasonLLMGenerate, "openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return nil, errorsx.Transient(err)
		}
		return nil, err
	}

	out := make(chan frames.StreamToken, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		calls := map[int]*frames.ToolCall{}
		args := map[int]*strings.Builder{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			var c chunk
			if err := json.Unmarshal([]byte(data), &c); err != nil || len(c.Choices) == 0 {
				continue
			}
			delta := c.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				call, ok := calls[tc.Index]
				if !ok {
					call = &frames.ToolCall{}
					calls[tc.Index] = call
					args[tc.Index] = &strings.Builder{}
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				args[tc.Index].WriteString(tc.Function.Arguments)
			}
			if delta.Content != "" {
				if !llm.Send(ctx, out, frames.StreamToken{Text: delta.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() == nil {
				llm.Send(ctx, out, frames.StreamToken{Err: errorsx.Wrap(err, errorsx.ReasonLLMStream)})
			}
			return
		}
		llm.Send(ctx, out, frames.StreamToken{Final: true, ToolCalls: collect(calls, args)})
	}()
	return out, nil
}

func collect(calls map[int]*frames.ToolCall, args map[int]*strings.Builder) []frames.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]frames.ToolCall, 0, len(idx))
	for _, i := range idx {
		call := *calls[i]
		raw := strings.TrimSpace(args[i].String())
		if raw == "" {
			raw = "{}"
		}
		call.Arguments = json.RawMessage(raw)
		out = append(out, call)
	}
	return out
}

func (a *Adapter) buildRequest(req llm.GenerationRequest) (*bytes.Buffer, error) {
	if a.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	msgs := []chatMessage{{Role: "system", Content: systemContent(req.SystemPrompt, req.Documents)}}
	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			call := chatToolCall{Index: i, ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(tc.Arguments)
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		msgs = append(msgs, cm)
	}
	body := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": msgs,
	}
	if req.Params.MaxTokens > 0 {
		body["max_tokens"] = req.Params.MaxTokens
	}
	if req.Params.Temperature > 0 {
		body["temperature"] = req.Params.Temperature
	}
	if len(req.Params.Stop) > 0 {
		body["stop"] = req.Params.Stop
	}
	if len(req.Tools) > 0 {
		body["tools"] = mapTools(req.Tools)
		body["tool_choice"] = "auto"
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func mapTools(tools []llm.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}
	return out
}

// systemContent appends reference documents to the system prompt.
func systemContent(prompt string, docs []retrieval.Document) string {
	if len(docs) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nReference documents:")
	for i, d := range docs {
		fmt.Fprintf(&sb, "\n[%d] ", i+1)
		if d.Title != "" {
			sb.WriteString(d.Title)
			sb.WriteString(": ")
		}
		sb.WriteString(d.Content)
	}
	return sb.String()
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.LanguageModel = (*Adapter)(nil)
