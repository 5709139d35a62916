package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/resilience"
)

func sse(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		fmt.Fprintf(w, "data: %s\n\n", l)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestGenerateStreamText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		sse(w,
			`{"choices":[{"delta":{"content":"Our rates "}}]}`,
			`{"choices":[{"delta":{"content":"start at 9.5%."}}]}`,
		)
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-test")
	a.BaseURL = srv.URL
	req := llm.GenerationRequest{
		SystemPrompt: "be brief",
		Documents:    []retrieval.Document{{Title: "Rates", Content: "9.5% per year"}},
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "rate?"}},
	}
	tokens, err := a.GenerateStream(context.Background(), req)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	text, calls, err := llm.Collect(context.Background(), tokens)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "Our rates start at 9.5%." || len(calls) != 0 {
		t.Fatalf("unexpected output %q %+v", text, calls)
	}
	msgs := got["messages"].([]any)
	system := msgs[0].(map[string]any)["content"].(string)
	if !strings.Contains(system, "Rates: 9.5% per year") {
		t.Fatalf("expected documents in system prompt, got %q", system)
	}
}

func TestGenerateStreamAccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_interest_rates","arguments":"{\"loan_"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"amount\":\"500000\"}"}}]}}]}`,
		)
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-test")
	a.BaseURL = srv.URL
	tokens, err := a.GenerateStream(context.Background(), llm.GenerationRequest{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, calls, err := llm.Collect(context.Background(), tokens)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "get_interest_rates" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if string(calls[0].Arguments) != `{"loan_amount":"500000"}` {
		t.Fatalf("unexpected arguments %s", calls[0].Arguments)
	}
}

func TestGenerateStreamClassifiesStatus(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", int(status.Load()))
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-test")
	a.BaseURL = srv.URL
	_, err := a.GenerateStream(context.Background(), llm.GenerationRequest{})
	if !resilience.IsRateLimit(err) || !errorsx.HasReason(err, errorsx.ReasonLLMRateLimit) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	status.Store(http.StatusBadGateway)
	_, err = a.GenerateStream(context.Background(), llm.GenerationRequest{})
	if !errorsx.IsTransient(err) {
		t.Fatalf("expected transient 5xx, got %v", err)
	}
}
