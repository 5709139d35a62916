package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
)

func TestBuildIsCaseInsensitive(t *testing.T) {
	r := Default()
	model, err := r.BuildLLM("  Mock ", map[string]any{"response_text": "hello there"})
	if err != nil {
		t.Fatalf("build llm: %v", err)
	}
	tokens, err := model.GenerateStream(context.Background(), llm.GenerationRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, _, err := llm.Collect(context.Background(), tokens)
	if err != nil || text != "hello there" {
		t.Fatalf("unexpected %q %v", text, err)
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	r := Default()
	if _, err := r.BuildTTS("polly", nil); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected not registered error, got %v", err)
	}
	if _, err := r.BuildRetriever("vector", nil); err == nil {
		t.Fatalf("expected unknown retriever error")
	}
}

func TestSettingsAreValidated(t *testing.T) {
	r := Default()
	if _, err := r.BuildLLM("openai", map[string]any{"model": "gpt"}); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing api_key, got %v", err)
	}
	if _, err := r.BuildTTS("mock", map[string]any{"voice": "x"}); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if _, err := r.BuildSTT("deepgram", map[string]any{"api_key": "k", "encoding": "mulaw"}); err == nil {
		t.Fatalf("expected encoding error")
	}
}

func TestOpenAIIsWrappedWithBreaker(t *testing.T) {
	r := Default()
	r.SetObserver(metrics.NewMemoryObserver())
	model, err := r.BuildLLM("openai", map[string]any{"api_key": "k", "model": "gpt-test"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := model.(*llm.BreakerModel); !ok {
		t.Fatalf("expected breaker wrapper, got %T", model)
	}
	model, err = r.BuildLLM("openai", map[string]any{"api_key": "k", "model": "gpt-test", "use_circuit_breaker": false})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := model.(*llm.RetryModel); !ok {
		t.Fatalf("expected retry wrapper, got %T", model)
	}
}

func TestMockProvidersFromSettings(t *testing.T) {
	r := Default()
	synth, err := r.BuildTTS("mock", map[string]any{"sample_rate": 8000, "per_char_ms": "10"})
	if err != nil {
		t.Fatalf("tts: %v", err)
	}
	audio, err := synth.Synthesize(context.Background(), "hello", tts.VoiceConfig{})
	if err != nil || audio.SampleRate != 8000 {
		t.Fatalf("unexpected audio %+v %v", audio, err)
	}

	factory, err := r.BuildSTT("mock", map[string]any{"transcript": "gold loan rates"})
	if err != nil {
		t.Fatalf("stt: %v", err)
	}
	streamer, err := factory(stt.Config{SessionID: "s1", Language: "en"})
	if err != nil || streamer == nil {
		t.Fatalf("factory: %v", err)
	}
	_ = streamer.Close()
}

func TestMemoryAndRetrieverDefaults(t *testing.T) {
	r := Default()
	store, err := r.BuildMemory("", nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(memory.Noop); !ok {
		t.Fatalf("expected noop store, got %T", store)
	}
	ret, err := r.BuildRetriever("", nil)
	if err != nil || ret != nil {
		t.Fatalf("expected nil retriever, got %v %v", ret, err)
	}
	ret, err = r.BuildRetriever("keyword", nil)
	if err != nil {
		t.Fatalf("keyword: %v", err)
	}
	docs, err := ret.Retrieve(context.Background(), "gold loan interest rate", retrieval.Options{TopK: 2})
	if err != nil || len(docs) == 0 {
		t.Fatalf("expected default documents, got %v %v", docs, err)
	}
}
