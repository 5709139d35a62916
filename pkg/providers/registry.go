// Package providers selects capability implementations by configured name.
package providers

import (
	"fmt"
	"strings"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
)

// STTFactory opens one streaming recognizer per session.
type STTFactory = func(cfg stt.Config) (stt.Streamer, error)

type (
	STTBuilder       func(settings map[string]any) (STTFactory, error)
	TTSBuilder       func(settings map[string]any) (tts.Synthesizer, error)
	LLMBuilder       func(settings map[string]any, obs metrics.Observer) (llm.LanguageModel, error)
	MemoryBuilder    func(settings map[string]any) (memory.Store, error)
	RetrieverBuilder func(settings map[string]any) (retrieval.Retriever, error)
)

type Registry struct {
	stt       map[string]STTBuilder
	tts       map[string]TTSBuilder
	llm       map[string]LLMBuilder
	memory    map[string]MemoryBuilder
	retriever map[string]RetrieverBuilder
	obs       metrics.Observer
}

func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]STTBuilder),
		tts:       make(map[string]TTSBuilder),
		llm:       make(map[string]LLMBuilder),
		memory:    make(map[string]MemoryBuilder),
		retriever: make(map[string]RetrieverBuilder),
	}
}

// Default returns a registry with every built-in provider registered.
func Default() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// SetObserver is handed to builders that report resilience metrics.
func (r *Registry) SetObserver(obs metrics.Observer) { r.obs = obs }

func (r *Registry) RegisterSTT(name string, b STTBuilder) { r.stt[key(name)] = b }

func (r *Registry) RegisterTTS(name string, b TTSBuilder) { r.tts[key(name)] = b }

func (r *Registry) RegisterLLM(name string, b LLMBuilder) { r.llm[key(name)] = b }

func (r *Registry) RegisterMemory(name string, b MemoryBuilder) { r.memory[key(name)] = b }

func (r *Registry) RegisterRetriever(name string, b RetrieverBuilder) { r.retriever[key(name)] = b }

func (r *Registry) BuildSTT(provider string, settings map[string]any) (STTFactory, error) {
	fn := r.stt[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(settings)
}

func (r *Registry) BuildTTS(provider string, settings map[string]any) (tts.Synthesizer, error) {
	fn := r.tts[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(settings)
}

func (r *Registry) BuildLLM(provider string, settings map[string]any) (llm.LanguageModel, error) {
	fn := r.llm[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(settings, r.obs)
}

// BuildMemory treats an empty provider as "noop".
func (r *Registry) BuildMemory(provider string, settings map[string]any) (memory.Store, error) {
	if key(provider) == "" {
		provider = "noop"
	}
	fn := r.memory[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("memory provider not registered: %s", provider)
	}
	return fn(settings)
}

// BuildRetriever returns a nil retriever for an empty provider; sessions
// then generate without grounding documents.
func (r *Registry) BuildRetriever(provider string, settings map[string]any) (retrieval.Retriever, error) {
	if key(provider) == "" || key(provider) == "none" {
		return nil, nil
	}
	fn := r.retriever[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("retriever provider not registered: %s", provider)
	}
	return fn(settings)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
