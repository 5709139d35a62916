package providers

import (
	"fmt"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/configutil"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/providers/deepgram"
	"github.com/harunnryd/parley/pkg/providers/elevenlabs"
	"github.com/harunnryd/parley/pkg/providers/keyword"
	"github.com/harunnryd/parley/pkg/providers/mock"
	"github.com/harunnryd/parley/pkg/providers/openai"
	"github.com/harunnryd/parley/pkg/providers/redismemory"
	"github.com/harunnryd/parley/pkg/resilience"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
	Endpointing    int    `mapstructure:"endpointing"`
	ConnectRetries *int   `mapstructure:"connect_retries"`
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	Retries           *int   `mapstructure:"retries"`
	RetryBackoffMS    int    `mapstructure:"retry_backoff_ms"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
}

type mockTTSSettings struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	PerCharMS  int `mapstructure:"per_char_ms"`
	LatencyMS  int `mapstructure:"latency_ms"`
}

type keywordSettings struct {
	Documents []keyword.Document `mapstructure:"documents"`
}

var (
	deepgramSchema = configutil.Schema{
		Path:     "providers.stt.settings",
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "vad_events", "utterance_end_ms", "endpointing", "connect_retries"},
	}
	mockSTTSchema = configutil.Schema{
		Path:     "providers.stt.settings",
		Optional: []string{"transcript", "interim_transcript", "emit_interim", "language", "after_frames"},
	}
	elevenlabsSchema = configutil.Schema{
		Path:     "providers.tts.settings",
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format", "stability", "similarity_boost", "base_url"},
	}
	mockTTSSchema = configutil.Schema{
		Path:     "providers.tts.settings",
		Optional: []string{"sample_rate", "channels", "per_char_ms", "latency_ms"},
	}
	openAISchema = configutil.Schema{
		Path:     "providers.llm.settings",
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url", "timeout_ms", "retries", "retry_backoff_ms", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
	}
	mockLLMSchema = configutil.Schema{
		Path:     "providers.llm.settings",
		Optional: []string{"response_text", "stream_chunks"},
	}
	redisSchema = configutil.Schema{
		Path:     "memory.settings",
		Required: []string{"addr"},
		Optional: []string{"password", "db", "key_prefix", "ttl"},
	}
	keywordSchema = configutil.Schema{
		Path:     "retrieval.settings",
		Optional: []string{"documents"},
	}
)

func registerBuiltins(r *Registry) {
	r.RegisterSTT("deepgram", func(settings map[string]any) (STTFactory, error) {
		var s deepgramSettings
		if err := deepgramSchema.Decode(settings, &s); err != nil {
			return nil, err
		}
		if s.Encoding != "" && s.Encoding != "linear16" {
			return nil, fmt.Errorf("providers.stt.settings.encoding must be linear16, got %s", s.Encoding)
		}
		utteranceEnd := configutil.Or(s.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("providers.stt.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		return deepgram.Factory(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       s.Language,
			SampleRate:     s.SampleRate,
			Encoding:       s.Encoding,
			Interim:        configutil.Or(s.Interim, true),
			VADEvents:      configutil.Or(s.VADEvents, true),
			ConnectRetries: configutil.Or(s.ConnectRetries, 2),
			Params: deepgram.Params{
				UtteranceEndMS: utteranceEnd,
				Endpointing:    s.Endpointing,
			},
		}), nil
	})

	r.RegisterSTT("mock", func(settings map[string]any) (STTFactory, error) {
		var cfg mock.STTConfig
		if err := mockSTTSchema.Decode(settings, &cfg); err != nil {
			return nil, err
		}
		return mock.Factory(cfg), nil
	})

	r.RegisterTTS("elevenlabs", func(settings map[string]any) (tts.Synthesizer, error) {
		var cfg elevenlabs.Config
		if err := elevenlabsSchema.Decode(settings, &cfg); err != nil {
			return nil, err
		}
		return elevenlabs.New(cfg)
	})

	r.RegisterTTS("mock", func(settings map[string]any) (tts.Synthesizer, error) {
		var s mockTTSSettings
		if err := mockTTSSchema.Decode(settings, &s); err != nil {
			return nil, err
		}
		return mock.NewTTS(mock.TTSConfig{
			SampleRate: s.SampleRate,
			Channels:   s.Channels,
			PerChar:    time.Duration(s.PerCharMS) * time.Millisecond,
			Latency:    time.Duration(s.LatencyMS) * time.Millisecond,
		}), nil
	})

	r.RegisterLLM("openai", func(settings map[string]any, obs metrics.Observer) (llm.LanguageModel, error) {
		var s openAISettings
		if err := openAISchema.Decode(settings, &s); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(s.APIKey, s.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		if s.TimeoutMS > 0 {
			adapter.Client.Timeout = time.Duration(s.TimeoutMS) * time.Millisecond
		}
		return wrapModel(adapter, s, obs), nil
	})

	r.RegisterLLM("mock", func(settings map[string]any, _ metrics.Observer) (llm.LanguageModel, error) {
		var cfg mock.LLMConfig
		if err := mockLLMSchema.Decode(settings, &cfg); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(cfg), nil
	})

	r.RegisterMemory("noop", func(map[string]any) (memory.Store, error) {
		return memory.Noop{}, nil
	})

	r.RegisterMemory("redis", func(settings map[string]any) (memory.Store, error) {
		var cfg redismemory.Config
		if err := redisSchema.Decode(settings, &cfg); err != nil {
			return nil, err
		}
		return redismemory.New(cfg), nil
	})

	r.RegisterRetriever("keyword", func(settings map[string]any) (retrieval.Retriever, error) {
		var s keywordSettings
		if err := keywordSchema.Decode(settings, &s); err != nil {
			return nil, err
		}
		if len(s.Documents) == 0 {
			s.Documents = keyword.DefaultDocuments()
		}
		for i, d := range s.Documents {
			if d.Content == "" {
				return nil, fmt.Errorf("retrieval.settings.documents[%d].content is required", i)
			}
		}
		return keyword.New(s.Documents), nil
	})
}

// wrapModel puts retries inside the breaker so one exhausted retry run
// counts as a single breaker failure.
func wrapModel(inner llm.LanguageModel, s openAISettings, obs metrics.Observer) llm.LanguageModel {
	backoff := time.Duration(s.RetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	policy := resilience.NewRetryPolicy(configutil.Or(s.Retries, 2), backoff)
	policy.MaxBackoff = 2 * time.Second
	retry := llm.NewRetryModel(inner, policy)
	retry.SetObserver(obs)
	if !configutil.Or(s.UseCircuitBreaker, true) {
		return retry
	}
	threshold := s.CircuitThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := time.Duration(s.CircuitCooldownMS) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	breaker := llm.NewBreakerModel(retry, resilience.NewCircuitBreaker(threshold, cooldown))
	breaker.SetObserver(obs)
	return breaker
}
