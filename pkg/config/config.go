// Package config loads the service configuration from a YAML file and
// PARLEY_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/session"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Logging       logging.Config      `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Memory        VendorConfig        `mapstructure:"memory"`
	Retrieval     VendorConfig        `mapstructure:"retrieval"`
	Session       session.Config      `mapstructure:"session"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ProvidersConfig struct {
	// STT may be empty when clients send transcripts instead of audio.
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	WSPath       string        `mapstructure:"ws_path"`
	MetricsPath  string        `mapstructure:"metrics_path"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// MaxSessions rejects new calls once reached. Zero means unlimited.
	MaxSessions     int      `mapstructure:"max_sessions"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAnyOrigin  bool     `mapstructure:"allow_any_origin"`
	ReadBufferSize  int      `mapstructure:"read_buffer_size"`
	WriteBufferSize int      `mapstructure:"write_buffer_size"`
}

type ConversationConfig struct {
	HistoryLimit  int                          `mapstructure:"history_limit"`
	MaxMisses     int                          `mapstructure:"max_misses"`
	FollowUpAfter time.Duration                `mapstructure:"follow_up_after"`
	Phrases       map[string]map[string]string `mapstructure:"phrases"`
}

// Rules builds the transition table these knobs describe.
func (c ConversationConfig) Rules() *conversation.Rules {
	return conversation.NewRules(conversation.RulesConfig{
		HistoryLimit:  c.HistoryLimit,
		MaxMisses:     c.MaxMisses,
		FollowUpAfter: c.FollowUpAfter,
		Phrases:       conversation.NewPhrasebook(c.Phrases),
	})
}

type ToolsConfig struct {
	// Enabled lists the loan tools to register. Empty registers all of them.
	Enabled []string `mapstructure:"enabled"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	Namespace   string `mapstructure:"namespace"`
	Prometheus  bool   `mapstructure:"prometheus"`
	EventBuffer int    `mapstructure:"event_buffer"`
	// SampleRate is the share of sessions whose events reach the debug
	// logger, the timeline and the events file. Prometheus sees every event.
	SampleRate    float64 `mapstructure:"sample_rate"`
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	// EventsFile appends every sampled metrics event as one JSON line.
	EventsFile string        `mapstructure:"events_file"`
	Tracing    TracingConfig `mapstructure:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/v1/sessions")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.drain_timeout", "20s")
	v.SetDefault("server.max_sessions", 0)
	v.SetDefault("server.read_buffer_size", 4096)
	v.SetDefault("server.write_buffer_size", 4096)
	v.SetDefault("providers.stt.provider", "")
	v.SetDefault("providers.tts.provider", "mock")
	v.SetDefault("providers.llm.provider", "mock")
	v.SetDefault("memory.provider", "noop")
	v.SetDefault("retrieval.provider", "keyword")
	v.SetDefault("session.turn_timeout", "15s")
	v.SetDefault("session.memory_timeout", "2s")
	v.SetDefault("session.language", "en")
	v.SetDefault("session.sample_rate", 16000)
	v.SetDefault("session.checkpoint_limit", 16)
	v.SetDefault("session.turn.strategy", "aggressive")
	v.SetDefault("session.turn.sensitivity", 0.5)
	v.SetDefault("session.turn.min_speech", "120ms")
	v.SetDefault("session.turn.barge_in_confirm", "150ms")
	v.SetDefault("session.turn.barge_in_grace", "200ms")
	v.SetDefault("session.turn.silence_timeout", "700ms")
	v.SetDefault("session.generation.max_sentences", 4)
	v.SetDefault("session.generation.max_tool_rounds", 2)
	v.SetDefault("session.generation.filler", true)
	v.SetDefault("session.generation.retrieval_top_k", 3)
	v.SetDefault("session.generation.speculation.threshold", 0.7)
	v.SetDefault("session.tools.call_timeout", "3s")
	v.SetDefault("session.tools.batch_timeout", "5s")
	v.SetDefault("session.tools.max_parallel", 4)
	v.SetDefault("conversation.history_limit", 12)
	v.SetDefault("conversation.max_misses", 3)
	v.SetDefault("conversation.follow_up_after", "24h")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.namespace", "parley")
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.service_name", "parley")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.event_buffer", 2048)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.events_file", "")
}

// Load reads path (optional) and applies PARLEY_* overrides, e.g.
// PARLEY_SERVER_ADDR for server.addr. String values may reference the
// environment as ${NAME}.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Providers.TTS.Provider) == "" {
		return fmt.Errorf("providers.tts.provider is required")
	}
	if strings.TrimSpace(c.Providers.LLM.Provider) == "" {
		return fmt.Errorf("providers.llm.provider is required")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	switch strings.ToLower(c.Session.Turn.Strategy) {
	case "", "aggressive", "polite":
	default:
		return fmt.Errorf("session.turn.strategy must be aggressive or polite, got %s", c.Session.Turn.Strategy)
	}
	if s := c.Session.Turn.Sensitivity; s < 0 || s > 1 {
		return fmt.Errorf("session.turn.sensitivity must be between 0 and 1, got %v", s)
	}
	if r := c.Observability.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", r)
	}
	if t := c.Observability.Tracing; t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("observability.tracing.otlp_endpoint is required when tracing is enabled")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Providers.STT.Settings = expandSettings(cfg.Providers.STT.Settings)
	cfg.Providers.TTS.Settings = expandSettings(cfg.Providers.TTS.Settings)
	cfg.Providers.LLM.Settings = expandSettings(cfg.Providers.LLM.Settings)
	cfg.Memory.Settings = expandSettings(cfg.Memory.Settings)
	cfg.Retrieval.Settings = expandSettings(cfg.Retrieval.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

// expandValue walks struct fields, slices and string maps; the free-form
// settings maps are handled by expandSettings.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				v.SetMapIndex(key, reflect.ValueOf(os.ExpandEnv(val.String())).Convert(v.Type().Elem()))
			}
		}
	}
}
