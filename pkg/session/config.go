package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/adapters/vad"
	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/generation"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/toolbridge"
	"github.com/harunnryd/parley/pkg/tools"
	"github.com/harunnryd/parley/pkg/turn"
)

type Config struct {
	// TurnTimeout is the backstop for one agent turn, tools included.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// MemoryTimeout bounds loading and saving the cross-call summary.
	MemoryTimeout   time.Duration `mapstructure:"memory_timeout"`
	Language        string        `mapstructure:"language"`
	SampleRate      int           `mapstructure:"sample_rate"`
	CheckpointLimit int           `mapstructure:"checkpoint_limit"`

	IngressCapacity int `mapstructure:"ingress_capacity"`
	EgressCapacity  int `mapstructure:"egress_capacity"`
	EventsCapacity  int `mapstructure:"events_capacity"`
	InboxCapacity   int `mapstructure:"inbox_capacity"`
	// MaxDeferred bounds utterances held while a turn is in flight. The
	// oldest is dropped when the caller keeps talking past it.
	MaxDeferred int `mapstructure:"max_deferred"`

	Summary    SummaryConfig                 `mapstructure:"summary"`
	Turn       turn.Config                   `mapstructure:"turn"`
	Classifier conversation.ClassifierConfig `mapstructure:"classifier"`
	Generation generation.Config             `mapstructure:"generation"`
	Tools      toolbridge.Config             `mapstructure:"tools"`
}

func (c Config) withDefaults() Config {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 15 * time.Second
	}
	if c.MemoryTimeout <= 0 {
		c.MemoryTimeout = 2 * time.Second
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.IngressCapacity <= 0 {
		c.IngressCapacity = 256
	}
	if c.EgressCapacity <= 0 {
		c.EgressCapacity = 1024
	}
	if c.EventsCapacity <= 0 {
		c.EventsCapacity = 256
	}
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = 64
	}
	if c.MaxDeferred <= 0 {
		c.MaxDeferred = 4
	}
	return c
}

// Deps are the capabilities a session is wired from. Model and Synth are
// required; everything else degrades to a no-op.
type Deps struct {
	Model     llm.LanguageModel
	Synth     tts.Synthesizer
	Retriever retrieval.Retriever
	// STT opens a streaming recognizer per session. Nil means transcripts
	// arrive through IngestTranscript.
	STT      func(cfg stt.Config) (stt.Streamer, error)
	VAD      vad.Detector
	Tools    *tools.Registry
	Memory   memory.Store
	Rules    *conversation.Rules
	Observer metrics.Observer
	Logger   *slog.Logger
	Redactor *redact.Redactor
}

var (
	ErrNoModel       = errors.New("session: language model is required")
	ErrNoSynthesizer = errors.New("session: synthesizer is required")
)

func (d Deps) validate() error {
	switch {
	case d.Model == nil:
		return ErrNoModel
	case d.Synth == nil:
		return ErrNoSynthesizer
	}
	return nil
}
