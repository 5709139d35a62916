package mock

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/tts"
)

type TTSConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	// PerChar is how much silent audio each character of text produces.
	PerChar time.Duration `mapstructure:"per_char"`
	// Latency simulates time to first byte.
	Latency time.Duration `mapstructure:"latency"`
}

// Synthesizer renders deterministic silence sized to the text.
type Synthesizer struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.PerChar <= 0 {
		cfg.PerChar = 60 * time.Millisecond
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error) {
	if text == "" {
		return tts.Audio{}, errors.New("mock tts: empty text")
	}
	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}
	rate := s.cfg.SampleRate
	if voice.SampleRate > 0 {
		rate = voice.SampleRate
	}
	d := time.Duration(len([]rune(text))) * s.cfg.PerChar
	samples := int(d * time.Duration(rate) / time.Second)
	return tts.Audio{PCM: make([]byte, samples*2*s.cfg.Channels), SampleRate: rate, Channels: s.cfg.Channels}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
