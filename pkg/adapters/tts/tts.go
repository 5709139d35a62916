package tts

import (
	"context"
	"time"
)

// VoiceConfig selects how a sentence is spoken.
type VoiceConfig struct {
	VoiceID    string  `mapstructure:"voice_id"`
	Language   string  `mapstructure:"language"`
	SampleRate int     `mapstructure:"sample_rate"`
	Speed      float64 `mapstructure:"speed"`
}

// Audio is synthesized PCM16LE for one sentence.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	ch := a.Channels
	if ch <= 0 {
		ch = 1
	}
	return time.Duration(len(a.PCM)/2/ch) * time.Second / time.Duration(a.SampleRate)
}

// Synthesizer turns one sentence into audio. Implementations must support
// independent concurrent calls.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, voice VoiceConfig) (Audio, error)
}
