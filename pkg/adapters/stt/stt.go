package stt

import (
	"context"

	"github.com/harunnryd/parley/pkg/frames"
)

// Streamer defines the contract for any streaming STT vendor. Results are
// delivered in timestamp order per utterance; the channel is closed after
// Close or when the upstream stream ends.
type Streamer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// SendAudio sends one audio frame to the STT service.
	SendAudio(ctx context.Context, frame frames.AudioFrame) error
	// Results returns the ordered transcript stream.
	Results() <-chan frames.TranscriptEvent
	// Close shuts down the STT connection.
	Close() error
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
}
