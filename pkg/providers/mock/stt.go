package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/frames"
)

type STTConfig struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       bool   `mapstructure:"emit_interim"`
	Language          string `mapstructure:"language"`
	// AfterFrames is how many audio frames arrive before the transcript is
	// released.
	AfterFrames int `mapstructure:"after_frames"`
}

// StreamingSTT emits one scripted utterance per session.
type StreamingSTT struct {
	cfg     STTConfig
	mu      sync.Mutex
	out     chan frames.TranscriptEvent
	started bool
	frames  int
	emitted bool
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	if cfg.AfterFrames <= 0 {
		cfg.AfterFrames = 1
	}
	return &StreamingSTT{cfg: cfg, out: make(chan frames.TranscriptEvent, 16)}
}

// Factory adapts NewSTT to the per-session constructor signature.
func Factory(cfg STTConfig) func(stt.Config) (stt.Streamer, error) {
	return func(sc stt.Config) (stt.Streamer, error) {
		c := cfg
		if c.Language == "" {
			c.Language = sc.Language
		}
		return NewSTT(c), nil
	}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return errors.New("mock stt: closed")
	}
	s.started = true
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(ctx context.Context, _ frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("mock stt: not started")
	}
	s.frames++
	if s.emitted || s.frames < s.cfg.AfterFrames {
		return nil
	}
	s.emitted = true
	id := uuid.NewString()
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		if err := s.send(ctx, frames.TranscriptEvent{UtteranceID: id, Text: interim, Language: s.cfg.Language, Confidence: 0.6, At: time.Now()}); err != nil {
			return err
		}
	}
	return s.send(ctx, frames.TranscriptEvent{UtteranceID: id, Text: s.cfg.Transcript, Language: s.cfg.Language, IsFinal: true, Confidence: 0.95, At: time.Now()})
}

func (s *StreamingSTT) send(ctx context.Context, ev frames.TranscriptEvent) error {
	select {
	case s.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StreamingSTT) Results() <-chan frames.TranscriptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

var _ stt.Streamer = (*StreamingSTT)(nil)
