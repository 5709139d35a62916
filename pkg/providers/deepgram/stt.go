package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Params struct {
	UtteranceEndMS int `mapstructure:"utterance_end_ms"`
	Endpointing    int `mapstructure:"endpointing"`
}

type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	Interim    bool   `mapstructure:"interim"`
	VADEvents  bool   `mapstructure:"vad_events"`
	SessionID  string `mapstructure:"-"`
	Params     Params `mapstructure:"params"`
	// ConnectRetries bounds reconnect attempts when the socket cannot open.
	ConnectRetries int `mapstructure:"connect_retries"`
}

// StreamingSTT streams caller audio to Deepgram and publishes transcript
// events in arrival order.
type StreamingSTT struct {
	cfg    Config
	logger *slog.Logger

	dgClient   *client.WSCallback
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu        sync.Mutex
	out       chan frames.TranscriptEvent
	closed    bool
	utterance string
	metaSeen  bool
	cancel    context.CancelFunc
}

func New(cfg Config) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan frames.TranscriptEvent, 256),
		logger: logging.NewComponentLogger(nil, "deepgram_stt").With("session_id", cfg.SessionID),
	}
}

// Factory builds one streamer per session from a shared base config.
func Factory(base Config) func(stt.Config) (stt.Streamer, error) {
	return func(sc stt.Config) (stt.Streamer, error) {
		if base.APIKey == "" {
			return nil, errors.New("deepgram: api key is required")
		}
		cfg := base
		cfg.SessionID = sc.SessionID
		if sc.SampleRate > 0 {
			cfg.SampleRate = sc.SampleRate
		}
		if cfg.Language == "" {
			cfg.Language = sc.Language
		}
		return New(cfg), nil
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    true,
		Punctuate:      true,
	}
	if s.cfg.Params.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.Params.UtteranceEndMS)
	}
	if s.cfg.Params.Endpointing > 0 {
		transcriptOptions.Endpointing = fmt.Sprintf("%d", s.cfg.Params.Endpointing)
	}

	s.logger.Info("deepgram_connecting", "model", s.cfg.Model, "language", s.cfg.Language, "sample_rate", s.cfg.SampleRate)

	policy := resilience.NewRetryPolicy(s.cfg.ConnectRetries, 200*time.Millisecond)
	policy.Retryable = errorsx.IsTransient
	err := policy.Do(ctx, func(ctx context.Context) error {
		dgClient, err := client.NewWSUsingCallback(ctx, s.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
		if err != nil {
			return errorsx.WrapOp("deepgram", err, errorsx.ReasonSTTConnect)
		}
		if !dgClient.Connect() {
			return errorsx.Transient(errorsx.Newf(errorsx.ReasonSTTConnect, "deepgram: connection failed"))
		}
		s.dgClient = dgClient
		return nil
	})
	if err != nil {
		s.logger.Error("deepgram_connect_failed", "error", err)
		cancel()
		return err
	}
	s.logger.Info("deepgram_connected")

	go func() {
		if err := s.dgClient.Stream(s.pipeReader); err != nil && ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", "error", err)
		}
		s.finish()
	}()
	return nil
}

func (s *StreamingSTT) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	s.finish()
	return nil
}

// finish closes the result channel exactly once.
func (s *StreamingSTT) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *StreamingSTT) SendAudio(ctx context.Context, frame frames.AudioFrame) error {
	if s.pipeWriter == nil {
		return errorsx.Newf(errorsx.ReasonSTTSend, "deepgram: not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.pipeWriter.Write(frame.RawPayload()); err != nil {
		return errorsx.WrapOp("deepgram", err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.TranscriptEvent { return s.out }

// publish never blocks the SDK callback goroutine; a full buffer drops
// the event.
func (s *StreamingSTT) publish(ev frames.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- ev:
	default:
		s.logger.Warn("deepgram_results_full", "final", ev.IsFinal)
	}
}

// utteranceID groups partials and finals of one caller utterance.
func (s *StreamingSTT) utteranceID(final bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utterance == "" {
		s.utterance = uuid.NewString()
	}
	id := s.utterance
	if final {
		s.utterance = ""
	}
	return id
}

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	final := mr.IsFinal || mr.SpeechFinal
	words := make([]frames.WordTiming, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, frames.WordTiming{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	c.parent.publish(frames.TranscriptEvent{
		UtteranceID: c.parent.utteranceID(final),
		Text:        alt.Transcript,
		Language:    c.parent.cfg.Language,
		IsFinal:     final,
		Confidence:  alt.Confidence,
		Words:       words,
		At:          time.Now(),
	})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaSeen {
		c.parent.metaSeen = true
		c.parent.logger.Info("deepgram_metadata", "request_id", md.RequestID)
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("deepgram_speech_started")
	return nil
}

// UtteranceEnd becomes an empty end-of-utterance final, which closes the
// speech the turn controller has open and releases its transcript.
func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.publish(frames.TranscriptEvent{
		UtteranceID:    c.parent.utteranceID(true),
		Language:       c.parent.cfg.Language,
		IsFinal:        true,
		EndOfUtterance: true,
		At:             time.Now(),
	})
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error", "code", er.ErrCode, "message", er.ErrMsg)
	return nil
}

func (c *callback) UnhandledEvent(data []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", "data", string(data))
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

var _ stt.Streamer = (*StreamingSTT)(nil)
