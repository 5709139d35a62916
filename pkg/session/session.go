// Package session supervises one call: it wires the turn controller, the
// conversation machine and the generation pipeline together, executes the
// machine's actions and owns every cancellation in between.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/bus"
	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/generation"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/toolbridge"
	"github.com/harunnryd/parley/pkg/tools"
	"github.com/harunnryd/parley/pkg/turn"
)

var (
	errBargeIn       = errors.New("barge-in")
	errSessionClosed = errors.New("session closed")
)

type Session struct {
	id         string
	customerID string
	cfg        Config
	deps       Deps
	logger     *slog.Logger
	obs        metrics.Observer
	created    time.Time

	machine    *conversation.Machine
	classifier *conversation.Classifier
	controller *turn.Controller
	pipeline   *generation.Pipeline
	bridge     *toolbridge.Bridge
	streamer   stt.Streamer

	audio       *bus.Queue[frames.AudioFrame]
	transcripts *bus.Queue[frames.TranscriptEvent]
	signals     *bus.Queue[turn.Signal]
	egress      *bus.Queue[frames.AudioFrame]
	events      *bus.Queue[Event]
	inbox       *bus.PriorityQueue[command]

	ctx     context.Context
	cancel  context.CancelFunc
	workers errgroup.Group
	jobs    sync.WaitGroup

	// owned by the supervisor loop
	active   *activeTurn
	deferred []frames.Utterance
	ending   bool
	torn     bool

	// interrupted holds ids of turns cut off by barge-in; transports read
	// it to drop audio that was already queued.
	interrupted sync.Map

	started atomic.Bool
	mu      sync.Mutex
	err     error
	onClose []func(*Session)
	done    chan struct{}
}

type Option func(*Session)

// WithOnClose registers a hook that runs once the session is torn down.
func WithOnClose(fn func(*Session)) Option {
	return func(s *Session) { s.onClose = append(s.onClose, fn) }
}

func New(id, customerID string, deps Deps, cfg Config, opts ...Option) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if deps.Memory == nil {
		deps.Memory = memory.Noop{}
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	base := deps.Logger
	if base == nil {
		base = logging.NewComponentLogger(nil, "session")
	}
	logger := base.With("session_id", id)

	s := &Session{
		id:          id,
		customerID:  customerID,
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		obs:         deps.Observer,
		created:     time.Now(),
		machine:     conversation.NewMachine(deps.Rules, cfg.CheckpointLimit),
		classifier:  conversation.NewClassifier(cfg.Classifier),
		audio:       bus.NewQueue[frames.AudioFrame]("ingress_audio", cfg.IngressCapacity, bus.DropOldest),
		transcripts: bus.NewQueue[frames.TranscriptEvent]("transcripts", cfg.IngressCapacity, bus.BlockProducer),
		signals:     bus.NewQueue[turn.Signal]("turn_signals", cfg.IngressCapacity, bus.BlockProducer),
		egress:      bus.NewQueue[frames.AudioFrame]("egress_audio", cfg.EgressCapacity, bus.BlockProducer),
		events:      bus.NewQueue[Event]("session_events", cfg.EventsCapacity, bus.DropOldest),
		inbox:       bus.NewPriorityQueue[command](cfg.InboxCapacity/4, cfg.InboxCapacity),
		done:        make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.controller = turn.NewController(cfg.Turn, deps.VAD, s.signals)
	s.bridge = toolbridge.New(deps.Tools, cfg.Tools,
		toolbridge.WithScope(id),
		toolbridge.WithObserver(deps.Observer),
		toolbridge.WithLogger(logger.With("component", "tool_bridge")))

	popts := []generation.Option{
		generation.WithToolBridge(s.bridge),
		generation.WithPhrasebook(s.machine.Phrases()),
		generation.WithRedactor(deps.Redactor),
		generation.WithObserver(deps.Observer),
		generation.WithLogger(logger.With("component", "generation")),
		generation.WithSentenceHook(s.onSentence),
	}
	if deps.Retriever != nil {
		popts = append(popts, generation.WithSpeculator(generation.NewSpeculator(deps.Retriever, cfg.Generation.Speculation, deps.Observer)))
	}
	s.pipeline = generation.NewPipeline(deps.Model, deps.Synth, s.egress, cfg.Generation, popts...)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string         { return s.id }
func (s *Session) CustomerID() string { return s.customerID }
func (s *Session) Created() time.Time { return s.created }

// Egress carries synthesized agent audio in playback order.
func (s *Session) Egress() *bus.Queue[frames.AudioFrame] { return s.egress }

// Events is the side channel of actions, transitions and errors. It drops
// the oldest entry when nobody reads it.
func (s *Session) Events() *bus.Queue[Event] { return s.events }

func (s *Session) Stage() conversation.Stage { return s.machine.State() }

// Snapshot returns the current stage and a copy of the context.
func (s *Session) Snapshot() (conversation.Stage, conversation.Context) { return s.machine.Snapshot() }

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the recognizer, starts the workers and greets the caller.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if s.deps.STT != nil {
		streamer, err := s.deps.STT(stt.Config{SessionID: s.id, SampleRate: s.cfg.SampleRate, Language: s.cfg.Language})
		if err == nil {
			err = streamer.Start(ctx)
		}
		if err != nil {
			s.cancel()
			close(s.done)
			return errorsx.FatalSession(errorsx.Wrap(err, errorsx.ReasonSTTConnect))
		}
		s.streamer = streamer
		s.spawn("stt_results", s.pumpTranscripts)
	}
	s.spawn("ingest", s.ingestLoop)
	s.spawn("transcripts", s.transcriptLoop)
	s.spawn("signals", s.signalLoop)
	_ = s.inbox.PushHigh(ctx, command{kind: cmdStart})
	go s.loop()

	metrics.Count(s.obs, metrics.EventSessionStarted, s.tags())
	s.logger.Info("session_started", "customer_id", s.customerID, "stt", s.streamer != nil)
	return nil
}

// Ingest accepts one caller audio frame. Under overload the oldest
// buffered frame is dropped.
func (s *Session) Ingest(ctx context.Context, f frames.AudioFrame) error {
	return s.audio.Push(ctx, f)
}

// TurnCancelled reports whether the caller barged in on turnID. Audio
// from such a turn must not reach the caller after the clear event.
func (s *Session) TurnCancelled(turnID string) bool {
	_, ok := s.interrupted.Load(turnID)
	return ok
}

// IngestTranscript accepts recognizer output when STT runs outside the
// session.
func (s *Session) IngestTranscript(ctx context.Context, ev frames.TranscriptEvent) error {
	return s.transcripts.Push(ctx, ev)
}

// Close ends the call, saves its summary and waits for every worker.
func (s *Session) Close(ctx context.Context) error {
	if !s.started.Load() {
		s.started.Store(true)
		go s.loop()
	}
	if err := s.inbox.PushHigh(ctx, command{kind: cmdClose}); err != nil && !errors.Is(err, bus.ErrClosed) {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) tags() map[string]string {
	return map[string]string{"session_id": s.id}
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if _, err := s.events.TryPush(ev); err != nil && !errors.Is(err, bus.ErrClosed) {
		s.logger.Debug("event_dropped", "kind", ev.Kind, "error", err)
	}
}

func (s *Session) onSentence(t generation.Turn, u frames.SentenceUnit) {
	s.emit(Event{Kind: EventSentence, TurnID: t.ID, Sentence: u, Text: u.Text})
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// spawn runs a worker. A worker error or panic ends the session.
func (s *Session) spawn(name string, fn func(ctx context.Context) error) {
	s.workers.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errorsx.FatalSession(errorsx.Wrap(fmt.Errorf("%s panic: %v", name, r), errorsx.ReasonPanic))
			}
			if err != nil && s.ctx.Err() == nil {
				s.logger.Error("worker_failed", "worker", name, "error", err)
				_ = s.inbox.PushHigh(s.ctx, command{kind: cmdFatal, err: err})
			}
		}()
		return fn(s.ctx)
	})
}

// stopped turns a queue error into a worker result: nil once the session
// is shutting down, FatalSession when a queue closed underneath a live one.
func (s *Session) stopped(err error) error {
	if s.ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, bus.ErrClosed) {
		return errorsx.FatalSession(errorsx.Wrap(err, errorsx.ReasonBusClosed))
	}
	return err
}

func (s *Session) ingestLoop(ctx context.Context) error {
	for {
		f, err := s.audio.Pop(ctx)
		if err != nil {
			return s.stopped(err)
		}
		if err := s.controller.OnAudio(ctx, f); err != nil {
			return s.stopped(err)
		}
		if s.streamer != nil {
			if err := s.streamer.SendAudio(ctx, f); err != nil && ctx.Err() == nil {
				s.logger.Warn("stt_send_failed", "error", errorsx.Wrap(err, errorsx.ReasonSTTSend))
			}
		}
	}
}

func (s *Session) pumpTranscripts(ctx context.Context) error {
	results := s.streamer.Results()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-results:
			if !ok {
				return s.stopped(s.controller.Flush(ctx, time.Now()))
			}
			if err := s.transcripts.Push(ctx, ev); err != nil {
				return s.stopped(err)
			}
		}
	}
}

func (s *Session) transcriptLoop(ctx context.Context) error {
	for {
		ev, err := s.transcripts.Pop(ctx)
		if err != nil {
			return s.stopped(err)
		}
		if err := s.controller.OnTranscript(ctx, ev); err != nil {
			return s.stopped(err)
		}
	}
}

// signalLoop routes controller output: barge-in jumps the queue, finished
// utterances wait their turn, partials feed speculative retrieval.
func (s *Session) signalLoop(ctx context.Context) error {
	for {
		sig, err := s.signals.Pop(ctx)
		if err != nil {
			return s.stopped(err)
		}
		switch sig.Kind {
		case turn.SignalBargeIn:
			err = s.inbox.PushHigh(ctx, command{kind: cmdBargeIn, at: sig.At})
		case turn.SignalUtterance:
			err = s.inbox.PushLow(ctx, command{kind: cmdUtterance, utterance: sig.Utterance, at: time.Now()})
		case turn.SignalPartial:
			if spec := s.pipeline.Speculator(); spec != nil {
				spec.Prefetch(ctx, sig.Partial, s.retrievalOptions())
			}
		}
		if err != nil {
			return s.stopped(err)
		}
	}
}
