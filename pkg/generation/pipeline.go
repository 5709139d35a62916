package generation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/bus"
	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/toolbridge"
	"github.com/harunnryd/parley/pkg/tools"
)

type Config struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	// RetrievalTimeout bounds a non-speculative retrieval call.
	RetrievalTimeout time.Duration `mapstructure:"retrieval_timeout"`
	RetrievalTopK    int           `mapstructure:"retrieval_top_k"`
	SynthTimeout     time.Duration `mapstructure:"synth_timeout"`
	// MaxConcurrentSynth bounds sentences synthesized ahead of playback.
	MaxConcurrentSynth int `mapstructure:"max_concurrent_synth"`
	// MaxSentences trims run-on responses. Zero means no cap.
	MaxSentences  int  `mapstructure:"max_sentences"`
	MaxToolRounds int  `mapstructure:"max_tool_rounds"`
	Filler        bool `mapstructure:"filler"`
	// FrameDuration is the egress audio frame size.
	FrameDuration time.Duration    `mapstructure:"frame_duration"`
	Segmenter     SegmenterConfig  `mapstructure:"segmenter"`
	Voice         tts.VoiceConfig  `mapstructure:"voice"`
	Params        llm.Params       `mapstructure:"params"`
	Speculation   SpeculatorConfig `mapstructure:"speculation"`
}

func (c Config) withDefaults() Config {
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 800 * time.Millisecond
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	if c.SynthTimeout <= 0 {
		c.SynthTimeout = 5 * time.Second
	}
	if c.MaxConcurrentSynth <= 0 {
		c.MaxConcurrentSynth = 2
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 2
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	return c
}

// Turn is one unit of agent work: answer Query given the snapshot.
type Turn struct {
	ID        string
	SessionID string
	Query     string
	Topic     string
	Snapshot  Snapshot
	// Documents skips retrieval when non-nil.
	Documents []retrieval.Document
	// ToolResults were produced by the state machine before generation.
	ToolResults []tools.Result
}

// Outcome describes what the caller actually heard.
type Outcome struct {
	TurnID         string
	Sentences      []frames.SentenceUnit
	ToolResults    []tools.Result
	Documents      int
	SpeculativeHit bool
	FirstAudio     time.Duration
	Truncated      bool
	Cancelled      bool
}

// Text is the delivered reply, fillers excluded.
func (o Outcome) Text() string {
	parts := make([]string, len(o.Sentences))
	for i, s := range o.Sentences {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Pipeline turns one Turn into ordered egress audio: retrieval, request
// building, token streaming with tool suspension, segmentation and
// concurrent synthesis.
type Pipeline struct {
	model      llm.LanguageModel
	synth      tts.Synthesizer
	egress     *bus.Queue[frames.AudioFrame]
	cfg        Config
	retriever  retrieval.Retriever
	spec       *Speculator
	bridge     *toolbridge.Bridge
	phrases    *conversation.Phrasebook
	redactor   *redact.Redactor
	seq        *frames.SeqGen
	obs        metrics.Observer
	logger     *slog.Logger
	tracer     trace.Tracer
	onSentence func(Turn, frames.SentenceUnit)
}

type Option func(*Pipeline)

func WithRetriever(r retrieval.Retriever) Option { return func(p *Pipeline) { p.retriever = r } }

func WithSpeculator(s *Speculator) Option { return func(p *Pipeline) { p.spec = s } }

func WithToolBridge(b *toolbridge.Bridge) Option { return func(p *Pipeline) { p.bridge = b } }

func WithPhrasebook(pb *conversation.Phrasebook) Option { return func(p *Pipeline) { p.phrases = pb } }

func WithRedactor(r *redact.Redactor) Option { return func(p *Pipeline) { p.redactor = r } }

func WithSeq(seq *frames.SeqGen) Option { return func(p *Pipeline) { p.seq = seq } }

func WithObserver(obs metrics.Observer) Option { return func(p *Pipeline) { p.obs = obs } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithSentenceHook is called after each sentence's audio is on egress.
func WithSentenceHook(fn func(Turn, frames.SentenceUnit)) Option {
	return func(p *Pipeline) { p.onSentence = fn }
}

func NewPipeline(model llm.LanguageModel, synth tts.Synthesizer, egress *bus.Queue[frames.AudioFrame], cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		model:  model,
		synth:  synth,
		egress: egress,
		cfg:    cfg.withDefaults(),
		tracer: otel.Tracer("github.com/harunnryd/parley/pkg/generation"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.seq == nil {
		p.seq = &frames.SeqGen{}
	}
	if p.phrases == nil {
		p.phrases = conversation.NewPhrasebook(nil)
	}
	if p.logger == nil {
		p.logger = logging.NewComponentLogger(nil, "generation")
	}
	return p
}

// Speculator returns the pipeline's speculative retriever, if any.
func (p *Pipeline) Speculator() *Speculator { return p.spec }

// Run executes one turn. Cancelling ctx stops generation at the next
// suspension point and no further audio reaches egress; audio already
// delivered stays delivered. LLM and synthesis failures are FatalTurn.
func (p *Pipeline) Run(ctx context.Context, turn Turn) (Outcome, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	ctx, span := p.tracer.Start(ctx, "generation.turn", trace.WithAttributes(
		attribute.String("session.id", turn.SessionID),
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.topic", turn.Topic),
	))
	defer span.End()
	start := time.Now()
	out := Outcome{TurnID: turn.ID}

	docs, hit := p.retrieve(ctx, turn)
	out.Documents, out.SpeculativeHit = len(docs), hit

	req := BuildRequest(p.cfg.SystemPrompt, turn, docs, p.toolDefinitions(), p.cfg.Params)
	seg := NewSegmenter(turn.ID, p.cfg.Segmenter)
	sq := newSequencer(ctx, p, turn, start)

	genErr := p.generate(sq.ctx, turn, req, seg, sq, &out)
	if genErr == nil && sq.ctx.Err() == nil {
		for _, u := range seg.Flush() {
			if !p.admit(sq, u, &out) {
				break
			}
		}
	}
	delivered, firstAudio, deliverErr := sq.finish()
	out.Sentences, out.FirstAudio = delivered, firstAudio

	// A delivery failure cancels generation, so it explains genErr.
	err := deliverErr
	if err == nil {
		err = genErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		out.Cancelled = errors.Is(ctx.Err(), context.Canceled)
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("turn_generation_ended", "turn_id", turn.ID, "class", errorsx.Classify(err).String(), "error", err, "sentences", len(out.Sentences))
		return out, err
	}
	p.logger.Info("turn_generated", "turn_id", turn.ID, "sentences", len(out.Sentences),
		"first_audio_ms", out.FirstAudio.Milliseconds(), "reply", p.redactor.Text(out.Text()))
	return out, nil
}

// Speak delivers fixed text through the same segmenting and ordered
// synthesis path as a generated reply, without the model.
func (p *Pipeline) Speak(ctx context.Context, turn Turn, text string) (Outcome, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	out := Outcome{TurnID: turn.ID}
	seg := NewSegmenter(turn.ID, p.cfg.Segmenter)
	sq := newSequencer(ctx, p, turn, time.Now())
	for _, u := range append(seg.Push(text), seg.Flush()...) {
		if !sq.submit(u, false) {
			break
		}
	}
	delivered, firstAudio, err := sq.finish()
	out.Sentences, out.FirstAudio = delivered, firstAudio
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		out.Cancelled = errors.Is(ctx.Err(), context.Canceled)
		err = ctx.Err()
	}
	return out, err
}

func (p *Pipeline) toolDefinitions() []tools.Definition {
	if p.bridge == nil {
		return nil
	}
	return p.bridge.Definitions()
}

func (p *Pipeline) retrieve(ctx context.Context, turn Turn) ([]retrieval.Document, bool) {
	if turn.Documents != nil {
		return turn.Documents, false
	}
	if p.spec == nil && p.retriever == nil {
		return nil, false
	}
	ctx, span := p.tracer.Start(ctx, "generation.retrieval")
	defer span.End()
	start := time.Now()
	opts := retrieval.Options{TopK: p.cfg.RetrievalTopK, Language: turn.Snapshot.Language}
	var (
		docs []retrieval.Document
		hit  bool
		err  error
	)
	if p.spec != nil {
		docs, hit, err = p.spec.Resolve(ctx, turn.Query, opts)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalTimeout)
		docs, err = p.retriever.Retrieve(callCtx, turn.Query, opts)
		cancel()
		if err != nil {
			err = errorsx.Transient(errorsx.Wrap(err, errorsx.ReasonRetrieval))
		}
	}
	status := "ok"
	if err != nil {
		status = "degraded"
		span.RecordError(err)
		p.logger.Warn("retrieval_degraded", "turn_id", turn.ID, "error", err)
		docs = nil
	}
	span.SetAttributes(attribute.Int("retrieval.documents", len(docs)), attribute.Bool("retrieval.speculative_hit", hit))
	metrics.Timing(p.obs, metrics.EventRetrieval, time.Since(start), map[string]string{"status": status})
	return docs, hit
}

// generate streams model output into the sequencer, suspending for tool
// rounds until the model answers without tools.
func (p *Pipeline) generate(ctx context.Context, turn Turn, req llm.GenerationRequest, seg *Segmenter, sq *sequencer, out *Outcome) error {
	for round := 0; ; round++ {
		text, calls, stop, err := p.stream(ctx, turn, req, seg, sq, out)
		if err != nil || stop {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if p.bridge == nil || round >= p.cfg.MaxToolRounds {
			p.logger.Warn("tool_calls_ignored", "turn_id", turn.ID, "calls", len(calls), "round", round)
			return nil
		}
		if p.cfg.Filler && sq.deliveredCount() == 0 && sq.pending() == 0 {
			sq.submit(seg.Insert(p.phrases.Text(turn.Snapshot.Language, conversation.PhraseFiller)), true)
		}
		invocations := make([]tools.Invocation, len(calls))
		for i, c := range calls {
			if c.ID == "" {
				c.ID = uuid.NewString()
				calls[i] = c
			}
			invocations[i] = tools.Invocation{CallID: c.ID, Name: c.Name, Args: c.Arguments}
		}
		results := p.bridge.Execute(ctx, invocations)
		out.ToolResults = append(out.ToolResults, results...)
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs := []llm.Message{{Role: llm.RoleAssistant, Content: text, ToolCalls: calls}}
		for _, r := range results {
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Name: r.Name, ToolCallID: r.CallID, Content: r.Content()})
		}
		req = req.WithMessages(msgs...)
	}
}

// stream consumes one model stream. It returns the text generated in this
// round, any tool calls, and stop=true when the sentence cap ended the
// turn early.
func (p *Pipeline) stream(ctx context.Context, turn Turn, req llm.GenerationRequest, seg *Segmenter, sq *sequencer, out *Outcome) (string, []frames.ToolCall, bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamCtx, span := p.tracer.Start(streamCtx, "generation.llm", trace.WithAttributes(attribute.String("llm.provider", p.model.Name())))
	defer span.End()

	start := time.Now()
	tokens, err := p.model.GenerateStream(streamCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, false, ctx.Err()
		}
		span.RecordError(err)
		return "", nil, false, errorsx.FatalTurn(errorsx.Wrap(err, llmReason(err)))
	}
	var sb strings.Builder
	var calls []frames.ToolCall
	first := true
	for {
		var tok frames.StreamToken
		var ok bool
		select {
		case <-ctx.Done():
			return sb.String(), nil, false, ctx.Err()
		case tok, ok = <-tokens:
		}
		if !ok {
			return sb.String(), calls, false, nil
		}
		if tok.Err != nil {
			if ctx.Err() != nil {
				return sb.String(), nil, false, ctx.Err()
			}
			span.RecordError(tok.Err)
			return sb.String(), nil, false, errorsx.FatalTurn(errorsx.Wrap(tok.Err, errorsx.ReasonLLMStream))
		}
		if first && (tok.Text != "" || tok.HasToolCalls()) {
			first = false
			metrics.Timing(p.obs, metrics.EventLLMFirstToken, time.Since(start), map[string]string{"provider": p.model.Name()})
		}
		if tok.Text != "" {
			sb.WriteString(tok.Text)
			for _, u := range seg.Push(tok.Text) {
				if !p.admit(sq, u, out) {
					return sb.String(), nil, true, nil
				}
			}
		}
		calls = append(calls, tok.ToolCalls...)
		if tok.Final {
			return sb.String(), calls, false, nil
		}
	}
}

// admit hands a sentence to synthesis unless the sentence cap is reached.
func (p *Pipeline) admit(sq *sequencer, u frames.SentenceUnit, out *Outcome) bool {
	if p.cfg.MaxSentences > 0 && u.Index-sq.fillerCount() >= p.cfg.MaxSentences {
		out.Truncated = true
		return false
	}
	return sq.submit(u, false)
}

func llmReason(err error) errorsx.ReasonCode {
	if errorsx.Reason(err) == errorsx.ReasonLLMRateLimit {
		return errorsx.ReasonLLMRateLimit
	}
	return errorsx.ReasonLLMGenerate
}

func itoa(i int) string { return strconv.Itoa(i) }

func boolString(b bool) string { return strconv.FormatBool(b) }
