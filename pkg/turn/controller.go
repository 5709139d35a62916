// Package turn decides when the caller has finished speaking and when the
// caller is talking over the agent. It only classifies: every decision is
// published as a Signal on the controller's output queue.
package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parley/pkg/adapters/vad"
	"github.com/harunnryd/parley/pkg/bus"
	"github.com/harunnryd/parley/pkg/frames"
)

type Config struct {
	// Sensitivity is the speech probability threshold.
	Sensitivity float64 `mapstructure:"sensitivity"`
	// MinSpeech is the dwell time above threshold before speech counts.
	MinSpeech time.Duration `mapstructure:"min_speech"`
	// BargeInConfirm is how long caller speech must last over agent audio.
	BargeInConfirm time.Duration `mapstructure:"barge_in_confirm"`
	// BargeInGrace ignores caller speech right after the agent starts talking.
	BargeInGrace time.Duration `mapstructure:"barge_in_grace"`
	// SilenceTimeout closes an utterance. The three refinements below apply
	// when the text so far looks complete, a question, or cut off.
	SilenceTimeout    time.Duration `mapstructure:"silence_timeout"`
	CompleteTimeout   time.Duration `mapstructure:"complete_timeout"`
	QuestionTimeout   time.Duration `mapstructure:"question_timeout"`
	IncompleteTimeout time.Duration `mapstructure:"incomplete_timeout"`
	// ContinueInterval rate-limits SpeechContinue events.
	ContinueInterval time.Duration `mapstructure:"continue_interval"`
	Strategy         string        `mapstructure:"strategy"`
}

func DefaultConfig() Config {
	return Config{
		Sensitivity:       0.5,
		MinSpeech:         120 * time.Millisecond,
		BargeInConfirm:    150 * time.Millisecond,
		BargeInGrace:      200 * time.Millisecond,
		SilenceTimeout:    700 * time.Millisecond,
		CompleteTimeout:   300 * time.Millisecond,
		QuestionTimeout:   250 * time.Millisecond,
		IncompleteTimeout: 800 * time.Millisecond,
		ContinueInterval:  500 * time.Millisecond,
		Strategy:          "aggressive",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Sensitivity <= 0 || c.Sensitivity > 1 {
		c.Sensitivity = d.Sensitivity
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.BargeInConfirm <= 0 {
		c.BargeInConfirm = d.BargeInConfirm
	}
	if c.BargeInGrace < 0 {
		c.BargeInGrace = 0
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.ContinueInterval <= 0 {
		c.ContinueInterval = d.ContinueInterval
	}
	return c
}

type Controller struct {
	cfg      Config
	strategy Strategy
	vad      vad.Detector
	out      *bus.Queue[Signal]

	mu        sync.Mutex
	state     State
	listeners []StateListener

	speechStart  time.Time
	lastSpeech   time.Time
	lastContinue time.Time
	utterStart   time.Time
	bargeRaised  bool

	agentSpeaking bool
	agentSince    time.Time

	committed   []string
	words       []frames.WordTiming
	confSum     float64
	confN       int
	language    string
	partial     string
	lastPartial string
}

func NewController(cfg Config, detector vad.Detector, out *bus.Queue[Signal]) *Controller {
	cfg = cfg.withDefaults()
	if detector == nil {
		detector = vad.NewEnergyDetector()
	}
	return &Controller{
		cfg:      cfg,
		strategy: StrategyByName(cfg.Strategy),
		vad:      detector,
		out:      out,
		state:    StateSilence,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddListener registers a listener for state change events.
func (c *Controller) AddListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetAgentSpeaking tells the controller whether agent audio is playing.
func (c *Controller) SetAgentSpeaking(speaking bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speaking && !c.agentSpeaking {
		c.agentSince = at
	}
	c.agentSpeaking = speaking
	if !speaking {
		c.bargeRaised = false
	}
}

// batch collects what one input produced while the lock is held.
type batch struct {
	signals []Signal
	changes []StateChange
}

func (c *Controller) move(b *batch, to State, at time.Time, reason string) bool {
	if !transitionValid(c.state, to) {
		return false
	}
	b.changes = append(b.changes, StateChange{FromState: c.state, ToState: to, Timestamp: at, Reason: reason})
	c.state = to
	return true
}

func vadSignal(kind frames.VadKind, p float64, at time.Time) Signal {
	return Signal{Kind: SignalVad, At: at, Vad: frames.VadEvent{Kind: kind, Probability: p, At: at}}
}

// OnAudio classifies one frame. Time is taken from the frame timestamp.
func (c *Controller) OnAudio(ctx context.Context, frame frames.AudioFrame) error {
	prob := c.vad.SpeechProbability(frame)
	at := frame.Timestamp()
	speech := prob >= c.cfg.Sensitivity

	c.mu.Lock()
	var b batch
	switch c.state {
	case StateSilence:
		if speech {
			c.speechStart, c.lastSpeech = at, at
			c.move(&b, StateSpeechDetected, at, "vad above threshold")
		}
	case StateSpeechDetected:
		if !speech {
			c.move(&b, StateSilence, at, "below dwell time")
			b.signals = append(b.signals, vadSignal(frames.VadNoise, prob, at))
			break
		}
		c.lastSpeech = at
		if c.bargeInDue(at) {
			c.beginSpeech(&b, prob)
			c.raiseBargeIn(&b, at)
		} else if at.Sub(c.speechStart) >= c.cfg.MinSpeech {
			c.move(&b, StateSpeechActive, at, "speech confirmed")
			c.beginSpeech(&b, prob)
		}
	case StateSpeechActive, StateInterrupted:
		if speech {
			c.lastSpeech = at
			if c.state == StateSpeechActive && c.bargeInDue(at) {
				c.raiseBargeIn(&b, at)
			}
			if at.Sub(c.lastContinue) >= c.cfg.ContinueInterval {
				c.lastContinue = at
				b.signals = append(b.signals, vadSignal(frames.VadSpeechContinue, prob, at))
			}
			break
		}
		if at.Sub(c.lastSpeech) >= c.cfg.silenceTimeout(c.textLocked()) {
			c.move(&b, StateSpeechEnd, at, "silence timeout")
			b.signals = append(b.signals, vadSignal(frames.VadSpeechEnd, prob, at))
			c.bargeRaised = false
			c.releaseLocked(&b, at, false)
		}
	case StateSpeechEnd:
		if speech {
			c.speechStart, c.lastSpeech = at, at
			c.move(&b, StateSpeechDetected, at, "vad above threshold")
		} else {
			c.move(&b, StateSilence, at, "silence")
		}
	}
	c.mu.Unlock()
	return c.publish(ctx, b)
}

func (c *Controller) beginSpeech(b *batch, prob float64) {
	if c.utterStart.IsZero() {
		c.utterStart = c.speechStart
	}
	c.lastContinue = c.lastSpeech
	b.signals = append(b.signals, vadSignal(frames.VadSpeechStart, prob, c.speechStart))
}

func (c *Controller) bargeInDue(at time.Time) bool {
	if !c.strategy.BargeInEnabled() || !c.agentSpeaking || c.bargeRaised {
		return false
	}
	if at.Sub(c.agentSince) < c.cfg.BargeInGrace {
		return false
	}
	return at.Sub(c.speechStart) >= c.cfg.BargeInConfirm
}

func (c *Controller) raiseBargeIn(b *batch, at time.Time) {
	if !c.move(b, StateInterrupted, at, "barge-in") {
		return
	}
	c.bargeRaised = true
	b.signals = append(b.signals, Signal{Kind: SignalBargeIn, At: at})
}

// OnTranscript folds one STT result into the pending utterance. Partials
// replace each other; finals accumulate. A final that arrives while no
// speech is open releases the utterance at once, which is how sessions
// fed only by transcripts take turns.
func (c *Controller) OnTranscript(ctx context.Context, ev frames.TranscriptEvent) error {
	c.mu.Lock()
	var b batch
	if lang := frames.NormalizeLanguage(ev.Language); lang != "" {
		c.language = lang
	}
	text := strings.TrimSpace(ev.Text)
	if ev.IsFinal {
		if text != "" {
			c.committed = append(c.committed, text)
			c.words = append(c.words, ev.Words...)
			c.confSum += ev.Confidence
			c.confN++
		}
		c.partial = ""
		if c.state == StateSpeechEnd || c.state == StateSilence {
			c.releaseLocked(&b, ev.At, false)
		}
	} else if text != "" {
		c.partial = text
		if joined := c.textLocked(); joined != c.lastPartial {
			c.lastPartial = joined
			b.signals = append(b.signals, Signal{Kind: SignalPartial, At: ev.At, Partial: joined})
		}
	}
	if ev.EndOfUtterance {
		c.utteranceEndLocked(&b, ev.At)
	}
	c.mu.Unlock()
	return c.publish(ctx, b)
}

// OnUtteranceEnd handles an end-of-utterance hint from the STT provider,
// which measures silence on its side.
func (c *Controller) OnUtteranceEnd(ctx context.Context, at time.Time) error {
	c.mu.Lock()
	var b batch
	c.utteranceEndLocked(&b, at)
	c.mu.Unlock()
	return c.publish(ctx, b)
}

func (c *Controller) utteranceEndLocked(b *batch, at time.Time) {
	switch c.state {
	case StateSpeechActive, StateInterrupted:
		c.move(b, StateSpeechEnd, at, "stt utterance end")
		b.signals = append(b.signals, vadSignal(frames.VadSpeechEnd, 0, at))
		c.bargeRaised = false
	}
	c.releaseLocked(b, at, false)
}

// Flush releases whatever has been heard, falling back to the last partial
// when no final transcript arrived. Used when the STT stream ends.
func (c *Controller) Flush(ctx context.Context, at time.Time) error {
	c.mu.Lock()
	var b batch
	c.releaseLocked(&b, at, true)
	c.mu.Unlock()
	return c.publish(ctx, b)
}

// Reset drops all pending speech and returns to silence.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateSilence
	c.bargeRaised = false
	c.clearLocked()
}

func (c *Controller) textLocked() string {
	parts := c.committed
	if c.partial != "" {
		parts = append(append([]string(nil), parts...), c.partial)
	}
	return strings.Join(parts, " ")
}

func (c *Controller) releaseLocked(b *batch, at time.Time, force bool) {
	text := strings.Join(c.committed, " ")
	conf := 0.0
	if c.confN > 0 {
		conf = c.confSum / float64(c.confN)
	}
	if text == "" {
		if !force || c.partial == "" {
			// the STT final that belongs to this speech releases it later
			return
		}
		text = c.partial
	}
	start := c.utterStart
	if start.IsZero() {
		start = at
	}
	end := c.lastSpeech
	if end.IsZero() || end.Before(start) {
		end = at
	}
	utt := frames.Utterance{
		ID:         uuid.NewString(),
		Text:       text,
		Language:   c.language,
		Confidence: conf,
		Start:      start,
		End:        end,
		Words:      c.words,
	}
	b.signals = append(b.signals, Signal{Kind: SignalUtterance, At: at, Utterance: utt})
	c.clearLocked()
}

func (c *Controller) clearLocked() {
	c.committed = nil
	c.words = nil
	c.confSum, c.confN = 0, 0
	c.partial, c.lastPartial = "", ""
	c.utterStart = time.Time{}
}

func (c *Controller) publish(ctx context.Context, b batch) error {
	if len(b.changes) > 0 {
		c.mu.Lock()
		listeners := append([]StateListener(nil), c.listeners...)
		c.mu.Unlock()
		for _, ch := range b.changes {
			for _, l := range listeners {
				l.OnStateChange(ch)
			}
		}
	}
	if c.out == nil {
		return nil
	}
	for _, s := range b.signals {
		if err := c.out.Push(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
