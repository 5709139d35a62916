package generation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/metrics"
)

type slot struct {
	unit   frames.SentenceUnit
	filler bool
	done   chan struct{}
	audio  tts.Audio
	err    error
}

// sequencer synthesizes sentences concurrently and delivers their audio
// to egress strictly in submission order.
type sequencer struct {
	p      *Pipeline
	turn   Turn
	ctx    context.Context
	cancel context.CancelCauseFunc
	start  time.Time

	synth errgroup.Group
	order chan *slot
	done  chan struct{}

	mu         sync.Mutex
	delivered  []frames.SentenceUnit
	fillers    int
	queuedFill int
	firstAudio time.Duration
	err        error
}

func newSequencer(ctx context.Context, p *Pipeline, turn Turn, start time.Time) *sequencer {
	ctx, cancel := context.WithCancelCause(ctx)
	s := &sequencer{
		p:      p,
		turn:   turn,
		ctx:    ctx,
		cancel: cancel,
		start:  start,
		order:  make(chan *slot, 256),
		done:   make(chan struct{}),
	}
	s.synth.SetLimit(p.cfg.MaxConcurrentSynth)
	go s.deliver()
	return s
}

// submit queues a sentence. It blocks while MaxConcurrentSynth sentences
// are being synthesized and returns false once the turn is over.
func (s *sequencer) submit(u frames.SentenceUnit, filler bool) bool {
	if s.ctx.Err() != nil {
		return false
	}
	sl := &slot{unit: u, filler: filler, done: make(chan struct{})}
	select {
	case s.order <- sl:
	case <-s.ctx.Done():
		return false
	}
	if filler {
		s.mu.Lock()
		s.queuedFill++
		s.mu.Unlock()
	}
	s.synth.Go(func() error {
		defer close(sl.done)
		if s.ctx.Err() != nil {
			sl.err = s.ctx.Err()
			return nil
		}
		sl.audio, sl.err = s.p.synthesize(s.ctx, s.turn, u)
		return nil
	})
	return true
}

func (s *sequencer) deliver() {
	defer close(s.done)
	for sl := range s.order {
		select {
		case <-sl.done:
		case <-s.ctx.Done():
			return
		}
		if sl.err != nil {
			if s.ctx.Err() == nil {
				s.fail(errorsx.FatalTurn(errorsx.Wrap(sl.err, errorsx.ReasonTTSSynthesize)))
			}
			return
		}
		if !s.push(sl) {
			return
		}
	}
}

// push writes one sentence to egress in frame-sized chunks, checking for
// cancellation before every frame.
func (s *sequencer) push(sl *slot) bool {
	chunks := chunkPCM(sl.audio, s.p.cfg.FrameDuration)
	meta := map[string]string{
		frames.MetaSessionID:     s.turn.SessionID,
		frames.MetaTurnID:        s.turn.ID,
		frames.MetaSentenceIndex: itoa(sl.unit.Index),
		frames.MetaSource:        "tts",
	}
	if sl.filler {
		meta[frames.MetaFiller] = "true"
	}
	for _, pcm := range chunks {
		if s.ctx.Err() != nil {
			return false
		}
		f := frames.NewAudioFrame(s.p.seq.Next(), time.Now(), pcm, sl.audio.SampleRate, max(sl.audio.Channels, 1), meta)
		if err := s.p.egress.Push(s.ctx, f); err != nil {
			if s.ctx.Err() == nil {
				s.fail(errorsx.FatalSession(errorsx.Wrap(err, errorsx.ReasonBusClosed)))
			}
			return false
		}
		s.mu.Lock()
		if s.firstAudio == 0 {
			s.firstAudio = time.Since(s.start)
			metrics.Timing(s.p.obs, metrics.EventFirstAudio, s.firstAudio, map[string]string{"session_id": s.turn.SessionID, "turn_id": s.turn.ID})
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	if sl.filler {
		s.fillers++
	} else {
		s.delivered = append(s.delivered, sl.unit)
	}
	s.mu.Unlock()
	metrics.Count(s.p.obs, metrics.EventSentence, map[string]string{"filler": boolString(sl.filler)})
	if s.p.onSentence != nil {
		s.p.onSentence(s.turn, sl.unit)
	}
	return true
}

func (s *sequencer) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel(err)
}

// pending reports how many sentences were queued but not delivered.
func (s *sequencer) pending() int { return len(s.order) }

func (s *sequencer) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered) + s.fillers
}

// fillerCount reports fillers submitted so far.
func (s *sequencer) fillerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedFill
}

// finish waits for every queued sentence to be delivered or dropped.
func (s *sequencer) finish() ([]frames.SentenceUnit, time.Duration, error) {
	close(s.order)
	_ = s.synth.Wait()
	<-s.done
	s.cancel(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frames.SentenceUnit(nil), s.delivered...), s.firstAudio, s.err
}

func (p *Pipeline) synthesize(ctx context.Context, turn Turn, u frames.SentenceUnit) (tts.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SynthTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.Int("sentence.index", u.Index),
	))
	defer span.End()
	start := time.Now()
	voice := p.cfg.Voice
	if turn.Snapshot.Language != "" {
		voice.Language = turn.Snapshot.Language
	}
	audio, err := p.synth.Synthesize(ctx, u.Text, voice)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.Timing(p.obs, metrics.EventSynthesis, time.Since(start), map[string]string{"provider": p.synth.Name(), "status": status})
	return audio, err
}

// chunkPCM splits PCM16 audio into frames of d.
func chunkPCM(a tts.Audio, d time.Duration) [][]byte {
	ch := max(a.Channels, 1)
	size := len(a.PCM)
	if a.SampleRate > 0 && d > 0 {
		size = int(int64(a.SampleRate)*int64(d)/int64(time.Second)) * 2 * ch
	}
	if size <= 0 {
		size = len(a.PCM)
	}
	var out [][]byte
	for off := 0; off < len(a.PCM); off += size {
		end := min(off+size, len(a.PCM))
		out = append(out, a.PCM[off:end])
	}
	return out
}
