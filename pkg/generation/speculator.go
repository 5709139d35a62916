package generation

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/metrics"
)

type SpeculatorConfig struct {
	// Threshold is the token-set similarity at which a speculative result
	// is reused for the final utterance.
	Threshold float64 `mapstructure:"threshold"`
	// MinChars a partial needs before it is worth a query.
	MinChars int `mapstructure:"min_chars"`
	// Rate and Burst bound speculative queries per session.
	Rate        float64       `mapstructure:"rate"`
	Burst       int           `mapstructure:"burst"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

func (c SpeculatorConfig) withDefaults() SpeculatorConfig {
	if c.Threshold <= 0 {
		c.Threshold = 0.7
	}
	if c.MinChars <= 0 {
		c.MinChars = 12
	}
	if c.Rate <= 0 {
		c.Rate = 4
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 800 * time.Millisecond
	}
	return c
}

type speculation struct {
	query  string
	tokens map[string]struct{}
	done   chan struct{}
	docs   []retrieval.Document
	err    error
}

// Speculator runs retrieval on stable partial transcripts so documents
// are ready when the utterance closes.
type Speculator struct {
	retriever retrieval.Retriever
	cfg       SpeculatorConfig
	limiter   *rate.Limiter
	obs       metrics.Observer

	mu      sync.Mutex
	pending *speculation
}

func NewSpeculator(r retrieval.Retriever, cfg SpeculatorConfig, obs metrics.Observer) *Speculator {
	cfg = cfg.withDefaults()
	return &Speculator{
		retriever: r,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		obs:       obs,
	}
}

// Prefetch starts a speculative query for partial. It returns false when
// the partial is too short, repeats the pending query, or the limiter
// refuses.
func (s *Speculator) Prefetch(ctx context.Context, partial string, opts retrieval.Options) bool {
	partial = strings.TrimSpace(partial)
	if s == nil || s.retriever == nil || len([]rune(partial)) < s.cfg.MinChars {
		return false
	}
	tokens := tokenSet(partial)
	s.mu.Lock()
	if s.pending != nil && similarity(s.pending.tokens, tokens) >= 1 {
		s.mu.Unlock()
		return false
	}
	if !s.limiter.Allow() {
		s.mu.Unlock()
		return false
	}
	spec := &speculation{query: partial, tokens: tokens, done: make(chan struct{})}
	s.pending = spec
	s.mu.Unlock()

	opts.Partial = true
	go func() {
		defer close(spec.done)
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		spec.docs, spec.err = s.retriever.Retrieve(callCtx, partial, opts)
	}()
	return true
}

// Resolve returns documents for the final utterance. A pending
// speculation is reused when it is similar enough; otherwise it is
// discarded and retrieval is issued on final. Errors are transient.
func (s *Speculator) Resolve(ctx context.Context, final string, opts retrieval.Options) ([]retrieval.Document, bool, error) {
	s.mu.Lock()
	spec := s.pending
	s.pending = nil
	s.mu.Unlock()

	if spec != nil && similarity(spec.tokens, tokenSet(final)) >= s.cfg.Threshold {
		select {
		case <-spec.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if spec.err == nil {
			metrics.Count(s.obs, metrics.EventSpeculativeHit, nil)
			return spec.docs, true, nil
		}
	}
	if spec != nil {
		metrics.Count(s.obs, metrics.EventSpeculativeMiss, nil)
	}
	return s.fetch(ctx, final, opts)
}

func (s *Speculator) fetch(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Document, bool, error) {
	if s.retriever == nil {
		return nil, false, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	opts.Partial = false
	docs, err := s.retriever.Retrieve(callCtx, query, opts)
	if err != nil {
		return nil, false, errorsx.Transient(errorsx.Wrap(err, errorsx.ReasonRetrieval))
	}
	return docs, false, nil
}

// Reset drops any pending speculation, e.g. after barge-in.
func (s *Speculator) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func tokenSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// similarity is the Jaccard index of two token sets.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
