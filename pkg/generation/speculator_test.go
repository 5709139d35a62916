package generation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/metrics"
)

type recordingRetriever struct {
	mu    sync.Mutex
	calls []retrieval.Options
	query []string
	err   error
}

func (r *recordingRetriever) Retrieve(_ context.Context, query string, opts retrieval.Options) ([]retrieval.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, opts)
	r.query = append(r.query, query)
	if r.err != nil {
		return nil, r.err
	}
	return []retrieval.Document{{ID: query, Content: "Gold loan rates start at 9.5 percent."}}, nil
}

func (r *recordingRetriever) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingRetriever) optsFor(query string) (retrieval.Options, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.query {
		if q == query {
			return r.calls[i], true
		}
	}
	return retrieval.Options{}, false
}

func TestSpeculatorReusesSimilarPartial(t *testing.T) {
	r := &recordingRetriever{}
	obs := metrics.NewMemoryObserver()
	s := NewSpeculator(r, SpeculatorConfig{}, obs)
	partial := "what is the interest rate for gold loan"
	if !s.Prefetch(context.Background(), partial, retrieval.Options{TopK: 3}) {
		t.Fatal("prefetch refused")
	}
	docs, hit, err := s.Resolve(context.Background(), "what is the interest rate for gold loan today", retrieval.Options{TopK: 3})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !hit || len(docs) != 1 || docs[0].ID != partial {
		t.Fatalf("hit=%v docs=%+v", hit, docs)
	}
	if r.count() != 1 || !r.calls[0].Partial {
		t.Fatalf("calls = %+v", r.calls)
	}
	if len(obs.Named(metrics.EventSpeculativeHit)) != 1 {
		t.Fatal("expected hit metric")
	}
}

func TestSpeculatorReissuesOnDivergence(t *testing.T) {
	r := &recordingRetriever{}
	obs := metrics.NewMemoryObserver()
	s := NewSpeculator(r, SpeculatorConfig{}, obs)
	s.Prefetch(context.Background(), "what is the interest rate", retrieval.Options{})
	final := "actually I want to visit the branch tomorrow"
	docs, hit, err := s.Resolve(context.Background(), final, retrieval.Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if hit || len(docs) != 1 || docs[0].ID != final {
		t.Fatalf("hit=%v docs=%+v", hit, docs)
	}
	if opts, ok := r.optsFor(final); !ok || opts.Partial {
		t.Fatalf("final query not issued as a full retrieval: %+v", r.calls)
	}
	if len(obs.Named(metrics.EventSpeculativeMiss)) != 1 {
		t.Fatal("expected miss metric")
	}
}

func TestSpeculatorRefusesShortAndThrottled(t *testing.T) {
	r := &recordingRetriever{}
	s := NewSpeculator(r, SpeculatorConfig{Rate: 0.001, Burst: 1}, nil)
	if s.Prefetch(context.Background(), "rate?", retrieval.Options{}) {
		t.Fatal("short partial should be refused")
	}
	if !s.Prefetch(context.Background(), "what is the interest rate", retrieval.Options{}) {
		t.Fatal("first prefetch refused")
	}
	if s.Prefetch(context.Background(), "what is the interest rate for two lakh", retrieval.Options{}) {
		t.Fatal("limiter should refuse the second prefetch")
	}
}

func TestSpeculatorErrorsAreTransient(t *testing.T) {
	r := &recordingRetriever{err: errors.New("index offline")}
	s := NewSpeculator(r, SpeculatorConfig{}, nil)
	_, _, err := s.Resolve(context.Background(), "what documents do I need", retrieval.Options{})
	if err == nil || !errorsx.IsTransient(err) || !errorsx.HasReason(err, errorsx.ReasonRetrieval) {
		t.Fatalf("err = %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	a := tokenSet("What is the rate?")
	b := tokenSet("what is the RATE")
	if got := similarity(a, b); got != 1 {
		t.Fatalf("similarity = %v", got)
	}
	if got := similarity(a, tokenSet("branch visit")); got != 0 {
		t.Fatalf("similarity = %v", got)
	}
}
