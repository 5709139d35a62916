package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/resilience"
)

type flakyModel struct {
	failures int
	err      error
	calls    int
}

func (m *flakyModel) Name() string { return "flaky" }

func (m *flakyModel) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan frames.StreamToken, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	ch := make(chan frames.StreamToken, 3)
	ch <- frames.StreamToken{Text: "Hello "}
	ch <- frames.StreamToken{Text: "there."}
	ch <- frames.StreamToken{Final: true}
	close(ch)
	return ch, nil
}

func TestRetryModelRetriesTransientOpen(t *testing.T) {
	inner := &flakyModel{failures: 2, err: errorsx.Transient(errors.New("503"))}
	obs := metrics.NewMemoryObserver()
	m := NewRetryModel(inner, resilience.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})
	m.SetObserver(obs)

	ch, err := m.GenerateStream(context.Background(), GenerationRequest{})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	text, _, err := Collect(context.Background(), ch)
	if err != nil || text != "Hello there." {
		t.Fatalf("unexpected stream %q, %v", text, err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
	if got := len(obs.Named(metrics.EventLLMRetry)); got != 2 {
		t.Fatalf("expected 2 retry events, got %d", got)
	}
}

func TestRetryModelStopsOnPermanentError(t *testing.T) {
	inner := &flakyModel{failures: 5, err: errors.New("bad request")}
	m := NewRetryModel(inner, resilience.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})
	if _, err := m.GenerateStream(context.Background(), GenerationRequest{}); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", inner.calls)
	}
}

func TestBreakerModelOpensAfterRateLimits(t *testing.T) {
	inner := &flakyModel{failures: 10, err: resilience.RateLimitError{Provider: "flaky", Message: "429"}}
	obs := metrics.NewMemoryObserver()
	m := NewBreakerModel(inner, resilience.NewCircuitBreaker(2, time.Minute))
	m.SetObserver(obs)

	for i := 0; i < 2; i++ {
		if _, err := m.GenerateStream(context.Background(), GenerationRequest{}); err == nil {
			t.Fatalf("expected rate limit")
		}
	}
	_, err := m.GenerateStream(context.Background(), GenerationRequest{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected breaker rejection, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected inner untouched while open, got %d calls", inner.calls)
	}
	if len(obs.Named(metrics.EventBreakerOpen)) != 1 || len(obs.Named(metrics.EventBreakerDenied)) != 1 {
		t.Fatalf("expected breaker events, got %+v", obs.Snapshot())
	}
}

func TestCollectStopsOnError(t *testing.T) {
	ch := make(chan frames.StreamToken, 2)
	ch <- frames.StreamToken{Text: "par"}
	ch <- frames.StreamToken{Err: errors.New("reset")}
	text, _, err := Collect(context.Background(), ch)
	if err == nil || text != "par" {
		t.Fatalf("expected partial text and error, got %q %v", text, err)
	}
}

func TestWithMessagesCopies(t *testing.T) {
	req := GenerationRequest{Messages: make([]Message, 1, 4)}
	a := req.WithMessages(Message{Role: RoleUser, Content: "a"})
	b := req.WithMessages(Message{Role: RoleUser, Content: "b"})
	if a.Messages[1].Content != "a" || b.Messages[1].Content != "b" {
		t.Fatalf("requests share backing arrays")
	}
}
