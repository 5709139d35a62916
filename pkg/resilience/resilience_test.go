package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/parley/pkg/errorsx"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errorsx.Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	_ = policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	policy := NewRetryPolicy(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return RateLimitError{Provider: "llm"}
	})
	if !IsRateLimit(err) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	cb.OnError(errors.New("ignored"))
	if !cb.Allow() {
		t.Fatalf("non-transient errors should not count")
	}
	cb.OnError(RateLimitError{})
	cb.OnError(errorsx.Transient(errors.New("timeout")))
	if cb.Allow() || cb.State() != BreakerOpen {
		t.Fatalf("expected breaker to open")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after success")
	}
}

func TestCircuitBreakerProbesAfterCooldown(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return clock }
	var seen []BreakerState
	cb.OnStateChange(func(_, to BreakerState) { seen = append(seen, to) })

	cb.OnError(RateLimitError{})
	if cb.Allow() {
		t.Fatalf("expected open breaker to deny")
	}
	clock = clock.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected probe after cooldown")
	}
	if cb.Allow() {
		t.Fatalf("expected a single probe while half open")
	}
	cb.OnError(errorsx.Transient(errors.New("still down")))
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("expected failed probe to reopen, got %s", cb.State())
	}

	clock = clock.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected second probe")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() {
		t.Fatalf("expected closed after probe success, got %s", cb.State())
	}
	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions %v, want %v", seen, want)
		}
	}
}
