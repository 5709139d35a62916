package llm

import (
	"context"
	"time"

	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/resilience"
)

// BreakerModel fails fast with a RateLimitError while the provider's
// breaker is open. The generation pipeline treats that as a degraded turn.
type BreakerModel struct {
	inner   LanguageModel
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewBreakerModel(inner LanguageModel, breaker *resilience.CircuitBreaker) *BreakerModel {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	m := &BreakerModel{inner: inner, breaker: breaker}
	breaker.OnStateChange(m.onStateChange)
	return m
}

func (m *BreakerModel) Name() string { return m.inner.Name() }

func (m *BreakerModel) SetObserver(obs metrics.Observer) { m.obs = obs }

func (m *BreakerModel) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan frames.StreamToken, error) {
	if !m.breaker.Allow() {
		m.record(metrics.EventBreakerDenied, "")
		return nil, resilience.RateLimitError{Provider: m.Name(), Message: "llm degraded: circuit open"}
	}
	ch, err := m.inner.GenerateStream(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			m.record(metrics.EventRateLimit, "")
		}
		m.breaker.OnError(err)
		return nil, err
	}
	m.breaker.OnSuccess()
	return ch, nil
}

func (m *BreakerModel) onStateChange(from, to resilience.BreakerState) {
	switch to {
	case resilience.BreakerOpen:
		m.record(metrics.EventBreakerOpen, from)
	case resilience.BreakerClosed:
		m.record(metrics.EventBreakerClose, from)
	}
}

func (m *BreakerModel) record(name string, from resilience.BreakerState) {
	tags := map[string]string{"provider": m.inner.Name(), "component": "llm"}
	if from != "" {
		tags["from"] = string(from)
	}
	metrics.Count(m.obs, name, tags)
}
