package llm

import (
	"context"
	"time"

	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/resilience"
)

// RetryModel retries opening a stream on transient failures. Once tokens
// flow nothing is retried: the caller may already have spoken them.
type RetryModel struct {
	inner  LanguageModel
	policy resilience.RetryPolicy
	obs    metrics.Observer
}

func NewRetryModel(inner LanguageModel, policy resilience.RetryPolicy) *RetryModel {
	if policy.Backoff <= 0 {
		policy.Backoff = 100 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 2 * time.Second
	}
	return &RetryModel{inner: inner, policy: policy}
}

func (m *RetryModel) Name() string { return m.inner.Name() }

func (m *RetryModel) SetObserver(obs metrics.Observer) { m.obs = obs }

func (m *RetryModel) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan frames.StreamToken, error) {
	var out <-chan frames.StreamToken
	attempt := 0
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.Count(m.obs, metrics.EventLLMRetry, map[string]string{"provider": m.inner.Name()})
		}
		attempt++
		ch, err := m.inner.GenerateStream(ctx, req)
		if err != nil {
			return err
		}
		out = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
