package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
)

var ErrDraining = errors.New("session: registry is draining")

// Factory builds an unstarted session.
type Factory func(id, customerID string, opts ...Option) (*Session, error)

// NewFactory binds deps and cfg so every session is wired the same way.
func NewFactory(deps Deps, cfg Config) Factory {
	return func(id, customerID string, opts ...Option) (*Session, error) {
		return New(id, customerID, deps, cfg, opts...)
	}
}

// Registry tracks the live sessions of one process. Sessions remove
// themselves when they end.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  Factory
	draining atomic.Bool
	obs      metrics.Observer
}

func NewRegistry(factory Factory, obs metrics.Observer) *Registry {
	return &Registry{factory: factory, obs: obs}
}

// GetOrCreate returns the live session for id, creating and starting one
// if needed. created reports whether this call started it.
func (r *Registry) GetOrCreate(ctx context.Context, id, customerID string) (*Session, bool, error) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), false, nil
	}
	if r.Draining() {
		return nil, false, ErrDraining
	}
	sess, err := r.factory(id, customerID, WithOnClose(r.forget))
	if err != nil {
		return nil, false, err
	}
	actual, loaded := r.sessions.LoadOrStore(id, sess)
	if loaded {
		return actual.(*Session), false, nil
	}
	r.gauge(r.count.Add(1))
	if err := sess.Start(ctx); err != nil {
		r.forget(sess)
		return nil, false, err
	}
	return sess, true, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove closes the session; it leaves the registry once torn down.
func (r *Registry) Remove(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return nil
	}
	return sess.Close(ctx)
}

// CloseAll closes every live session concurrently and waits for them.
func (r *Registry) CloseAll(ctx context.Context) {
	var wg sync.WaitGroup
	r.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Close(ctx)
		}()
		return true
	})
	wg.Wait()
}

func (r *Registry) forget(sess *Session) {
	if r.sessions.CompareAndDelete(sess.ID(), sess) {
		r.gauge(r.count.Add(-1))
	}
}

func (r *Registry) gauge(n int64) {
	metrics.Gauge(r.obs, metrics.EventSessionsActive, float64(n), nil)
}

func (r *Registry) Count() int64 { return r.count.Load() }

func (r *Registry) SetDraining(v bool) { r.draining.Store(v) }

func (r *Registry) Draining() bool { return r.draining.Load() }

// WaitForEmpty waits until every session has ended or ctx is done.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Drain stops admitting sessions and waits for the open ones to finish.
// Whatever is still open when ctx ends is closed.
func (r *Registry) Drain(ctx context.Context) error {
	r.SetDraining(true)
	if r.WaitForEmpty(ctx, 0) {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.CloseAll(closeCtx)
	return ctx.Err()
}
