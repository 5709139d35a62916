package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/parley/pkg/logging"
)

var (
	ErrDrainTimeout = errors.New("drain timeout")
	errInvalidState = errors.New("invalid state transition")
)

type LifecycleRunner struct {
	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   io.Writer
	logger   *slog.Logger
}

type Option func(*LifecycleRunner)

// WithBanner prints the startup banner to w.
func WithBanner(w io.Writer) Option {
	return func(r *LifecycleRunner) { r.banner = w }
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration, opts ...Option) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		logger:  logging.NewComponentLogger(nil, "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errInvalidState
	}
	if r.banner != nil {
		PrintBanner(r.banner)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(ctx); err != nil {
			r.setState(StateStopped)
			return fmt.Errorf("start: %w", err)
		}
	}
	r.setState(StateRunning)
	r.logger.Info("runner_started", "version", Version)
	<-ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		r.logger.Info("runner_draining", "timeout", r.timeout.String())
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.drainer.Drain(ctx); err != nil {
				r.stopErr = ErrDrainTimeout
				r.logger.Warn("runner_drain_incomplete", "error", err)
			}
			cancel()
		}
		if r.hooks.OnStop != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.hooks.OnStop(ctx); err != nil {
				r.stopErr = errors.Join(r.stopErr, err)
			}
			cancel()
		}
		r.setState(StateStopped)
		r.logger.Info("runner_stopped")
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
