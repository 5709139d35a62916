package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/tools"
)

type Config struct {
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxParallel  int           `mapstructure:"max_parallel"`
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	return c
}

// Bridge runs the tool calls of one model turn concurrently and folds
// every outcome, failures included, into ordered results.
type Bridge struct {
	registry *tools.Registry
	cfg      Config
	obs      metrics.Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	scope    string
}

type Option func(*Bridge)

func WithObserver(obs metrics.Observer) Option { return func(b *Bridge) { b.obs = obs } }

func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithScope prefixes derived idempotency keys, usually with the session id.
func WithScope(scope string) Option { return func(b *Bridge) { b.scope = scope } }

func New(registry *tools.Registry, cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		registry: registry,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("github.com/harunnryd/parley/pkg/toolbridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewComponentLogger(nil, "tool_bridge")
	}
	return b
}

func (b *Bridge) Definitions() []tools.Definition { return b.registry.Definitions() }

// Execute runs calls with at most MaxParallel in flight. Each call gets
// CallTimeout; the whole batch gets BatchTimeout. The result slice is in
// invocation order and always has one entry per call.
func (b *Bridge) Execute(ctx context.Context, calls []tools.Invocation) []tools.Result {
	results := make([]tools.Result, len(calls))
	if len(calls) == 0 {
		return results
	}
	batchCtx, cancel := context.WithTimeout(ctx, b.cfg.BatchTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(b.cfg.MaxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = b.run(ctx, batchCtx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Bridge) run(parent, batchCtx context.Context, call tools.Invocation) tools.Result {
	res := tools.Result{CallID: call.CallID, Name: call.Name}
	if err := batchCtx.Err(); err != nil {
		res.Err = b.ctxError(parent, err)
		b.report(call, res, 0)
		return res
	}
	tool, ok := b.registry.Get(call.Name)
	if !ok {
		res.Err = &tools.ErrorResult{Kind: tools.ErrorUnknownTool, Message: fmt.Sprintf("%s: %q", tools.ErrUnknownTool, call.Name)}
		b.report(call, res, 0)
		return res
	}
	if err := tools.Validate(tool.Definition().Schema, call.Args); err != nil {
		res.Err = &tools.ErrorResult{Kind: tools.ErrorInvalidArgs, Message: err.Error()}
		b.report(call, res, 0)
		return res
	}

	callCtx, cancel := context.WithTimeout(batchCtx, b.cfg.CallTimeout)
	defer cancel()
	callCtx = tools.WithIdempotencyKey(callCtx, b.idempotencyKey(call))
	callCtx, span := b.tracer.Start(callCtx, "tool."+call.Name, trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.CallID),
	))
	defer span.End()

	type outcome struct {
		out json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panic: %v", r)}
			}
		}()
		out, err := tool.Execute(callCtx, call.Args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		switch {
		case o.err == nil:
			res.Output = o.out
		case errors.Is(o.err, tools.ErrInvalidArgs):
			res.Err = &tools.ErrorResult{Kind: tools.ErrorInvalidArgs, Message: o.err.Error()}
		case callCtx.Err() != nil:
			res.Err = b.ctxError(parent, callCtx.Err())
		default:
			res.Err = &tools.ErrorResult{Kind: tools.ErrorExecution, Message: o.err.Error()}
		}
	case <-callCtx.Done():
		res.Err = b.ctxError(parent, callCtx.Err())
	}
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Message)
		span.SetAttributes(attribute.String("tool.error_kind", string(res.Err.Kind)))
	}
	b.report(call, res, time.Since(start))
	return res
}

// ctxError distinguishes a caller cancellation (barge-in) from a deadline.
func (b *Bridge) ctxError(parent context.Context, err error) *tools.ErrorResult {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return &tools.ErrorResult{Kind: tools.ErrorCancelled, Message: "cancelled"}
	}
	if errors.Is(err, context.Canceled) {
		return &tools.ErrorResult{Kind: tools.ErrorCancelled, Message: "cancelled"}
	}
	return &tools.ErrorResult{Kind: tools.ErrorTimeout, Message: "deadline exceeded"}
}

func (b *Bridge) idempotencyKey(call tools.Invocation) string {
	if call.IdempotencyKey != "" {
		return call.IdempotencyKey
	}
	if b.scope == "" {
		return call.CallID
	}
	return b.scope + ":" + call.CallID
}

func (b *Bridge) report(call tools.Invocation, res tools.Result, d time.Duration) {
	status := "ok"
	if res.Err != nil {
		status = string(res.Err.Kind)
		b.logger.Warn("tool_call_failed", "tool_name", call.Name, "call_id", call.CallID, "kind", res.Err.Kind, "error", res.Err.Message)
	} else {
		b.logger.Debug("tool_call_done", "tool_name", call.Name, "call_id", call.CallID, "duration_ms", d.Milliseconds())
	}
	metrics.Timing(b.obs, metrics.EventToolCall, d, map[string]string{"tool": call.Name, "status": status})
}
