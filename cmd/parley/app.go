package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harunnryd/parley/pkg/adapters/vad"
	"github.com/harunnryd/parley/pkg/config"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/observers"
	"github.com/harunnryd/parley/pkg/providers"
	"github.com/harunnryd/parley/pkg/providers/loantools"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/runner"
	"github.com/harunnryd/parley/pkg/session"
	"github.com/harunnryd/parley/pkg/telemetry"
	"github.com/harunnryd/parley/pkg/tools"
	"github.com/harunnryd/parley/pkg/transports/wsstream"
)

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	redactor *redact.Redactor

	promReg  *prometheus.Registry
	async    *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	closers  []io.Closer

	tracing   *telemetry.Providers
	sessions  *session.Registry
	transport *wsstream.Transport
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		redactor: redact.New(cfg.Privacy.RedactPII),
	}
	obs, err := a.buildObservers()
	if err != nil {
		a.release()
		return nil, err
	}

	tr := cfg.Observability.Tracing
	a.tracing, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:      tr.Enabled,
		OTLPEndpoint: tr.OTLPEndpoint,
		ServiceName:  tr.ServiceName,
		Version:      runner.Version,
		SampleRate:   tr.SampleRate,
	})
	if err != nil {
		a.release()
		return nil, err
	}

	deps, err := a.buildDeps(obs)
	if err != nil {
		a.release()
		return nil, err
	}
	a.sessions = session.NewRegistry(session.NewFactory(deps, cfg.Session), obs)

	srv := cfg.Server
	a.transport = wsstream.New(wsstream.Config{
		Addr:            srv.Addr,
		Path:            srv.WSPath,
		AllowAnyOrigin:  srv.AllowAnyOrigin,
		AllowedOrigins:  srv.AllowedOrigins,
		ReadBufferSize:  srv.ReadBufferSize,
		WriteBufferSize: srv.WriteBufferSize,
		MaxSessions:     srv.MaxSessions,
		SampleRate:      cfg.Session.SampleRate,
	}, a.sessions, obs)
	if a.promReg != nil {
		a.transport.Handle(srv.MetricsPath, promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	}

	logger.Info("parley_init",
		"environment", cfg.Environment,
		"version", runner.Version,
		"llm_provider", cfg.Providers.LLM.Provider,
		"stt_provider", cfg.Providers.STT.Provider,
		"tts_provider", cfg.Providers.TTS.Provider,
		"memory_provider", cfg.Memory.Provider,
		"retrieval_provider", cfg.Retrieval.Provider,
		"redact_pii", a.redactor.Enabled(),
	)
	return a, nil
}

// buildObservers fans events out to latency tracking, Prometheus and the
// sampled debug sinks, all behind one async buffer.
func (a *app) buildObservers() (metrics.Observer, error) {
	oc := a.cfg.Observability
	sampled := []metrics.Observer{observers.NewLoggerObserver(logging.NewComponentLogger(a.logger, "metrics"), a.redactor)}
	if dir := strings.TrimSpace(oc.ArtifactsDir); dir != "" {
		if oc.RetentionDays > 0 {
			n, err := observers.PurgeArtifacts(dir, time.Duration(oc.RetentionDays)*24*time.Hour)
			if err != nil {
				a.logger.Warn("artifact_purge_failed", "dir", dir, "error", err.Error())
			} else if n > 0 {
				a.logger.Info("artifacts_purged", "dir", dir, "removed", n)
			}
		}
		a.timeline = observers.NewTimelineObserver(dir, a.redactor)
		sampled = append(sampled, a.timeline)
	}
	if path := strings.TrimSpace(oc.EventsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		a.closers = append(a.closers, f)
		sampled = append(sampled, metrics.NewJSONLObserver(f))
	}

	list := []metrics.Observer{
		observers.NewLatencyObserver(logging.NewComponentLogger(a.logger, "latency")),
		metrics.NewSamplingObserver(observers.NewMultiObserver(sampled...), oc.SampleRate),
	}
	if oc.Prometheus {
		a.promReg = prometheus.NewRegistry()
		a.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		list = append(list, metrics.NewPrometheusObserver(oc.Namespace, a.promReg))
	}
	a.async = metrics.NewAsyncObserver(observers.NewMultiObserver(list...), oc.EventBuffer)
	return a.async, nil
}

func (a *app) buildDeps(obs metrics.Observer) (session.Deps, error) {
	reg := providers.Default()
	reg.SetObserver(obs)
	cfg := a.cfg

	model, err := reg.BuildLLM(cfg.Providers.LLM.Provider, cfg.Providers.LLM.Settings)
	if err != nil {
		return session.Deps{}, err
	}
	synth, err := reg.BuildTTS(cfg.Providers.TTS.Provider, cfg.Providers.TTS.Settings)
	if err != nil {
		return session.Deps{}, err
	}
	var sttFactory providers.STTFactory
	if strings.TrimSpace(cfg.Providers.STT.Provider) != "" {
		sttFactory, err = reg.BuildSTT(cfg.Providers.STT.Provider, cfg.Providers.STT.Settings)
		if err != nil {
			return session.Deps{}, err
		}
	}
	store, err := reg.BuildMemory(cfg.Memory.Provider, cfg.Memory.Settings)
	if err != nil {
		return session.Deps{}, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	retriever, err := reg.BuildRetriever(cfg.Retrieval.Provider, cfg.Retrieval.Settings)
	if err != nil {
		return session.Deps{}, err
	}
	toolset, err := buildTools(cfg.Tools.Enabled, a.leadSink)
	if err != nil {
		return session.Deps{}, err
	}

	return session.Deps{
		Model:     model,
		Synth:     synth,
		Retriever: retriever,
		STT:       sttFactory,
		VAD:       vad.NewEnergyDetector(),
		Tools:     toolset,
		Memory:    store,
		Rules:     cfg.Conversation.Rules(),
		Observer:  obs,
		Logger:    logging.NewComponentLogger(a.logger, "session"),
		Redactor:  a.redactor,
	}, nil
}

// buildTools registers the loan tools named in enabled, or all of them.
func buildTools(enabled []string, sink loantools.LeadSink) (*tools.Registry, error) {
	all := loantools.New(loantools.DefaultCatalog(), sink)
	if len(enabled) == 0 {
		return tools.NewRegistry(all...), nil
	}
	byName := make(map[string]tools.Tool, len(all))
	for _, t := range all {
		byName[t.Definition().Name] = t
	}
	reg := tools.NewRegistry()
	for _, name := range enabled {
		t, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *app) leadSink(_ context.Context, lead loantools.Lead, args loantools.LeadArgs) error {
	a.logger.Info("lead_captured",
		"lead_id", lead.LeadID,
		"score", lead.Score,
		"city", args.City,
		"current_lender", args.CurrentLender,
		"language", args.Language,
	)
	return nil
}

func (a *app) run(ctx context.Context) error {
	r := runner.NewLifecycleRunner(a.sessions, runner.Hooks{
		OnStart: a.transport.Start,
		OnStop:  a.shutdown,
	}, a.cfg.Server.DrainTimeout, runner.WithBanner(os.Stdout))
	return r.Run(ctx)
}

// shutdown runs after the session drain: listener first, then the sinks
// that buffer.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.transport.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}
	if a.async != nil {
		a.async.Close()
		if n := a.async.Dropped(); n > 0 {
			a.logger.Warn("metrics_events_dropped", "count", n)
		}
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.release()
	return errors.Join(errs...)
}

func (a *app) release() {
	a.async.Close()
	if a.timeline != nil {
		_ = a.timeline.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}
