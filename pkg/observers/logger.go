package observers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
)

// warnEvents are logged at warn level; everything else at debug.
var warnEvents = map[string]bool{
	metrics.EventTurnFailed:       true,
	metrics.EventTurnTimeout:      true,
	metrics.EventCheckpointRevert: true,
	metrics.EventBreakerOpen:      true,
	metrics.EventQueueDropped:     true,
	metrics.EventConnRejected:     true,
}

// LoggerObserver mirrors metrics events into the log. Tag values pass
// through the redactor since state tags can carry caller text.
type LoggerObserver struct {
	log      *slog.Logger
	redactor *redact.Redactor
}

func NewLoggerObserver(log *slog.Logger, redactor *redact.Redactor) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log, redactor: redactor}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := slog.LevelDebug
	if warnEvents[ev.Name] {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 4+len(ev.Fields))
	attrs = append(attrs, slog.String("event", ev.Name), slog.String("kind", string(ev.Kind)), slog.Float64("value", ev.Value))
	tags := make([]any, 0, len(ev.Tags))
	for k, v := range ev.Tags {
		if k == "session_id" {
			attrs = append(attrs, slog.String(k, v))
			continue
		}
		tags = append(tags, slog.String(k, o.redactor.Text(v)))
	}
	if len(tags) > 0 {
		attrs = append(attrs, slog.Group("tags", tags...))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, level, "metrics_event", attrs...)
}

// MultiObserver fans one event out to every sink in order.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// Flush flushes every sink that buffers and joins their errors.
func (m *MultiObserver) Flush() error {
	var errs []error
	for _, obs := range m.list {
		if f, ok := obs.(metrics.Flusher); ok {
			errs = append(errs, f.Flush())
		}
	}
	return errors.Join(errs...)
}
