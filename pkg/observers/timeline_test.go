package observers

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir, redact.New(true))

	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventTurnStarted,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": "call/1", "turn_id": "t-1"},
		Fields: map[string]any{"text": "mail me at a.b@example.com"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSessionClosed,
		Time: time.Now(),
		Tags: map[string]string{"session_id": "call/1"},
	})
	if len(obs.files) != 0 {
		t.Fatalf("expected file closed on session_closed")
	}

	b, err := os.ReadFile(filepath.Join(dir, "call_1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	out := string(b)
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, `"turn_id":"t-1"`) {
		t.Fatalf("unexpected timeline %q", out)
	}
	if strings.Contains(out, "example.com") {
		t.Fatalf("expected redacted fields, got %q", out)
	}
}

func TestTimelineObserverIgnoresUntaggedEvents(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir, nil)
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventRetrieval, Time: time.Now()})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestLatencyObserverSummarizesOnClose(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewJSONHandler(&buf, nil)))
	tags := map[string]string{"session_id": "s-1"}
	for _, ms := range []time.Duration{300, 100, 200, 900} {
		metrics.Timing(obs, metrics.EventTTFA, ms*time.Millisecond, tags)
		metrics.Timing(obs, metrics.EventTurnCompleted, time.Second, tags)
	}
	metrics.Count(obs, metrics.EventBargeIn, tags)
	metrics.Count(obs, metrics.EventTurnCancelled, tags)

	sum, ok := obs.Summary("s-1")
	if !ok {
		t.Fatalf("expected open session")
	}
	if sum.Turns != 4 || sum.BargeIns != 1 || sum.Cancelled != 1 {
		t.Fatalf("unexpected counts %+v", sum)
	}
	if sum.TTFAP50MS != 200 || sum.TTFAP95MS != 900 || sum.TTFAMaxMS != 900 {
		t.Fatalf("unexpected percentiles %+v", sum)
	}
	if sum.FirstAudio != -1 {
		t.Fatalf("expected no first audio samples, got %v", sum.FirstAudio)
	}

	metrics.Timing(obs, metrics.EventSessionClosed, time.Minute, tags)
	if _, ok := obs.Summary("s-1"); ok {
		t.Fatalf("expected session forgotten after close")
	}
	if !strings.Contains(buf.String(), `"ttfa_p50_ms":200`) {
		t.Fatalf("expected summary log, got %q", buf.String())
	}
}

type flushRecorder struct {
	events int
	err    error
}

func (f *flushRecorder) RecordEvent(metrics.MetricsEvent) { f.events++ }
func (f *flushRecorder) Flush() error                     { return f.err }

func TestMultiObserverFansOut(t *testing.T) {
	a := &flushRecorder{}
	b := &flushRecorder{err: errors.New("disk full")}
	multi := NewMultiObserver(a, nil, b)
	metrics.Count(multi, metrics.EventSessionStarted, nil)
	if a.events != 1 || b.events != 1 {
		t.Fatalf("expected both sinks to see the event")
	}
	if err := multi.Flush(); err == nil {
		t.Fatalf("expected flush error")
	}
}

func TestPurgeArtifactsRemovesOldTimelines(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	notes := filepath.Join(dir, "notes.txt")
	past := time.Now().Add(-72 * time.Hour)
	for _, p := range []string{old, fresh, notes} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, p := range []string{old, notes} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	n, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected one purge, got %d %v", n, err)
	}
	for _, p := range []string{fresh, notes} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", filepath.Base(p), err)
		}
	}

	if n, err := PurgeArtifacts(filepath.Join(dir, "missing"), time.Hour); n != 0 || err != nil {
		t.Fatalf("expected missing dir to be empty, got %d %v", n, err)
	}
}

func TestLoggerObserverLevelsAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	obs := NewLoggerObserver(logger, redact.New(true))

	metrics.Count(obs, metrics.EventSentence, map[string]string{"session_id": "s1"})
	if buf.Len() != 0 {
		t.Fatalf("expected debug events to be filtered, got %q", buf.String())
	}
	metrics.Count(obs, metrics.EventTurnFailed, map[string]string{"session_id": "s1", "text": "mail me at a@b.com"})
	out := buf.String()
	if !strings.Contains(out, `"event":"turn_failed"`) || !strings.Contains(out, `"session_id":"s1"`) {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "a@b.com") {
		t.Fatalf("expected tag values redacted, got %q", out)
	}
}
