package metrics

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type blockingObserver struct {
	release chan struct{}
	mu      sync.Mutex
	seen    int
}

func (b *blockingObserver) RecordEvent(MetricsEvent) {
	<-b.release
	b.mu.Lock()
	b.seen++
	b.mu.Unlock()
}

func TestAsyncObserverNeverBlocks(t *testing.T) {
	inner := &blockingObserver{release: make(chan struct{})}
	obs := NewAsyncObserver(inner, 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			Count(obs, EventSentence, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RecordEvent blocked on a stalled sink")
	}
	if obs.Dropped() == 0 {
		t.Fatalf("expected drops while sink is stalled")
	}
	close(inner.release)
	obs.Close()
	Count(obs, EventSentence, nil)
}

func TestMemoryObserverNamed(t *testing.T) {
	obs := NewMemoryObserver()
	Timing(obs, EventFirstAudio, 120*time.Millisecond, map[string]string{"session_id": "s1"})
	Count(obs, EventBargeIn, nil)
	got := obs.Named(EventFirstAudio)
	if len(got) != 1 {
		t.Fatalf("expected 1 timing event, got %d", len(got))
	}
	if got[0].Kind != KindTiming || got[0].Value != 120 {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestPrometheusObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver("test", reg)
	Count(obs, EventToolCall, map[string]string{"status": "ok"})
	Count(obs, EventToolCall, map[string]string{"status": "ok"})
	Gauge(obs, EventSessionsActive, 3, nil)

	if got := testutil.ToFloat64(obs.counters.WithLabelValues(EventToolCall, "ok")); got != 2 {
		t.Fatalf("expected counter 2, got %v", got)
	}
	if got := testutil.ToFloat64(obs.gauges.WithLabelValues(EventSessionsActive, "")); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}

func TestJSONLObserverWritesLine(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	Count(obs, EventBargeIn, map[string]string{"session_id": "s1", "stage": "discovery"})
	out := buf.String()
	for _, want := range []string{`"name":"barge_in"`, `"session_id":"s1"`, `"tags":{"stage":"discovery"}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got %q", out)
	}
}

func TestSamplingObserverKeepsWholeSessions(t *testing.T) {
	mem := NewMemoryObserver()
	obs := NewSamplingObserver(mem, 0.5)
	kept := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("call-%d", i)
		before := len(mem.Snapshot())
		for j := 0; j < 3; j++ {
			Count(obs, EventSentence, map[string]string{"session_id": id})
		}
		got := len(mem.Snapshot()) - before
		if got != 0 && got != 3 {
			t.Fatalf("session %s split by sampling: %d of 3", id, got)
		}
		if got == 3 {
			kept++
		}
	}
	if kept < 40 || kept > 160 {
		t.Fatalf("expected roughly half the sessions, got %d", kept)
	}
}

func TestSamplingObserverPassesLifecycle(t *testing.T) {
	mem := NewMemoryObserver()
	obs := NewSamplingObserver(mem, 0)
	tags := map[string]string{"session_id": "call-1"}
	Count(obs, EventSentence, tags)
	Count(obs, EventSessionClosed, tags)
	Count(obs, EventConnRejected, nil)
	Gauge(obs, EventSessionsActive, 2, nil)
	if got := len(mem.Snapshot()); got != 3 {
		t.Fatalf("expected lifecycle and session-less events only, got %d", got)
	}
}
