package metrics

import (
	"hash/fnv"
	"math"
)

// keptUnsampled names events that reach the inner sink whatever the rate.
var keptUnsampled = map[string]bool{
	EventSessionStarted:   true,
	EventSessionClosed:    true,
	EventTurnFailed:       true,
	EventTurnTimeout:      true,
	EventCheckpointRevert: true,
	EventBreakerOpen:      true,
	EventConnRejected:     true,
}

// SamplingObserver forwards the events of a share of sessions. The choice
// hashes the session_id tag, so a sampled call keeps its whole timeline.
// Events without a session pass through.
type SamplingObserver struct {
	inner Observer
	rate  float64
	cut   uint32
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	return &SamplingObserver{inner: inner, rate: rate, cut: uint32(rate * math.MaxUint32)}
}

// Sampled reports whether events of sessionID are forwarded.
func (s *SamplingObserver) Sampled(sessionID string) bool {
	switch {
	case s.rate >= 1:
		return true
	case s.rate <= 0:
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32() < s.cut
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.inner == nil {
		return
	}
	id := ev.Tags["session_id"]
	if id == "" || keptUnsampled[ev.Name] || s.Sampled(id) {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) Flush() error {
	if f, ok := s.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
