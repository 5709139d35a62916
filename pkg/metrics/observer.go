package metrics

import "time"

// Kind tells sinks how to aggregate an event.
type Kind string

const (
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
	KindTiming  Kind = "timing"
)

type MetricsEvent struct {
	Name   string
	Kind   Kind
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer is a fire-and-forget sink. Implementations must not block the
// caller; wrap slow sinks in an AsyncObserver.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

const (
	EventSessionStarted   = "session_started"
	EventSessionClosed    = "session_closed"
	EventSessionsActive   = "sessions_active"
	EventUtteranceFinal   = "utterance_final"
	EventBargeIn          = "barge_in"
	EventStateTransition  = "state_transition"
	EventStateDiagnostic  = "state_diagnostic"
	EventCheckpointRevert = "checkpoint_rollback"
	EventTurnStarted      = "turn_started"
	EventTurnCompleted    = "turn_completed"
	EventTurnCancelled    = "turn_cancelled"
	EventTurnFailed       = "turn_failed"
	EventTurnTimeout      = "turn_timeout"
	EventRetrieval        = "retrieval"
	EventSpeculativeHit   = "speculative_hit"
	EventSpeculativeMiss  = "speculative_miss"
	EventLLMFirstToken    = "llm_first_token"
	EventSentence         = "sentence_emitted"
	EventSynthesis        = "tts_synthesis"
	EventFirstAudio       = "first_audio"
	EventToolCall         = "tool_call"
	EventQueueDropped     = "queue_dropped"
	EventBreakerOpen      = "breaker_open"
	EventBreakerClose     = "breaker_close"
	EventBreakerDenied    = "breaker_denied"
	EventRateLimit        = "rate_limit"
	EventLLMRetry         = "llm_retry"
	EventTTFA             = "ttfa"
	EventMemory           = "memory"
	EventConnRejected     = "connection_rejected"
)

// Count records a counter increment of one.
func Count(obs Observer, name string, tags map[string]string) {
	record(obs, MetricsEvent{Name: name, Kind: KindCounter, Value: 1, Tags: tags})
}

// Gauge records an absolute value.
func Gauge(obs Observer, name string, value float64, tags map[string]string) {
	record(obs, MetricsEvent{Name: name, Kind: KindGauge, Value: value, Tags: tags})
}

// Timing records a duration in milliseconds.
func Timing(obs Observer, name string, d time.Duration, tags map[string]string) {
	record(obs, MetricsEvent{Name: name, Kind: KindTiming, Value: float64(d) / float64(time.Millisecond), Tags: tags})
}

func record(obs Observer, ev MetricsEvent) {
	if obs == nil {
		return
	}
	ev.Time = time.Now()
	obs.RecordEvent(ev)
}
