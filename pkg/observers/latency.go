package observers

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/harunnryd/parley/pkg/metrics"
)

// LatencyObserver collects per-session response latency and logs one
// summary line when the session closes.
type LatencyObserver struct {
	mu       sync.Mutex
	sessions map[string]*callStats
	log      *slog.Logger
}

type callStats struct {
	ttfa       []float64
	firstAudio []float64
	completed  int
	cancelled  int
	failed     int
	bargeIns   int
}

// LatencySummary is what one session looked like from the caller's side.
// Millisecond fields are -1 when no turn produced audio.
type LatencySummary struct {
	SessionID  string
	Turns      int
	Cancelled  int
	Failed     int
	BargeIns   int
	TTFAP50MS  float64
	TTFAP95MS  float64
	TTFAMaxMS  float64
	FirstAudio float64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		sessions: make(map[string]*callStats),
		log:      log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tags["session_id"]
	if id == "" {
		return
	}
	o.mu.Lock()
	st := o.sessions[id]
	if st == nil {
		st = &callStats{}
		o.sessions[id] = st
	}
	switch ev.Name {
	case metrics.EventTTFA:
		st.ttfa = append(st.ttfa, ev.Value)
	case metrics.EventFirstAudio:
		st.firstAudio = append(st.firstAudio, ev.Value)
	case metrics.EventTurnCompleted:
		st.completed++
	case metrics.EventTurnCancelled:
		st.cancelled++
	case metrics.EventTurnFailed, metrics.EventTurnTimeout:
		st.failed++
	case metrics.EventBargeIn:
		st.bargeIns++
	case metrics.EventSessionClosed:
		delete(o.sessions, id)
		o.mu.Unlock()
		s := summarize(id, st)
		o.log.Info("session_latency",
			"session_id", id,
			"turns", s.Turns,
			"cancelled", s.Cancelled,
			"failed", s.Failed,
			"barge_ins", s.BargeIns,
			"ttfa_p50_ms", s.TTFAP50MS,
			"ttfa_p95_ms", s.TTFAP95MS,
			"ttfa_max_ms", s.TTFAMaxMS,
			"first_audio_p50_ms", s.FirstAudio,
		)
		return
	}
	o.mu.Unlock()
}

// Summary reports a session that is still open.
func (o *LatencyObserver) Summary(sessionID string) (LatencySummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		return LatencySummary{}, false
	}
	return summarize(sessionID, st), true
}

func summarize(id string, st *callStats) LatencySummary {
	return LatencySummary{
		SessionID:  id,
		Turns:      st.completed,
		Cancelled:  st.cancelled,
		Failed:     st.failed,
		BargeIns:   st.bargeIns,
		TTFAP50MS:  percentile(st.ttfa, 0.50),
		TTFAP95MS:  percentile(st.ttfa, 0.95),
		TTFAMaxMS:  percentile(st.ttfa, 1),
		FirstAudio: percentile(st.firstAudio, 0.50),
	}
}

// percentile uses nearest rank.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return -1
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

var _ metrics.Observer = (*LatencyObserver)(nil)
