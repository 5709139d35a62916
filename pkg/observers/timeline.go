package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
)

const timelineExt = ".jsonl"

// TimelineObserver writes one JSONL file per session into dir. The file
// is closed when the session_closed event arrives.
type TimelineObserver struct {
	dir      string
	redactor *redact.Redactor
	mu       sync.Mutex
	files    map[string]*os.File
}

func NewTimelineObserver(dir string, redactor *redact.Redactor) *TimelineObserver {
	return &TimelineObserver{dir: dir, redactor: redactor, files: make(map[string]*os.File)}
}

type timelineEvent struct {
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	Kind   metrics.Kind      `json:"kind,omitempty"`
	Value  float64           `json:"value,omitempty"`
	TurnID string            `json:"turn_id,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sanitizeID(ev.Tags["session_id"])
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	tags := make(map[string]string, len(ev.Tags))
	for k, v := range ev.Tags {
		if k != "session_id" && k != "turn_id" {
			tags[k] = v
		}
	}
	line, err := json.Marshal(timelineEvent{
		Time:   ev.Time.UTC(),
		Event:  ev.Name,
		Kind:   ev.Kind,
		Value:  ev.Value,
		TurnID: ev.Tags["turn_id"],
		Tags:   tags,
		Fields: o.sanitizeFields(ev.Fields),
	})
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileForLocked(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	if ev.Name == metrics.EventSessionClosed {
		_ = f.Close()
		delete(o.files, id)
	}
}

// Close closes files of sessions that never reported closing.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

func (o *TimelineObserver) fileForLocked(id string) *os.File {
	if f := o.files[id]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+timelineExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[id] = f
	return f
}

func (o *TimelineObserver) sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok && o.redactor != nil {
			out[k] = o.redactor.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

var _ metrics.Observer = (*TimelineObserver)(nil)
