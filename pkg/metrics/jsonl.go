package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type jsonlRecord struct {
	Time      time.Time         `json:"time"`
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	Value     float64           `json:"value"`
	SessionID string            `json:"session_id,omitempty"`
	TurnID    string            `json:"turn_id,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// JSONLObserver appends one JSON object per event to w. Session and turn
// ids are lifted out of the tags so the file can be grepped per call.
type JSONLObserver struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{w: w, enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	rec := jsonlRecord{
		Time:   ev.Time,
		Name:   ev.Name,
		Kind:   ev.Kind,
		Value:  ev.Value,
		Fields: ev.Fields,
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	for k, v := range ev.Tags {
		switch k {
		case "session_id":
			rec.SessionID = v
		case "turn_id":
			rec.TurnID = v
		default:
			if rec.Tags == nil {
				rec.Tags = make(map[string]string, len(ev.Tags))
			}
			rec.Tags[k] = v
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	// Fields that fail to encode are dropped; the event is still written.
	if err := o.enc.Encode(rec); err != nil {
		rec.Fields = nil
		_ = o.enc.Encode(rec)
	}
}

// Flush syncs the writer when it is a file.
func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
