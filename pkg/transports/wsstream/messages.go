package wsstream

import (
	"time"

	"github.com/harunnryd/parley/pkg/session"
)

// inbound is a client text message. Audio may also arrive as binary
// messages of 16-bit little-endian mono PCM.
type inbound struct {
	Event      string `json:"event"`
	SessionID  string `json:"session_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// Payload is base64 PCM for "media".
	Payload string `json:"payload,omitempty"`

	UtteranceID string  `json:"utterance_id,omitempty"`
	Text        string  `json:"text,omitempty"`
	Final       bool    `json:"final,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Language    string  `json:"language,omitempty"`
	// EndOfUtterance says the client's recognizer saw the caller stop.
	EndOfUtterance bool `json:"end_of_utterance,omitempty"`
}

// outbound is every text message the server sends. Agent audio goes out
// as binary messages.
type outbound struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`

	Kind      string `json:"kind,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	At        string `json:"at,omitempty"`
	Action    string `json:"action,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text,omitempty"`
	Index     int    `json:"index,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Outcome   string `json:"outcome,omitempty"`

	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func eventMessage(ev session.Event) outbound {
	out := outbound{
		Event:     "session_event",
		SessionID: ev.SessionID,
		Kind:      string(ev.Kind),
		TurnID:    ev.TurnID,
		At:        ev.At.UTC().Format(time.RFC3339Nano),
		From:      ev.From,
		To:        ev.To,
		Text:      ev.Text,
		Cancelled: ev.Cancelled,
		Outcome:   string(ev.Outcome),
	}
	switch ev.Kind {
	case session.EventAction:
		out.Action = ev.Action.Kind.String()
		if out.Text == "" {
			out.Text = ev.Action.Text
		}
	case session.EventSentence:
		out.Text = ev.Sentence.Text
		out.Index = ev.Sentence.Index
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
