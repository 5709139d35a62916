package frames

import (
	"strings"
	"time"
)

type VadKind string

const (
	VadSpeechStart    VadKind = "speech_start"
	VadSpeechContinue VadKind = "speech_continue"
	VadSpeechEnd      VadKind = "speech_end"
	VadNoise          VadKind = "noise"
)

type VadEvent struct {
	Kind        VadKind
	Probability float64
	At          time.Time
}

type WordTiming struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranscriptEvent is one STT result. Partial events for an utterance are
// superseded by later ones; a final event closes its segment.
type TranscriptEvent struct {
	UtteranceID string
	Text        string
	Language    string
	IsFinal     bool
	// EndOfUtterance marks the recognizer's own end-of-speech decision.
	EndOfUtterance bool
	Confidence     float64
	Words          []WordTiming
	At             time.Time
}

// NormalizeLanguage lower-cases a BCP 47 style tag such as "hi-IN". Tags
// that are empty, longer than 16 bytes or contain anything but ASCII
// letters, digits, '-' and '_' yield "".
func NormalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || len(tag) > 16 {
		return ""
	}
	for i := 0; i < len(tag); i++ {
		ch := tag[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		case ch >= 'A' && ch <= 'Z':
		default:
			return ""
		}
	}
	return strings.ToLower(strings.ReplaceAll(tag, "_", "-"))
}

// Utterance is the finalized caller text for one turn.
type Utterance struct {
	ID         string
	Text       string
	Language   string
	Confidence float64
	Start      time.Time
	End        time.Time
	Words      []WordTiming
}

func (u Utterance) Duration() time.Duration {
	if u.End.Before(u.Start) {
		return 0
	}
	return u.End.Sub(u.Start)
}
