package turn

import (
	"time"

	"github.com/harunnryd/parley/pkg/frames"
)

type SignalKind int

const (
	SignalVad SignalKind = iota
	SignalBargeIn
	SignalPartial
	SignalUtterance
)

func (k SignalKind) String() string {
	switch k {
	case SignalVad:
		return "vad"
	case SignalBargeIn:
		return "barge_in"
	case SignalPartial:
		return "partial"
	case SignalUtterance:
		return "utterance"
	default:
		return "unknown"
	}
}

// Signal is the only output of the controller.
type Signal struct {
	Kind      SignalKind
	At        time.Time
	Vad       frames.VadEvent
	Partial   string
	Utterance frames.Utterance
}
