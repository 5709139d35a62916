package vad

import (
	"math"

	"github.com/harunnryd/parley/pkg/frames"
)

// Detector classifies audio frames as speech.
type Detector interface {
	Detect(frame frames.AudioFrame, sensitivity float64) bool
	SpeechProbability(frame frames.AudioFrame) float64
}

// EnergyDetector maps frame RMS onto a probability between a noise floor
// and a speech ceiling (both in dBFS).
type EnergyDetector struct {
	FloorDB   float64
	CeilingDB float64
}

func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{FloorDB: -55, CeilingDB: -25}
}

func (d *EnergyDetector) Detect(frame frames.AudioFrame, sensitivity float64) bool {
	return d.SpeechProbability(frame) >= sensitivity
}

func (d *EnergyDetector) SpeechProbability(frame frames.AudioFrame) float64 {
	samples := frame.Samples()
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	p := (db - d.FloorDB) / (d.CeilingDB - d.FloorDB)
	return math.Max(0, math.Min(1, p))
}
