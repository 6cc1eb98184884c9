package sonar

// Event Classification
//
// Every closed candidate is mapped onto a fixed label set. Classification never
// fails: an event that matches nothing is Unknown with zero confidence.
//
// RuleClassifier evaluates the rules below in order, first match wins:
//
//   decibels < -45 dB                       -> Ambient              0.50
//   spectral flatness < 0.1                 -> Tonal                0.80
//   centroid < 1000 Hz and rolloff < 2000   -> Low Frequency/Bass   0.80
//   centroid < 3000 Hz and ZCR < 0.1        -> Voice/Speech         0.90
//   centroid > 4000 Hz and rolloff > 8000   -> High Frequency/Noise 0.70
//   ZCR > 0.15                              -> Percussive/Transient 0.85
//   otherwise                               -> Unknown              0.00
//
// Model-backed classifiers (prototype matching, remote model service) live behind
// the same Classifier interface and fall back to the rules when they cannot decide.

import (
	"context"
	"strings"
)

// Label is one of the fixed event categories.
type Label string

const (
	LabelVoice      Label = "Voice/Speech"
	LabelPercussive Label = "Percussive/Transient"
	LabelTonal      Label = "Tonal"
	LabelLow        Label = "Low Frequency/Bass"
	LabelHigh       Label = "High Frequency/Noise"
	LabelAmbient    Label = "Ambient"
	LabelUnknown    Label = "Unknown"
)

var labels = []Label{
	LabelVoice,
	LabelPercussive,
	LabelTonal,
	LabelLow,
	LabelHigh,
	LabelAmbient,
	LabelUnknown,
}

// Labels returns the full label set in a stable order.
func Labels() []Label {
	return append([]Label(nil), labels...)
}

// ParseLabel matches a label name case-insensitively. Anything unrecognised is Unknown.
func ParseLabel(name string) Label {
	name = strings.TrimSpace(name)
	for _, l := range labels {
		if strings.EqualFold(string(l), name) {
			return l
		}
	}
	return LabelUnknown
}

// Valid reports whether l is part of the label set.
func (l Label) Valid() bool {
	for _, known := range labels {
		if l == known {
			return true
		}
	}
	return false
}

// Classification sources.
const (
	SourceRules      = "rules"
	SourcePrototypes = "prototypes"
	SourceModel      = "model"
)

// Classification is the outcome for one event.
type Classification struct {
	Label         Label   `json:"type"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"classificationSource"`
	ModelCategory string  `json:"modelCategory,omitempty"`
}

// EventFeatures is what a classifier sees of one event. All spectral values come
// from the loudest frame of the event.
type EventFeatures struct {
	Time             float64
	Duration         float64
	SampleRate       int
	Frequency        float64
	Amplitude        float64
	Decibels         float64
	DecibelFloor     float64
	Centroid         float64
	Rolloff          float64
	Bandwidth        float64
	Flatness         float64
	Crest            float64
	ZeroCrossingRate float64
	Segment          []float64 // event samples for model-backed classifiers
}

// VectorSize is the dimension of EventFeatures.Vector.
const VectorSize = 10

// Vector is the fixed-order descriptor used for prototype matching. Frequencies are
// scaled by the Nyquist rate and levels by the decibel floor so every dimension is
// roughly in [0, 1].
func (e EventFeatures) Vector() []float64 {
	nyquist := float64(e.SampleRate) / 2
	if nyquist <= 0 {
		nyquist = 1
	}
	floor := e.DecibelFloor
	if floor >= 0 {
		floor = -60
	}
	level := (e.Decibels - floor) / -floor
	if level < 0 {
		level = 0
	}

	// one second or longer saturates
	durationNorm := e.Duration
	if durationNorm > 1 {
		durationNorm = 1
	}

	return []float64{
		e.Centroid / nyquist,
		e.Rolloff / nyquist,
		e.Bandwidth / nyquist,
		e.Frequency / nyquist,
		e.Flatness,
		e.Crest / 100,
		e.ZeroCrossingRate,
		e.Amplitude,
		level,
		durationNorm,
	}
}

// Classifier assigns a label to an event. Implementations must be safe for
// concurrent use and must always return a label from the fixed set.
type Classifier interface {
	Classify(ctx context.Context, features EventFeatures) Classification
}

// RuleClassifier is the threshold rule table documented at the top of this file.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (RuleClassifier) Classify(_ context.Context, f EventFeatures) Classification {
	label, confidence := classifyByRules(f)
	return Classification{Label: label, Confidence: confidence, Source: SourceRules}
}

func classifyByRules(f EventFeatures) (Label, float64) {
	switch {
	case f.Decibels < -45:
		return LabelAmbient, 0.5
	case f.Flatness < 0.1:
		return LabelTonal, 0.8
	case f.Centroid < 1000 && f.Rolloff < 2000:
		return LabelLow, 0.8
	case f.Centroid < 3000 && f.ZeroCrossingRate < 0.1:
		return LabelVoice, 0.9
	case f.Centroid > 4000 && f.Rolloff > 8000:
		return LabelHigh, 0.7
	case f.ZeroCrossingRate > 0.15:
		return LabelPercussive, 0.85
	default:
		return LabelUnknown, 0
	}
}

// eventFeatures builds the classifier input for a closed candidate.
func eventFeatures(c Candidate, w Waveform, decibelFloor float64) EventFeatures {
	peak := c.Peak
	return EventFeatures{
		Time:             c.Onset,
		Duration:         c.Duration(),
		SampleRate:       w.SampleRate(),
		Frequency:        peak.DominantFrequency,
		Amplitude:        peak.Peak,
		Decibels:         peak.Decibels,
		DecibelFloor:     decibelFloor,
		Centroid:         peak.Centroid,
		Rolloff:          peak.Rolloff,
		Bandwidth:        peak.Bandwidth,
		Flatness:         peak.Flatness,
		Crest:            peak.Crest,
		ZeroCrossingRate: peak.ZeroCrossingRate,
		Segment:          w.Slice(w.timeToSample(c.Onset), w.timeToSample(c.End)),
	}
}

// sanitize forces a classifier result into the fixed label set and [0, 1] range.
func sanitize(c Classification) Classification {
	if !c.Label.Valid() {
		c.Label = LabelUnknown
	}
	c.Confidence = clamp01(c.Confidence)
	if c.Source == "" {
		c.Source = SourceRules
	}
	return c
}
