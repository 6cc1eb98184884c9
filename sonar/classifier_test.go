package sonar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleClassifierTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		features   EventFeatures
		label      Label
		confidence float64
	}{
		{"quiet", EventFeatures{Decibels: -50, Flatness: 0.05}, LabelAmbient, 0.5},
		{"pure tone", EventFeatures{Decibels: -6, Flatness: 0.01, Centroid: 440}, LabelTonal, 0.8},
		{"rumble", EventFeatures{Decibels: -10, Flatness: 0.3, Centroid: 300, Rolloff: 900}, LabelLow, 0.8},
		{"speech", EventFeatures{Decibels: -12, Flatness: 0.3, Centroid: 1800, Rolloff: 3500, ZeroCrossingRate: 0.05}, LabelVoice, 0.9},
		{"hiss", EventFeatures{Decibels: -12, Flatness: 0.6, Centroid: 6000, Rolloff: 12000, ZeroCrossingRate: 0.4}, LabelHigh, 0.7},
		{"click", EventFeatures{Decibels: -12, Flatness: 0.5, Centroid: 3500, Rolloff: 7000, ZeroCrossingRate: 0.2}, LabelPercussive, 0.85},
		{"nothing matches", EventFeatures{Decibels: -12, Flatness: 0.5, Centroid: 3500, Rolloff: 7000, ZeroCrossingRate: 0.12}, LabelUnknown, 0},
	}

	classifier := NewRuleClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifier.Classify(context.Background(), tc.features)
			assert.Equal(t, tc.label, got.Label)
			assert.Equal(t, tc.confidence, got.Confidence)
			assert.Equal(t, SourceRules, got.Source)
		})
	}
}

func TestParseLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LabelVoice, ParseLabel("voice/speech"))
	assert.Equal(t, LabelTonal, ParseLabel(" Tonal "))
	assert.Equal(t, LabelUnknown, ParseLabel("Mixed/Complex"))
	assert.Equal(t, LabelUnknown, ParseLabel(""))

	for _, l := range Labels() {
		assert.True(t, l.Valid())
		assert.Equal(t, l, ParseLabel(string(l)))
	}
	assert.False(t, Label("Drone").Valid())
}

func TestSanitizeClassification(t *testing.T) {
	t.Parallel()

	got := sanitize(Classification{Label: "Siren", Confidence: 1.7})
	assert.Equal(t, LabelUnknown, got.Label)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, SourceRules, got.Source)
}

func TestEventFeaturesVector(t *testing.T) {
	t.Parallel()

	f := EventFeatures{
		SampleRate:       44100,
		Centroid:         2205,
		Rolloff:          4410,
		Frequency:        22050,
		Flatness:         0.2,
		Crest:            50,
		ZeroCrossingRate: 0.1,
		Amplitude:        0.8,
		Decibels:         -30,
		DecibelFloor:     -60,
		Duration:         2.5,
	}
	v := f.Vector()
	require.Len(t, v, VectorSize)
	assert.InDelta(t, 0.1, v[0], 1e-9)
	assert.InDelta(t, 0.2, v[1], 1e-9)
	assert.InDelta(t, 1.0, v[3], 1e-9)
	assert.InDelta(t, 0.5, v[5], 1e-9)
	assert.InDelta(t, 0.5, v[8], 1e-9)
	assert.Equal(t, 1.0, v[9])
}
