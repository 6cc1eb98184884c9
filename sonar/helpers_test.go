package sonar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sineSamples(freq, seconds float64, sampleRate int, amplitude float64) []float64 {
	n := int(seconds * float64(sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return samples
}

// noiseSamples is a deterministic pseudo-random signal (LCG) in [-amplitude, amplitude].
func noiseSamples(seconds float64, sampleRate int, amplitude float64, seed uint32) []float64 {
	n := int(seconds * float64(sampleRate))
	samples := make([]float64, n)
	state := seed
	for i := range samples {
		state = state*1664525 + 1013904223
		samples[i] = amplitude * (float64(state)/float64(math.MaxUint32)*2 - 1)
	}
	return samples
}

func mustWaveform(t *testing.T, samples []float64, sampleRate int) Waveform {
	t.Helper()
	w, err := NewWaveform(samples, sampleRate)
	require.NoError(t, err)
	return w
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
