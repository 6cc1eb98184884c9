package sonar

// Waveform is a read-only mono signal with normalized samples in [-1, 1].
type Waveform struct {
	samples    []float64
	sampleRate int
}

// NewWaveform copies samples so later mutation by the caller cannot leak into an analysis.
func NewWaveform(samples []float64, sampleRate int) (Waveform, error) {
	if sampleRate <= 0 {
		return Waveform{}, invalidField("sampleRate", "must be positive")
	}
	owned := make([]float64, len(samples))
	copy(owned, samples)
	return Waveform{samples: owned, sampleRate: sampleRate}, nil
}

func (w Waveform) SampleRate() int {
	return w.sampleRate
}

// Len is the sample count.
func (w Waveform) Len() int {
	return len(w.samples)
}

// Duration in seconds.
func (w Waveform) Duration() float64 {
	if w.sampleRate <= 0 {
		return 0
	}
	return float64(len(w.samples)) / float64(w.sampleRate)
}

// Slice copies samples in [start, end), clamped to the waveform bounds.
func (w Waveform) Slice(start, end int) []float64 {
	if start < 0 {
		start = 0
	}
	if end > len(w.samples) {
		end = len(w.samples)
	}
	if start >= end {
		return nil
	}
	out := make([]float64, end-start)
	copy(out, w.samples[start:end])
	return out
}

// timeToSample converts seconds into a sample offset, rounding down.
func (w Waveform) timeToSample(seconds float64) int {
	return int(seconds * float64(w.sampleRate))
}
