package sonar

// Aggregation
//
// The summary is a single reduction over per-frame features, classified events and
// the peak-hold spectrum:
//
//   averageRMS        mean of the per-frame RMS values
//   detectedSounds    len(soundEvents)
//   dominantFrequency frequency of the highest-magnitude spectrum point (lowest on ties)
//   maxDecibels       max event decibels, or the decibel floor when there are no events
//
// The spectrum list holds, for every bin, the highest magnitude any frame reached and
// the start time of the earliest frame that reached it.

import (
	"math"
)

// SpectrumPoint is one bin of the peak-hold spectrum.
type SpectrumPoint struct {
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
	Time      float64 `json:"time"`
}

// SoundEvent is a classified event. Amplitude and decibels come from the same frame.
type SoundEvent struct {
	Time                 float64 `json:"time"`
	Type                 Label   `json:"type"`
	Frequency            float64 `json:"frequency"`
	Amplitude            float64 `json:"amplitude"`
	Decibels             float64 `json:"decibels"`
	Confidence           float64 `json:"confidence"`
	Duration             float64 `json:"duration"`
	SpectralCentroid     float64 `json:"spectralCentroid"`
	SpectralRolloff      float64 `json:"spectralRolloff"`
	ZeroCrossingRate     float64 `json:"zeroCrossingRate"`
	ClassificationSource string  `json:"classificationSource"`
	ModelCategory        string  `json:"modelCategory,omitempty"`
}

// SpectralSummary holds whole-file means of the frame features.
type SpectralSummary struct {
	MeanSpectralCentroid float64   `json:"meanSpectralCentroid"`
	MeanSpectralRolloff  float64   `json:"meanSpectralRolloff"`
	MeanZeroCrossingRate float64   `json:"meanZeroCrossingRate"`
	MFCCMean             []float64 `json:"mfccMean"` // per-coefficient mean over frames
}

// AnalysisResult is the terminal summary of one analysis run.
type AnalysisResult struct {
	Duration          float64         `json:"duration"`
	SampleRate        int             `json:"sampleRate"`
	AverageRMS        float64         `json:"averageRMS"`
	DetectedSounds    int             `json:"detectedSounds"`
	DominantFrequency float64         `json:"dominantFrequency"`
	MaxDecibels       float64         `json:"maxDecibels"`
	SoundEvents       []SoundEvent    `json:"soundEvents"`
	FrequencySpectrum []SpectrumPoint `json:"frequencySpectrum"`
	SpectralFeatures  SpectralSummary `json:"spectralFeatures"`
	FrameCount        int             `json:"frameCount"`
}

// newSoundEvent combines a candidate with its classification.
func newSoundEvent(c Candidate, cls Classification) SoundEvent {
	peak := c.Peak
	return SoundEvent{
		Time:                 c.Onset,
		Type:                 cls.Label,
		Frequency:            peak.DominantFrequency,
		Amplitude:            peak.Peak,
		Decibels:             peak.Decibels,
		Confidence:           cls.Confidence,
		Duration:             c.Duration(),
		SpectralCentroid:     peak.Centroid,
		SpectralRolloff:      peak.Rolloff,
		ZeroCrossingRate:     peak.ZeroCrossingRate,
		ClassificationSource: cls.Source,
		ModelCategory:        cls.ModelCategory,
	}
}

// spectrumAccumulator keeps the per-bin peak over the frames it has seen.
type spectrumAccumulator struct {
	binWidth   float64
	magnitudes []float64
	times      []float64
	seen       bool
}

func newSpectrumAccumulator(bins int, binWidth float64) *spectrumAccumulator {
	return &spectrumAccumulator{
		binWidth:   binWidth,
		magnitudes: make([]float64, bins),
		times:      make([]float64, bins),
	}
}

// Observe must be called in frame order; strict comparison keeps the earliest frame.
func (a *spectrumAccumulator) Observe(s Spectrum) {
	if !a.seen {
		copy(a.magnitudes, s.Magnitudes)
		for i := range a.times {
			a.times[i] = s.Start
		}
		a.seen = true
		return
	}
	for i, mag := range s.Magnitudes {
		if i >= len(a.magnitudes) {
			break
		}
		if mag > a.magnitudes[i] {
			a.magnitudes[i] = mag
			a.times[i] = s.Start
		}
	}
}

// Merge folds other in. The result does not depend on merge order: the larger
// magnitude wins and equal magnitudes keep the earlier time.
func (a *spectrumAccumulator) Merge(other *spectrumAccumulator) {
	if other == nil || !other.seen {
		return
	}
	if !a.seen {
		copy(a.magnitudes, other.magnitudes)
		copy(a.times, other.times)
		a.seen = true
		return
	}
	for i := range a.magnitudes {
		if i >= len(other.magnitudes) {
			break
		}
		mag, at := other.magnitudes[i], other.times[i]
		if mag > a.magnitudes[i] || (mag == a.magnitudes[i] && at < a.times[i]) {
			a.magnitudes[i] = mag
			a.times[i] = at
		}
	}
}

// Points returns the frequency-ascending spectrum list.
func (a *spectrumAccumulator) Points() []SpectrumPoint {
	if !a.seen {
		return []SpectrumPoint{}
	}
	points := make([]SpectrumPoint, len(a.magnitudes))
	for i := range a.magnitudes {
		points[i] = SpectrumPoint{
			Frequency: float64(i) * a.binWidth,
			Magnitude: a.magnitudes[i],
			Time:      a.times[i],
		}
	}
	return points
}

// DecimateSpectrum reduces points to at most maxPoints by splitting them into
// contiguous groups and keeping each group's strongest point. maxPoints <= 0
// returns the input unchanged.
func DecimateSpectrum(points []SpectrumPoint, maxPoints int) []SpectrumPoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}
	groupSize := (len(points) + maxPoints - 1) / maxPoints
	out := make([]SpectrumPoint, 0, maxPoints)
	for start := 0; start < len(points); start += groupSize {
		end := min(start+groupSize, len(points))
		best := points[start]
		for _, p := range points[start+1 : end] {
			if p.Magnitude > best.Magnitude {
				best = p
			}
		}
		out = append(out, best)
	}
	return out
}

// dominantFrequency picks the strongest point, lowest frequency on ties.
func dominantFrequency(points []SpectrumPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.Magnitude > best.Magnitude {
			best = p
		}
	}
	return best.Frequency
}

// Aggregate reduces one run into an AnalysisResult. It fails only for an empty waveform.
func Aggregate(w Waveform, frames []FrameFeatures, events []SoundEvent, spectrum []SpectrumPoint, decibelFloor float64) (*AnalysisResult, error) {
	if w.Len() == 0 || w.SampleRate() <= 0 {
		return nil, ErrEmptyInput
	}

	result := &AnalysisResult{
		Duration:          w.Duration(),
		SampleRate:        w.SampleRate(),
		DetectedSounds:    len(events),
		DominantFrequency: dominantFrequency(spectrum),
		MaxDecibels:       decibelFloor,
		SoundEvents:       events,
		FrequencySpectrum: spectrum,
		FrameCount:        len(frames),
	}
	if result.SoundEvents == nil {
		result.SoundEvents = []SoundEvent{}
	}
	if result.FrequencySpectrum == nil {
		result.FrequencySpectrum = []SpectrumPoint{}
	}

	if len(frames) > 0 {
		var rms, centroid, rolloff, zcr float64
		for _, f := range frames {
			rms += f.RMS
			centroid += f.Centroid
			rolloff += f.Rolloff
			zcr += f.ZeroCrossingRate
		}
		n := float64(len(frames))
		result.AverageRMS = rms / n
		result.SpectralFeatures = SpectralSummary{
			MeanSpectralCentroid: centroid / n,
			MeanSpectralRolloff:  rolloff / n,
			MeanZeroCrossingRate: zcr / n,
			MFCCMean:             meanMFCC(frames),
		}
	}
	if result.SpectralFeatures.MFCCMean == nil {
		result.SpectralFeatures.MFCCMean = []float64{}
	}

	if len(events) > 0 {
		maxDb := math.Inf(-1)
		for _, e := range events {
			maxDb = math.Max(maxDb, e.Decibels)
		}
		result.MaxDecibels = maxDb
	}

	return result, nil
}

// meanMFCC averages coefficients in frame order over frames that carry the full set.
func meanMFCC(frames []FrameFeatures) []float64 {
	size := 0
	for _, f := range frames {
		size = max(size, len(f.MFCC))
	}
	if size == 0 {
		return nil
	}

	sums := make([]float64, size)
	count := 0
	for _, f := range frames {
		if len(f.MFCC) != size {
			continue
		}
		for i, c := range f.MFCC {
			sums[i] += c
		}
		count++
	}
	for i := range sums {
		sums[i] /= float64(count)
	}
	return sums
}
