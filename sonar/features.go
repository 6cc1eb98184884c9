package sonar

// Feature Extraction
//
// Per-frame scalar features, computed from the real (non-padded) samples and the
// frame's magnitude spectrum:
//
//   - RMS and peak amplitude: loudness of the frame
//   - Decibels: 20*log10(rms / reference), floored so silence never yields -Inf
//   - Zero Crossing Rate: sign changes per sample, high for noise and transients
//   - Dominant Frequency: centre of the strongest bin
//   - Spectral Centroid: magnitude-weighted mean frequency ("brightness")
//   - Spectral Bandwidth: spread around the centroid
//   - Spectral Rolloff: frequency below which RolloffThreshold of the energy sits
//   - Spectral Flatness: geometric / arithmetic mean, near 0 for tones, near 1 for noise
//   - Spectral Crest: peak / mean magnitude
//
// Silent or empty frames are valid input and produce zero features with the
// floor decibel value.

import (
	"math"
)

// FrameFeatures holds everything later stages need from one frame.
type FrameFeatures struct {
	Index             int       `json:"index"`
	Start             float64   `json:"start"`
	RMS               float64   `json:"rms"`
	Peak              float64   `json:"peak"`
	Decibels          float64   `json:"decibels"`
	DominantFrequency float64   `json:"dominantFrequency"`
	DominantMagnitude float64   `json:"dominantMagnitude"`
	Centroid          float64   `json:"spectralCentroid"`
	Bandwidth         float64   `json:"spectralBandwidth"`
	Rolloff           float64   `json:"spectralRolloff"`
	Flatness          float64   `json:"spectralFlatness"`
	Crest             float64   `json:"spectralCrest"`
	ZeroCrossingRate  float64   `json:"zeroCrossingRate"`
	MFCC              []float64 `json:"mfcc,omitempty"`
}

// FeatureExtractor derives FrameFeatures using a fixed dB reference and floor.
type FeatureExtractor struct {
	referenceRMS     float64
	decibelFloor     float64
	rolloffThreshold float64
}

func NewFeatureExtractor(cfg Config) *FeatureExtractor {
	return &FeatureExtractor{
		referenceRMS:     cfg.referenceRMS(),
		decibelFloor:     cfg.DecibelFloor,
		rolloffThreshold: cfg.RolloffThreshold,
	}
}

// Extract never fails; degenerate frames yield zeroed features.
func (fe *FeatureExtractor) Extract(frame Frame, spectrum Spectrum) FrameFeatures {
	valid := frame.Samples
	if frame.Valid < len(valid) {
		valid = valid[:frame.Valid]
	}

	features := FrameFeatures{
		Index:    frame.Index,
		Start:    frame.Start,
		Decibels: fe.decibelFloor,
	}

	rms := rootMeanSquare(valid)
	if rms == 0 {
		return features
	}

	features.RMS = rms
	features.Peak = peakAmplitude(valid)
	features.Decibels = decibels(rms, fe.referenceRMS, fe.decibelFloor)
	features.ZeroCrossingRate = zeroCrossingRate(valid)

	mags := spectrum.Magnitudes
	features.DominantFrequency, features.DominantMagnitude = dominantBin(spectrum)
	features.Centroid = spectralCentroid(spectrum)
	features.Bandwidth = spectralBandwidth(spectrum, features.Centroid)
	features.Rolloff = spectralRolloff(spectrum, fe.rolloffThreshold)
	features.Flatness = spectralFlatness(mags)
	features.Crest = spectralCrestFactor(mags)

	return features
}

func rootMeanSquare(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func peakAmplitude(samples []float64) float64 {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return clamp01(peak)
}

// decibels converts an RMS level to dB relative to reference, never below floor.
func decibels(rms, reference, floor float64) float64 {
	if rms <= 0 || reference <= 0 {
		return floor
	}
	db := 20 * math.Log10(rms/reference)
	if db < floor || math.IsNaN(db) {
		return floor
	}
	return db
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) <= 1 {
		return 0
	}
	var count float64
	for i := 1; i < len(samples); i++ {
		if samples[i-1] == 0 || samples[i] == 0 {
			continue
		}
		if (samples[i-1] > 0) != (samples[i] > 0) {
			count++
		}
	}
	return count / float64(len(samples)-1)
}

// dominantBin returns the frequency and magnitude of the strongest bin,
// preferring the lowest frequency on ties.
func dominantBin(s Spectrum) (float64, float64) {
	if len(s.Magnitudes) == 0 {
		return 0, 0
	}
	idx := 0
	maxVal := s.Magnitudes[0]
	for i, mag := range s.Magnitudes {
		if mag > maxVal {
			maxVal = mag
			idx = i
		}
	}
	return s.Frequency(idx), maxVal
}

func spectralCentroid(s Spectrum) float64 {
	var weightedSum float64
	var total float64
	for i, mag := range s.Magnitudes {
		weightedSum += mag * s.Frequency(i)
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weightedSum / total
}

func spectralBandwidth(s Spectrum, centroid float64) float64 {
	var variance float64
	var total float64
	for i, mag := range s.Magnitudes {
		deviation := s.Frequency(i) - centroid
		variance += mag * deviation * deviation
		total += mag
	}
	if total == 0 {
		return 0
	}
	return math.Sqrt(variance / total)
}

// spectralRolloff works on energy (squared magnitude) like librosa.
func spectralRolloff(s Spectrum, threshold float64) float64 {
	if len(s.Magnitudes) == 0 {
		return 0
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.85
	}

	var total float64
	for _, mag := range s.Magnitudes {
		total += mag * mag
	}
	if total == 0 {
		return 0
	}

	target := threshold * total
	var cumulative float64
	for i, mag := range s.Magnitudes {
		cumulative += mag * mag
		if cumulative >= target {
			return s.Frequency(i)
		}
	}
	return s.Frequency(len(s.Magnitudes) - 1)
}

func spectralFlatness(magnitude []float64) float64 {
	if len(magnitude) == 0 {
		return 0
	}
	const eps = 1e-12
	var logSum float64
	var arithmetic float64
	var nonZero bool

	for _, mag := range magnitude {
		if mag > 0 {
			nonZero = true
		}
		value := mag + eps
		logSum += math.Log(value)
		arithmetic += value
	}
	if !nonZero {
		return 0
	}

	count := float64(len(magnitude))
	geoMean := math.Exp(logSum / count)
	ariMean := arithmetic / count
	return clamp01(geoMean / ariMean)
}

func spectralCrestFactor(magnitude []float64) float64 {
	if len(magnitude) == 0 {
		return 0
	}
	maxVal := magnitude[0]
	var sum float64
	for _, mag := range magnitude {
		if mag > maxVal {
			maxVal = mag
		}
		sum += mag
	}
	mean := sum / float64(len(magnitude))
	if mean == 0 {
		return 0
	}
	return maxVal / mean
}
