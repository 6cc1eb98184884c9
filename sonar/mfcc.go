package sonar

// Mel-Frequency Cepstral Coefficients
//
// Power in each frame's magnitude spectrum is pooled into triangular filters spaced
// evenly on the HTK mel scale (mel = 2595 * log10(1 + f/700)) from 0 Hz to Nyquist,
// with Slaney area normalization. Band energies are converted to dB
// (10 * log10(max(e, 1e-10))) and decorrelated with an orthonormal DCT-II; the first
// MFCCCoefficients values are kept. The analysis summary reports their mean over
// every frame.

import (
	"math"
)

const (
	// MFCCCoefficients is the number of cepstral coefficients reported per recording.
	MFCCCoefficients = 13
	melBands         = 40
	melPowerFloor    = 1e-10
)

type melFilter struct {
	first   int // first spectrum bin with a non-zero weight
	weights []float64
}

// MFCC computes cepstral coefficients from spectra of a fixed frame size and rate.
type MFCC struct {
	filters []melFilter
	dct     [][]float64 // coefficients x bands
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// NewMFCC builds the filterbank and DCT basis for spectra from frames of frameSize samples.
func NewMFCC(frameSize, sampleRate, coefficients, bands int) (*MFCC, error) {
	switch {
	case frameSize <= 0:
		return nil, invalidField("frameSize", "must be positive")
	case sampleRate <= 0:
		return nil, invalidField("sampleRate", "must be positive")
	case bands <= 0:
		return nil, invalidField("melBands", "must be positive")
	case coefficients <= 0 || coefficients > bands:
		return nil, invalidField("mfccCoefficients", "must be in [1, melBands]")
	}

	bins := frameSize/2 + 1
	binWidth := float64(sampleRate) / float64(frameSize)
	maxMel := hzToMel(float64(sampleRate) / 2)

	edges := make([]float64, bands+2)
	for i := range edges {
		edges[i] = melToHz(maxMel * float64(i) / float64(bands+1))
	}

	filters := make([]melFilter, bands)
	for b := range filters {
		lower, centre, upper := edges[b], edges[b+1], edges[b+2]
		norm := 2 / (upper - lower)

		filter := melFilter{first: -1}
		for k := 0; k < bins; k++ {
			f := float64(k) * binWidth
			var w float64
			switch {
			case f > lower && f <= centre:
				w = (f - lower) / (centre - lower)
			case f > centre && f < upper:
				w = (upper - f) / (upper - centre)
			}
			if w <= 0 {
				if filter.first >= 0 {
					break
				}
				continue
			}
			if filter.first < 0 {
				filter.first = k
			}
			filter.weights = append(filter.weights, w*norm)
		}
		if filter.first < 0 {
			filter.first = 0
		}
		filters[b] = filter
	}

	dct := make([][]float64, coefficients)
	n := float64(bands)
	for k := range dct {
		scale := math.Sqrt(2 / n)
		if k == 0 {
			scale = math.Sqrt(1 / n)
		}
		row := make([]float64, bands)
		for j := range row {
			row[j] = scale * math.Cos(math.Pi*float64(k)*(2*float64(j)+1)/(2*n))
		}
		dct[k] = row
	}

	return &MFCC{filters: filters, dct: dct}, nil
}

// Coefficients is the length of every Compute result.
func (m *MFCC) Coefficients() int {
	return len(m.dct)
}

// Compute returns the cepstral coefficients of one magnitude spectrum.
func (m *MFCC) Compute(magnitudes []float64) []float64 {
	logEnergies := make([]float64, len(m.filters))
	for b, filter := range m.filters {
		var energy float64
		for i, w := range filter.weights {
			k := filter.first + i
			if k >= len(magnitudes) {
				break
			}
			energy += w * magnitudes[k] * magnitudes[k]
		}
		logEnergies[b] = 10 * math.Log10(math.Max(energy, melPowerFloor))
	}

	out := make([]float64, len(m.dct))
	for k, row := range m.dct {
		var sum float64
		for j, basis := range row {
			sum += basis * logEnergies[j]
		}
		out[k] = sum
	}
	return out
}
