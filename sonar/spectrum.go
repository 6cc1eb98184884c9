package sonar

// Spectral Transform
//
// Each frame is multiplied by a Hann window to reduce spectral leakage and then
// transformed with a real FFT at the logical frame length. go-dsp handles
// lengths that are not a power of two (Bluestein), so bin k always sits at
// k * sampleRate / frameSize Hz and the one-sided spectrum spans 0..sampleRate/2.
//
// Magnitudes are divided by a fixed reference, half the window's coherent gain
// (sum(window) / 2), so a full-scale sinusoid lands near 1.0 regardless of the
// frame length. Values are clamped into [0, 1].

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Spectrum is the normalized one-sided magnitude spectrum of one frame.
type Spectrum struct {
	Start      float64 // originating frame start, seconds
	BinWidth   float64 // Hz per bin
	Magnitudes []float64
}

// Frequency returns the centre frequency of bin i in Hz.
func (s Spectrum) Frequency(i int) float64 {
	return float64(i) * s.BinWidth
}

// Transformer computes windowed spectra for frames of a fixed size.
type Transformer struct {
	frameSize  int
	sampleRate int
	window     []float64
	reference  float64
}

func NewTransformer(frameSize, sampleRate int) (*Transformer, error) {
	if frameSize <= 0 {
		return nil, invalidField("frameSize", "must be positive")
	}
	if sampleRate <= 0 {
		return nil, invalidField("sampleRate", "must be positive")
	}

	window := hannWindow(frameSize)
	var gain float64
	for _, w := range window {
		gain += w
	}
	reference := gain / 2
	if reference <= 0 {
		reference = 1
	}

	return &Transformer{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		window:     window,
		reference:  reference,
	}, nil
}

// BinCount is the number of one-sided bins, frameSize/2 + 1.
func (t *Transformer) BinCount() int {
	return t.frameSize/2 + 1
}

// BinWidth is the frequency resolution sampleRate / frameSize.
func (t *Transformer) BinWidth() float64 {
	return float64(t.sampleRate) / float64(t.frameSize)
}

// Transform windows the frame and returns its magnitude spectrum. The frame is not modified.
func (t *Transformer) Transform(frame Frame) Spectrum {
	buffer := make([]float64, t.frameSize)
	copy(buffer, frame.Samples)
	for i := range buffer {
		buffer[i] *= t.window[i]
	}

	coefficients := fft.FFTReal(buffer)
	bins := t.BinCount()
	magnitudes := make([]float64, bins)
	for i := 0; i < bins && i < len(coefficients); i++ {
		magnitudes[i] = clamp01(cmplx.Abs(coefficients[i]) / t.reference)
	}

	return Spectrum{
		Start:      frame.Start,
		BinWidth:   t.BinWidth(),
		Magnitudes: magnitudes,
	}
}

// hannWindow builds the symmetric Hann window used by the feature extractor.
func hannWindow(length int) []float64 {
	window := make([]float64, length)
	if length == 1 {
		window[0] = 1
		return window
	}
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos((2*math.Pi*float64(i))/float64(length-1)))
	}
	return window
}

// clamp01 clamps a value to [0, 1] range
func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
