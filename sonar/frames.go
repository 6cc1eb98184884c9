package sonar

// Frame Segmentation
//
// The waveform is cut into fixed-length windows that start every hopSize samples.
// Windows keep starting until one reaches the end of the signal; the last such
// window is zero-padded when it runs short. With hopSize == frameSize this gives
// ceil(n / frameSize) frames, and a signal of exactly frameSize samples gives one
// unpadded frame.

import (
	"iter"
)

// Frame is one analysis window. Samples always has the segmenter's frame size;
// only the first Valid entries come from the waveform.
type Frame struct {
	Index   int
	Offset  int     // first sample index in the waveform
	Start   float64 // seconds
	Samples []float64
	Valid   int
}

// Segmenter slices waveforms into overlapping frames.
type Segmenter struct {
	frameSize int
	hopSize   int
}

func NewSegmenter(frameSize, hopSize int) (*Segmenter, error) {
	if frameSize <= 0 {
		return nil, invalidField("frameSize", "must be positive")
	}
	if hopSize <= 0 {
		return nil, invalidField("hopSize", "must be positive")
	}
	if hopSize > frameSize {
		return nil, invalidField("hopSize", "must not exceed frameSize")
	}
	return &Segmenter{frameSize: frameSize, hopSize: hopSize}, nil
}

func (s *Segmenter) FrameSize() int { return s.frameSize }
func (s *Segmenter) HopSize() int   { return s.hopSize }

// Count returns the number of frames needed to cover sampleCount samples.
func (s *Segmenter) Count(sampleCount int) int {
	if sampleCount <= 0 {
		return 0
	}
	if sampleCount <= s.frameSize {
		return 1
	}
	rest := sampleCount - s.frameSize
	return 1 + (rest+s.hopSize-1)/s.hopSize
}

// At builds frame i. Full frames share the waveform's backing array and must be
// treated as read-only; a short final frame gets its own padded buffer.
func (s *Segmenter) At(w Waveform, i int) Frame {
	offset := i * s.hopSize
	end := offset + s.frameSize
	frame := Frame{
		Index:  i,
		Offset: offset,
		Start:  float64(offset) / float64(w.sampleRate),
	}

	if end <= len(w.samples) {
		frame.Samples = w.samples[offset:end:end]
		frame.Valid = s.frameSize
		return frame
	}

	padded := make([]float64, s.frameSize)
	if offset < len(w.samples) {
		frame.Valid = copy(padded, w.samples[offset:])
	}
	frame.Samples = padded
	return frame
}

// Frames yields every frame in order. Each range over the sequence starts again
// from the first frame.
func (s *Segmenter) Frames(w Waveform) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		total := s.Count(w.Len())
		for i := 0; i < total; i++ {
			if !yield(s.At(w, i)) {
				return
			}
		}
	}
}
