package sonar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSegmenterRejectsBadSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		frameSize int
		hopSize   int
	}{
		{"zero frame", 0, 1},
		{"negative frame", -8, 1},
		{"zero hop", 8, 0},
		{"negative hop", 8, -1},
		{"hop larger than frame", 8, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSegmenter(tc.frameSize, tc.hopSize)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSegmenterCount(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(4, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, seg.Count(0))
	assert.Equal(t, 1, seg.Count(1))
	assert.Equal(t, 1, seg.Count(4))
	assert.Equal(t, 2, seg.Count(5))
	assert.Equal(t, 2, seg.Count(6))
	assert.Equal(t, 3, seg.Count(7))
}

func TestSegmenterNoOverlapCount(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(2048, 2048)
	require.NoError(t, err)

	for _, n := range []int{1, 2047, 2048, 2049, 4096, 10000, 88200} {
		w := mustWaveform(t, make([]float64, n), 44100)
		expected := (n + 2047) / 2048
		assert.Equal(t, expected, seg.Count(n), "n=%d", n)

		var got int
		for range seg.Frames(w) {
			got++
		}
		assert.Equal(t, expected, got, "n=%d", n)
	}
}

func TestSegmenterExactFrameIsUnpadded(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(8, 4)
	require.NoError(t, err)

	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	w := mustWaveform(t, samples, 8)

	var frames []Frame
	for f := range seg.Frames(w) {
		frames = append(frames, f)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, 8, frames[0].Valid)
	assert.Equal(t, samples, frames[0].Samples)
}

func TestSegmenterPadsFinalFrame(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(4, 4)
	require.NoError(t, err)
	w := mustWaveform(t, []float64{1, 2, 3, 4, 5, 6}, 2)

	last := seg.At(w, 1)
	assert.Equal(t, 4, last.Offset)
	assert.Equal(t, 2.0, last.Start)
	assert.Equal(t, 2, last.Valid)
	assert.Equal(t, []float64{5, 6, 0, 0}, last.Samples)
}

func TestSegmenterFramesRestart(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(4, 2)
	require.NoError(t, err)
	w := mustWaveform(t, []float64{1, 2, 3, 4, 5, 6, 7}, 7)
	seq := seg.Frames(w)

	collect := func() []int {
		var offsets []int
		for f := range seq {
			offsets = append(offsets, f.Offset)
		}
		return offsets
	}
	first := collect()
	assert.Equal(t, []int{0, 2, 4}, first)
	assert.Equal(t, first, collect())

	// early break
	for f := range seq {
		assert.Equal(t, 0, f.Index)
		break
	}
}

func TestWaveformCopiesInput(t *testing.T) {
	t.Parallel()

	samples := []float64{0.1, 0.2}
	w := mustWaveform(t, samples, 2)
	samples[0] = 0.9

	assert.Equal(t, []float64{0.1, 0.2}, w.Slice(0, 2))
	assert.Equal(t, 1.0, w.Duration())

	_, err := NewWaveform(samples, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
