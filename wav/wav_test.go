package wav

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, n, sampleRate int, amplitude float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return samples
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	samples := sine(440, 4410, 44100, 0.5)
	data, err := EncodeBytes(samples, 44100)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 44100, decoded.SampleRate)
	assert.Equal(t, 1, decoded.Channels)
	assert.Equal(t, 16, decoded.BitDepth)
	require.Len(t, decoded.Samples, len(samples))
	assert.InDelta(t, 0.1, decoded.Duration(), 1e-9)
	for i := range samples {
		assert.InDelta(t, samples[i], decoded.Samples[i], 1.0/16384)
	}
}

func TestWriteFileAndDecodeFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segment.wav")
	samples := []float64{0, 0.25, -0.25, 1.5, -2}
	require.NoError(t, WriteFile(path, samples, 8000))

	decoded, err := DecodeFile(path)
	require.NoError(t, err)
	require.Len(t, decoded.Samples, len(samples))
	// out of range input is clamped before encoding
	assert.InDelta(t, 1.0, decoded.Samples[3], 1e-3)
	assert.InDelta(t, -1.0, decoded.Samples[4], 1e-3)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("definitely not a wav file"))
	require.ErrorIs(t, err, ErrInvalidFile)

	_, err = Decode(nil)
	require.Error(t, err)
}

func TestFromPCM16DownmixesStereo(t *testing.T) {
	t.Parallel()

	values := []int16{16384, -16384, 32767, 32767, -32768, 0}
	raw := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}

	decoded, err := FromPCM16(raw, 48000, 2)
	require.NoError(t, err)
	require.Len(t, decoded.Samples, 3)
	assert.InDelta(t, 0, decoded.Samples[0], 1e-9)
	assert.InDelta(t, 32767.0/32768, decoded.Samples[1], 1e-9)
	assert.InDelta(t, -0.5, decoded.Samples[2], 1e-9)
	assert.Equal(t, 2, decoded.Channels)
}

func TestFromPCM16Validates(t *testing.T) {
	t.Parallel()

	_, err := FromPCM16([]byte{1, 2, 3}, 8000, 1)
	require.ErrorIs(t, err, ErrInvalidFile)

	_, err = FromPCM16([]byte{1, 2}, 0, 1)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
