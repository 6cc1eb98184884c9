package wav

// WAV decoding and encoding
//
// Uploaded recordings arrive either as complete RIFF/WAVE files or as raw 16-bit
// little-endian PCM captured by the browser recorder. Both are turned into mono
// float samples in [-1, 1]:
//
// 1. Container parsing: go-audio/wav reads the fmt and data chunks
// 2. Bit depth normalisation: 8-bit is unsigned (offset 128), 16/24/32-bit are signed
// 3. Down-mix: interleaved channels are averaged into one
//
// WriteFile goes the other way and is used to hand event segments to external
// model services as 16-bit mono files.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var (
	ErrInvalidFile       = errors.New("invalid WAV file")
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Audio is decoded mono audio plus a description of the source.
type Audio struct {
	Samples    []float64
	SampleRate int
	Channels   int // channel count of the source before down-mixing
	BitDepth   int
}

// Duration in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Decode parses a complete WAV file held in memory.
func Decode(data []byte) (*Audio, error) {
	return decode(bytes.NewReader(data))
}

// DecodeFile parses the WAV file at path.
func DecodeFile(path string) (*Audio, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()
	return decode(file)
}

func decode(r io.ReadSeeker) (*Audio, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}
	if decoder.WavAudioFormat != formatPCM && decoder.WavAudioFormat != formatExtensible {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format information", ErrInvalidFile)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}
	scale, offset, err := normalisation(bitDepth)
	if err != nil {
		return nil, err
	}

	channels := buf.Format.NumChannels
	samples := downmix(buf.Data, channels, func(v int) float64 {
		return (float64(v) - offset) / scale
	})

	return &Audio{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// normalisation returns the divisor and zero offset for a PCM bit depth.
func normalisation(bitDepth int) (float64, float64, error) {
	switch bitDepth {
	case 8:
		return 128, 128, nil
	case 16:
		return 32768, 0, nil
	case 24:
		return 8388608, 0, nil
	case 32:
		return 2147483648, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bitDepth)
	}
}

// downmix averages interleaved frames into mono and clamps to [-1, 1]. A trailing
// partial frame is dropped.
func downmix(data []int, channels int, convert func(int) float64) []float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += convert(data[i*channels+ch])
		}
		samples[i] = clamp(sum / float64(channels))
	}
	return samples
}

// FromPCM16 decodes headerless little-endian signed 16-bit PCM.
func FromPCM16(raw []byte, sampleRate, channels int) (*Audio, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM payload length %d", ErrInvalidFile, len(raw))
	}

	values := make([]int, len(raw)/2)
	for i := range values {
		values[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	samples := downmix(values, channels, func(v int) float64 {
		return float64(v) / 32768
	})

	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   16,
	}, nil
}

// WriteFile stores samples as a 16-bit mono PCM WAV file.
func WriteFile(path string, samples []float64, sampleRate int) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output file creation error: %w", err)
	}
	if err := Encode(outFile, samples, sampleRate); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}

// Encode writes samples as a 16-bit mono PCM WAV stream.
func Encode(w io.WriteSeeker, samples []float64, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(clamp(s) * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	encoder := wav.NewEncoder(w, sampleRate, 16, 1, formatPCM)
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("data writing error: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalise wav: %w", err)
	}
	return nil
}

// EncodeBytes returns samples as an in-memory 16-bit mono WAV file.
func EncodeBytes(samples []float64, sampleRate int) ([]byte, error) {
	buf := &writeSeeker{}
	if err := Encode(buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.data, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// writeSeeker is an in-memory io.WriteSeeker; the encoder seeks back to patch
// chunk sizes on Close.
type writeSeeker struct {
	data []byte
	pos  int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.data) {
		grown := make([]byte, end)
		copy(grown, w.data)
		w.data = grown
	}
	copy(w.data[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.data))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}
