package service

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"audio-forensics/models"
	"audio-forensics/sonar"
	"audio-forensics/wav"
)

// decodedAudio is a request's waveform plus the bytes that identify it in the cache.
type decodedAudio struct {
	waveform sonar.Waveform
	identity []byte
	source   string
}

// decodeRequest picks the first audio source present, in the order audioData, pcm, samples.
func decodeRequest(req models.AnalysisRequest) (*decodedAudio, error) {
	if !req.HasAudio() {
		return nil, sonar.ErrEmptyInput
	}

	switch {
	case req.AudioData != "":
		data, err := decodeBase64(req.AudioData)
		if err != nil {
			return nil, &sonar.DecodeError{Err: fmt.Errorf("failed to decode base64 audio: %w", err)}
		}
		return decodeWAV(data)

	case req.PCM != "":
		raw, err := decodeBase64(req.PCM)
		if err != nil {
			return nil, &sonar.DecodeError{Err: fmt.Errorf("failed to decode base64 pcm: %w", err)}
		}
		channels := req.Channels
		if channels == 0 {
			channels = 1
		}
		audio, err := wav.FromPCM16(raw, req.SampleRate, channels)
		if err != nil {
			return nil, &sonar.DecodeError{Err: err}
		}
		header := make([]byte, 9)
		header[0] = 'p'
		binary.LittleEndian.PutUint32(header[1:], uint32(req.SampleRate))
		binary.LittleEndian.PutUint32(header[5:], uint32(channels))
		return fromAudio(audio, append(header, raw...), "pcm")

	default:
		if req.SampleRate <= 0 {
			return nil, &sonar.DecodeError{Err: errors.New("inline samples need a positive sampleRate")}
		}
		identity := make([]byte, 5, 5+8*len(req.Samples))
		identity[0] = 's'
		binary.LittleEndian.PutUint32(identity[1:], uint32(req.SampleRate))
		for _, v := range req.Samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &sonar.DecodeError{Err: errors.New("inline samples must be finite")}
			}
			identity = binary.LittleEndian.AppendUint64(identity, math.Float64bits(v))
		}
		w, err := sonar.NewWaveform(req.Samples, req.SampleRate)
		if err != nil {
			return nil, err
		}
		return &decodedAudio{waveform: w, identity: identity, source: "samples"}, nil
	}
}

// decodeWAV turns a complete RIFF/WAV payload into a waveform.
func decodeWAV(data []byte) (*decodedAudio, error) {
	if len(data) == 0 {
		return nil, sonar.ErrEmptyInput
	}
	audio, err := wav.Decode(data)
	if err != nil {
		return nil, &sonar.DecodeError{Err: err}
	}
	return fromAudio(audio, append([]byte{'w'}, data...), "wav")
}

func fromAudio(audio *wav.Audio, identity []byte, source string) (*decodedAudio, error) {
	if len(audio.Samples) == 0 {
		return nil, sonar.ErrEmptyInput
	}
	w, err := sonar.NewWaveform(audio.Samples, audio.SampleRate)
	if err != nil {
		return nil, &sonar.DecodeError{Err: err}
	}
	return &decodedAudio{waveform: w, identity: identity, source: source}, nil
}

// decodeBase64 accepts plain base64 and data URLs such as "data:audio/wav;base64,....".
func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		if idx := strings.Index(value, ","); idx != -1 {
			value = value[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err == nil {
		return data, nil
	}
	// some recorders drop the padding
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
