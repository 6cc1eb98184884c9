package sonar

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T, cfg Config, opts ...Option) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(cfg, opts...)
	require.NoError(t, err)
	return a
}

func assertResultInvariants(t *testing.T, result *AnalysisResult) {
	t.Helper()

	assert.Equal(t, len(result.SoundEvents), result.DetectedSounds)
	assert.True(t, sort.SliceIsSorted(result.SoundEvents, func(i, j int) bool {
		return result.SoundEvents[i].Time < result.SoundEvents[j].Time
	}))
	assert.True(t, sort.SliceIsSorted(result.FrequencySpectrum, func(i, j int) bool {
		return result.FrequencySpectrum[i].Frequency < result.FrequencySpectrum[j].Frequency
	}))

	if len(result.SoundEvents) > 0 {
		maxDb := result.SoundEvents[0].Decibels
		for _, e := range result.SoundEvents {
			maxDb = max(maxDb, e.Decibels)
			assert.True(t, e.Type.Valid(), "label %q", e.Type)
			assert.GreaterOrEqual(t, e.Time, 0.0)
			assert.LessOrEqual(t, e.Time, result.Duration)
			assert.GreaterOrEqual(t, e.Amplitude, 0.0)
			assert.LessOrEqual(t, e.Amplitude, 1.0)
			assert.GreaterOrEqual(t, e.Confidence, 0.0)
			assert.LessOrEqual(t, e.Confidence, 1.0)
		}
		assert.Equal(t, maxDb, result.MaxDecibels)
	}

	var best SpectrumPoint
	for i, p := range result.FrequencySpectrum {
		assert.GreaterOrEqual(t, p.Magnitude, 0.0)
		assert.LessOrEqual(t, p.Magnitude, 1.0)
		assert.GreaterOrEqual(t, p.Frequency, 0.0)
		if i == 0 || p.Magnitude > best.Magnitude {
			best = p
		}
	}
	assert.Equal(t, best.Frequency, result.DominantFrequency)
}

func TestAnalyzeSineEndToEnd(t *testing.T) {
	t.Parallel()

	const sampleRate = 44100
	cfg := DefaultConfig()
	a := newTestAnalyzer(t, cfg)
	w := mustWaveform(t, sineSamples(440, 2, sampleRate, 0.8), sampleRate)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assertResultInvariants(t, result)

	binWidth := float64(sampleRate) / float64(cfg.FrameSize)
	assert.InDelta(t, 2.0, result.Duration, 1e-9)
	assert.Equal(t, sampleRate, result.SampleRate)
	assert.InDelta(t, 440, result.DominantFrequency, binWidth)
	assert.Equal(t, 86, result.FrameCount)
	require.GreaterOrEqual(t, result.DetectedSounds, 1)

	event := result.SoundEvents[0]
	assert.InDelta(t, 440, event.Frequency, binWidth)
	assert.True(t, event.Type.Valid())
	assert.InDelta(t, 0.8, event.Amplitude, 0.01)
	assert.InDelta(t, 2.0, event.Time+event.Duration, 1e-9)
	assert.InDelta(t, 0.8/1.41421356, result.AverageRMS, 0.02)
	assert.Len(t, result.SpectralFeatures.MFCCMean, MFCCCoefficients)
}

func TestAnalyzeSilence(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	a := newTestAnalyzer(t, cfg)
	w := mustWaveform(t, make([]float64, 3*22050), 22050)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assertResultInvariants(t, result)

	assert.InDelta(t, 3.0, result.Duration, 1e-9)
	assert.Zero(t, result.DetectedSounds)
	assert.Empty(t, result.SoundEvents)
	assert.Zero(t, result.AverageRMS)
	assert.Equal(t, cfg.DecibelFloor, result.MaxDecibels)
	assert.Len(t, result.FrequencySpectrum, cfg.FrameSize/2+1)
}

func TestAnalyzeBurstsAreSeparateEvents(t *testing.T) {
	t.Parallel()

	const sampleRate = 16000
	cfg := DefaultConfig()
	cfg.FrameSize = 512
	cfg.HopSize = 256
	a := newTestAnalyzer(t, cfg)

	quiet := make([]float64, sampleRate/2)
	samples := concat(quiet, sineSamples(1000, 0.3, sampleRate, 0.5), quiet, noiseSamples(0.3, sampleRate, 0.6, 3), quiet)
	w := mustWaveform(t, samples, sampleRate)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assertResultInvariants(t, result)

	require.Equal(t, 2, result.DetectedSounds)
	first, second := result.SoundEvents[0], result.SoundEvents[1]

	frameSeconds := float64(cfg.FrameSize) / sampleRate
	assert.InDelta(t, 0.5, first.Time, frameSeconds)
	assert.InDelta(t, 1000, first.Frequency, float64(sampleRate)/float64(cfg.FrameSize))
	assert.InDelta(t, 1.3, second.Time, frameSeconds)
	assert.Greater(t, second.ZeroCrossingRate, first.ZeroCrossingRate)
}

func TestAnalyzeBurstOverNoisyBackground(t *testing.T) {
	t.Parallel()

	const sampleRate = 16000
	cfg := DefaultConfig()
	a := newTestAnalyzer(t, cfg)

	// uniform noise of amplitude 0.017 sits near -40 dBFS RMS
	samples := concat(
		noiseSamples(2, sampleRate, 0.017, 11),
		sineSamples(1000, 0.3, sampleRate, 0.8),
		noiseSamples(2, sampleRate, 0.017, 12),
	)
	w := mustWaveform(t, samples, sampleRate)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assertResultInvariants(t, result)

	require.Equal(t, 1, result.DetectedSounds)
	event := result.SoundEvents[0]
	frameSeconds := float64(cfg.FrameSize) / sampleRate
	assert.InDelta(t, 2.0, event.Time, frameSeconds)
	assert.Less(t, event.Duration, 0.3+3*frameSeconds)
	assert.InDelta(t, 1000, event.Frequency, float64(sampleRate)/float64(cfg.FrameSize))
}

func TestAnalyzeDeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()

	const sampleRate = 22050
	samples := concat(
		noiseSamples(0.4, sampleRate, 0.01, 11),
		sineSamples(700, 0.5, sampleRate, 0.6),
		noiseSamples(0.3, sampleRate, 0.01, 12),
		noiseSamples(0.2, sampleRate, 0.7, 13),
		noiseSamples(0.25, sampleRate, 0.01, 14),
	)
	w := mustWaveform(t, samples, sampleRate)

	var baseline []byte
	for _, workers := range []int{1, 2, 3, 7, 64} {
		cfg := DefaultConfig()
		cfg.Workers = workers
		result, err := newTestAnalyzer(t, cfg).Analyze(context.Background(), w)
		require.NoError(t, err)
		assertResultInvariants(t, result)

		encoded, err := json.Marshal(result)
		require.NoError(t, err)
		if baseline == nil {
			baseline = encoded
			continue
		}
		assert.Equal(t, string(baseline), string(encoded), "workers=%d", workers)
	}

	cfg := DefaultConfig()
	a := newTestAnalyzer(t, cfg)
	first, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyzeSpectrumDecimation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSpectrumPoints = 64
	a := newTestAnalyzer(t, cfg)
	w := mustWaveform(t, sineSamples(3000, 0.5, 44100, 0.5), 44100)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	assertResultInvariants(t, result)
	assert.LessOrEqual(t, len(result.FrequencySpectrum), 64)
	assert.InDelta(t, 3000, result.DominantFrequency, 44100.0/float64(cfg.FrameSize))
}

func TestAnalyzeEmptyInput(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, DefaultConfig())
	w := mustWaveform(t, nil, 44100)

	_, err := a.Analyze(context.Background(), w)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = Aggregate(w, nil, nil, nil, -60)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestAnalyzeTimeoutIsDistinct(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, DefaultConfig())
	w := mustWaveform(t, sineSamples(440, 1, 44100, 0.5), 44100)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := a.Analyze(ctx, w)
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrDecode)
}

func TestAnalyzeCancelled(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, DefaultConfig())
	w := mustWaveform(t, sineSamples(440, 1, 44100, 0.5), 44100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, w)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

type cancellingClassifier struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (c *cancellingClassifier) Classify(_ context.Context, _ EventFeatures) Classification {
	c.calls.Add(1)
	c.cancel()
	return Classification{Label: LabelVoice, Confidence: 1}
}

func TestAnalyzeStopsBetweenEventsOnCancel(t *testing.T) {
	t.Parallel()

	const sampleRate = 16000
	quiet := make([]float64, sampleRate/2)
	burst := sineSamples(800, 0.2, sampleRate, 0.5)
	w := mustWaveform(t, concat(quiet, burst, quiet, burst, quiet, burst, quiet), sampleRate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	classifier := &cancellingClassifier{cancel: cancel}
	a := newTestAnalyzer(t, DefaultConfig(), WithClassifier(classifier))

	_, err := a.Analyze(ctx, w)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), classifier.calls.Load())
}

type fixedClassifier struct{ result Classification }

func (f fixedClassifier) Classify(context.Context, EventFeatures) Classification { return f.result }

func TestAnalyzeSanitizesClassifierOutput(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, DefaultConfig(), WithClassifier(fixedClassifier{
		result: Classification{Label: "Helicopter", Confidence: 4, Source: SourceModel, ModelCategory: "Helicopter"},
	}))
	w := mustWaveform(t, sineSamples(440, 1, 44100, 0.5), 44100)

	result, err := a.Analyze(context.Background(), w)
	require.NoError(t, err)
	require.NotEmpty(t, result.SoundEvents)
	assert.Equal(t, LabelUnknown, result.SoundEvents[0].Type)
	assert.Equal(t, 1.0, result.SoundEvents[0].Confidence)
	assert.Equal(t, "Helicopter", result.SoundEvents[0].ModelCategory)
}

func TestNewAnalyzerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HopSize = cfg.FrameSize + 1
	_, err := NewAnalyzer(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "hopSize", cfgErr.Field)
}
