package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audio-forensics/sonar"
)

func openCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleResult() *sonar.AnalysisResult {
	return &sonar.AnalysisResult{
		Duration:          2,
		SampleRate:        44100,
		AverageRMS:        0.2,
		DetectedSounds:    1,
		DominantFrequency: 440,
		MaxDecibels:       -6,
		SoundEvents: []sonar.SoundEvent{{
			Time:                 0.5,
			Type:                 sonar.LabelTonal,
			Frequency:            440,
			Amplitude:            0.5,
			Decibels:             -6,
			Confidence:           0.8,
			Duration:             1,
			ClassificationSource: sonar.SourceRules,
		}},
		FrequencySpectrum: []sonar.SpectrumPoint{{Frequency: 440, Magnitude: 1, Time: 0.5}},
		FrameCount:        86,
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	cfg := sonar.DefaultConfig()
	audio := []byte("RIFF....WAVE")

	k1, err := Key(audio, cfg, "rules")
	require.NoError(t, err)
	assert.Len(t, k1, 64)

	again, err := Key(audio, cfg, "rules")
	require.NoError(t, err)
	assert.Equal(t, k1, again)

	parallel := cfg
	parallel.Workers = 8
	sameResult, err := Key(audio, parallel, "rules")
	require.NoError(t, err)
	assert.Equal(t, k1, sameResult, "worker count must not change the key")

	sensitive := cfg
	sensitive.SensitivityFactor = 3
	other, err := Key(audio, sensitive, "rules")
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)

	otherClassifier, err := Key(audio, cfg, "remote")
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherClassifier)

	otherAudio, err := Key([]byte("RIFF....WAVF"), cfg, "rules")
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherAudio)
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	c := openCache(t)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleResult()
	require.NoError(t, c.Put("k", "clip.wav", want))

	got, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// replacing keeps a single row
	want.DetectedSounds = 3
	require.NoError(t, c.Put("k", "clip.wav", want))
	entries, err := c.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clip.wav", entries[0].Filename)
	assert.Equal(t, 3, entries[0].DetectedSounds)
	assert.InDelta(t, 2.0, entries[0].Duration, 1e-9)

	require.Error(t, c.Put("nil", "", nil))
}

func TestPrune(t *testing.T) {
	t.Parallel()

	c := openCache(t)
	require.NoError(t, c.Put("a", "a.wav", sampleResult()))
	require.NoError(t, c.Put("b", "b.wav", sampleResult()))

	removed, err := c.Prune(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = c.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := c.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
