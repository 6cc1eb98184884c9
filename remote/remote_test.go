package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audio-forensics/sonar"
	"audio-forensics/wav"
)

func testSegment(n int) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return samples
}

func newModelServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(status)
		case "/classify":
			assert.Equal(t, http.MethodPost, r.Method)
			file, header, err := r.FormFile("audio")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			data, err := io.ReadAll(file)
			assert.NoError(t, err)
			_, err = wav.Decode(data)
			assert.NoError(t, err, "upload %s is not a valid wav", header.Filename)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestMapCategory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		forensic string
		label    sonar.Label
	}{
		{"Speech", "Human Voice", sonar.LabelVoice},
		{"Male speech, man speaking", "Human Voice", sonar.LabelVoice},
		{"Gunshot, gunfire", "Gunshot/Explosion", sonar.LabelPercussive},
		{"Truck", "Heavy Vehicle", sonar.LabelLow},
		{"Dog", "Canine", sonar.LabelTonal},
		{"Rain on surface", "Precipitation", sonar.LabelAmbient},
		{"White noise", "Noise", sonar.LabelHigh},
		{"Theremin", "Theremin", sonar.LabelUnknown},
	}
	for _, tc := range cases {
		forensic, label := MapCategory(tc.in)
		assert.Equal(t, tc.forensic, forensic, tc.in)
		assert.Equal(t, tc.label, label, tc.in)
	}
}

func TestModelClientHealthCheck(t *testing.T) {
	t.Parallel()

	ok := newModelServer(t, http.StatusOK, nil)
	require.NoError(t, NewModelClient(ok.URL+"/", time.Second).HealthCheck(context.Background()))

	down := newModelServer(t, http.StatusServiceUnavailable, nil)
	require.Error(t, NewModelClient(down.URL, time.Second).HealthCheck(context.Background()))
}

func TestModelClientClassifyFile(t *testing.T) {
	t.Parallel()

	server := newModelServer(t, http.StatusOK, []Category{
		{Name: "Music", Score: 0.3},
		{Name: "Speech", Score: 0.6},
	})

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, wav.WriteFile(path, testSegment(1600), 16000))

	categories, err := NewModelClient(server.URL, time.Second).ClassifyFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Speech", categories[0].Name)
}

func TestParseCategoriesWrappedForms(t *testing.T) {
	t.Parallel()

	got, err := parseCategories([]byte(`{"categories":[{"class":"Dog","score":0.2},{"class":"Cat","score":0.7}]}`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Cat", got[0].Name)

	got, err = parseCategories([]byte(`{"results":[{"class":"Wind","score":0.9},{"class":"","score":1}]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Wind", got[0].Name)

	_, err = parseCategories([]byte(`not json`))
	require.Error(t, err)
}

func TestClassifierUsesModelCategory(t *testing.T) {
	t.Parallel()

	server := newModelServer(t, http.StatusOK, map[string]any{
		"categories": []Category{{Name: "Glass", Score: 0.82}, {Name: "Speech", Score: 0.1}},
	})
	classifier := NewClassifier(NewModelClient(server.URL, time.Second))

	got := classifier.Classify(context.Background(), sonar.EventFeatures{
		Time:       1.5,
		SampleRate: 16000,
		Segment:    testSegment(3200),
	})
	assert.Equal(t, sonar.LabelPercussive, got.Label)
	assert.Equal(t, "Breaking Glass", got.ModelCategory)
	assert.Equal(t, sonar.SourceModel, got.Source)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
}

func TestClassifierFallsBackOnServiceError(t *testing.T) {
	t.Parallel()

	server := newModelServer(t, http.StatusInternalServerError, map[string]string{"error": "boom"})
	var reasons []string
	classifier := NewClassifier(NewModelClient(server.URL, time.Second),
		WithFallbackHook(func(reason string) { reasons = append(reasons, reason) }))

	got := classifier.Classify(context.Background(), sonar.EventFeatures{
		SampleRate: 16000,
		Segment:    testSegment(1600),
		Decibels:   -50,
	})
	assert.Equal(t, sonar.LabelAmbient, got.Label)
	assert.Equal(t, sonar.SourceRules, got.Source)
	assert.Equal(t, []string{"request"}, reasons)
}

type stubScorer struct {
	categories []Category
	err        error
	calls      int
}

func (s *stubScorer) ClassifyBytes(context.Context, []byte, string) ([]Category, error) {
	s.calls++
	return s.categories, s.err
}

func TestClassifierFallbackReasons(t *testing.T) {
	t.Parallel()

	features := sonar.EventFeatures{SampleRate: 16000, Segment: testSegment(800), Decibels: -10, Flatness: 0.01}

	empty := &stubScorer{}
	got := NewClassifier(empty).Classify(context.Background(), sonar.EventFeatures{SampleRate: 16000})
	assert.Equal(t, 0, empty.calls)
	assert.Equal(t, sonar.SourceRules, got.Source)

	low := &stubScorer{categories: []Category{{Name: "Speech", Score: 0.05}}}
	got = NewClassifier(low).Classify(context.Background(), features)
	assert.Equal(t, sonar.LabelTonal, got.Label)
	assert.Empty(t, got.ModelCategory)

	unmapped := &stubScorer{categories: []Category{{Name: "Theremin", Score: 0.9}}}
	got = NewClassifier(unmapped).Classify(context.Background(), features)
	assert.Equal(t, sonar.LabelTonal, got.Label)
	assert.Equal(t, sonar.SourceRules, got.Source)
	assert.Equal(t, "Theremin", got.ModelCategory)

	var reasons []string
	silent := &stubScorer{}
	got = NewClassifier(silent, WithFallbackHook(func(reason string) { reasons = append(reasons, reason) })).
		Classify(context.Background(), features)
	assert.Equal(t, 1, silent.calls)
	assert.Equal(t, sonar.LabelTonal, got.Label)
	assert.Equal(t, sonar.SourceRules, got.Source)
	assert.Equal(t, []string{"empty_response"}, reasons)

	failing := &stubScorer{err: errors.New("connection refused")}
	fallback := NewClassifier(failing, WithFallback(fixed{sonar.LabelVoice}))
	got = fallback.Classify(context.Background(), features)
	assert.Equal(t, sonar.LabelVoice, got.Label)
}

type fixed struct{ label sonar.Label }

func (f fixed) Classify(context.Context, sonar.EventFeatures) sonar.Classification {
	return sonar.Classification{Label: f.label, Confidence: 1, Source: "fixed"}
}

func TestClassifierHonoursCallTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	classifier := NewClassifier(NewModelClient(server.URL, 5*time.Second), WithCallTimeout(50*time.Millisecond))
	started := time.Now()
	got := classifier.Classify(context.Background(), sonar.EventFeatures{SampleRate: 16000, Segment: testSegment(160)})
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, sonar.SourceRules, got.Source)
}
