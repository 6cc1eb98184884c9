package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue reads one sample from the registry, 0 when it does not exist yet.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := GetRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestRecordersAndHandler(t *testing.T) {
	Init(nil)
	require.True(t, IsMetricsEnabled())

	httpOK := map[string]string{"transport": "http", "status": "ok"}
	before := counterValue(t, "audio_analysis_requests_total", httpOK)
	RecordRequest("http", "ok")
	assert.InDelta(t, before+1, counterValue(t, "audio_analysis_requests_total", httpOK), 1e-9)

	RecordSoundEvent("Voice/Speech", "rules")
	assert.GreaterOrEqual(t, counterValue(t, "audio_analysis_sound_events_total",
		map[string]string{"label": "Voice/Speech", "source": "rules"}), 1.0)

	RecordCacheLookup("hit")
	RecordClassifierFallback("request")
	RecordAudioSeconds(2.5)
	assert.GreaterOrEqual(t, counterValue(t, "audio_analysis_audio_seconds_total", nil), 2.5)

	done := ObserveAnalysis("socket")
	assert.InDelta(t, 1, counterValue(t, "audio_analysis_in_flight", nil), 1e-9)
	done()
	assert.InDelta(t, 0, counterValue(t, "audio_analysis_in_flight", nil), 1e-9)

	mux := http.NewServeMux()
	RegisterHandler(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "audio_analysis_requests_total")
	assert.Contains(t, string(body), "audio_analysis_cache_lookups_total")
	assert.Contains(t, string(body), "audio_analysis_classifier_fallback_total")
}

func TestDisabledRecordersAreNoops(t *testing.T) {
	Init(nil)
	EnableMetrics(false)
	defer EnableMetrics(true)

	miss := map[string]string{"result": "miss"}
	before := counterValue(t, "audio_analysis_cache_lookups_total", miss)
	RecordCacheLookup("miss")
	assert.InDelta(t, before, counterValue(t, "audio_analysis_cache_lookups_total", miss), 1e-9)

	stop := ObserveAnalysis("http")
	stop()
	assert.False(t, IsMetricsEnabled())
}
