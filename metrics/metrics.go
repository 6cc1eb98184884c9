package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

var (
	registry        *prometheus.Registry
	registryOnce    sync.Once
	metricsReady    atomic.Bool
	metricsDisabled atomic.Bool

	// Request metrics
	AnalysisRequestsTotal *prometheus.CounterVec
	AnalysisLatency       *prometheus.HistogramVec
	AudioSecondsAnalyzed  prometheus.Counter
	AnalysesInFlight      prometheus.Gauge

	// Result metrics
	SoundEventsTotal *prometheus.CounterVec

	// Collaborator metrics
	CacheLookupsTotal       *prometheus.CounterVec
	ClassifierFallbackTotal *prometheus.CounterVec
)

// Init initializes all metrics and registers them with a private registry.
func Init(logger *slog.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AnalysisRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audio_analysis_requests_total",
				Help: "Total number of analysis requests",
			},
			[]string{"transport", "status"},
		)

		AnalysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audio_analysis_duration_seconds",
				Help:    "Wall time of one analysis including decoding",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // From 5ms to ~10s
			},
			[]string{"transport"},
		)

		AudioSecondsAnalyzed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audio_analysis_audio_seconds_total",
				Help: "Total seconds of audio analyzed",
			},
		)

		AnalysesInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audio_analysis_in_flight",
				Help: "Number of analyses currently running",
			},
		)

		SoundEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audio_analysis_sound_events_total",
				Help: "Total number of detected sound events by label",
			},
			[]string{"label", "source"},
		)

		CacheLookupsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audio_analysis_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		)

		ClassifierFallbackTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audio_analysis_classifier_fallback_total",
				Help: "Events classified by the fallback classifier, by reason",
			},
			[]string{"reason"},
		)

		registry.MustRegister(
			AnalysisRequestsTotal,
			AnalysisLatency,
			AudioSecondsAnalyzed,
			AnalysesInFlight,
			SoundEventsTotal,
			CacheLookupsTotal,
			ClassifierFallbackTotal,
		)
		metricsReady.Store(true)

		if logger != nil {
			logger.Info("Prometheus metrics initialized")
		}
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsDisabled.Store(!enabled)
}

// IsMetricsEnabled reports whether metrics are initialized and enabled.
func IsMetricsEnabled() bool {
	return metricsReady.Load() && !metricsDisabled.Load()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init(nil)
	return promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	)
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	mux.Handle(metricsPath, Handler())
}

// RecordRequest counts one finished request.
func RecordRequest(transport, status string) {
	if IsMetricsEnabled() {
		AnalysisRequestsTotal.WithLabelValues(transport, status).Inc()
	}
}

// ObserveAnalysis tracks an analysis from start until the returned function is called.
func ObserveAnalysis(transport string) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	AnalysesInFlight.Inc()
	return func() {
		AnalysesInFlight.Dec()
		AnalysisLatency.WithLabelValues(transport).Observe(time.Since(start).Seconds())
	}
}

// RecordAudioSeconds adds analyzed audio duration.
func RecordAudioSeconds(seconds float64) {
	if IsMetricsEnabled() && seconds > 0 {
		AudioSecondsAnalyzed.Add(seconds)
	}
}

// RecordSoundEvent counts one detected event.
func RecordSoundEvent(label, source string) {
	if IsMetricsEnabled() {
		SoundEventsTotal.WithLabelValues(label, source).Inc()
	}
}

// RecordCacheLookup records "hit", "miss" or "error".
func RecordCacheLookup(result string) {
	if IsMetricsEnabled() {
		CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// RecordClassifierFallback counts one fallback classification.
func RecordClassifierFallback(reason string) {
	if IsMetricsEnabled() {
		ClassifierFallbackTotal.WithLabelValues(reason).Inc()
	}
}
