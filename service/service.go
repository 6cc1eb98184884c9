package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mdobak/go-xerrors"

	"audio-forensics/cache"
	"audio-forensics/metrics"
	"audio-forensics/models"
	"audio-forensics/remote"
	"audio-forensics/sonar"
	"audio-forensics/utils"
)

const analysisType = "live_comprehensive"

// Service runs analyses for the HTTP, socket and stdin transports.
type Service struct {
	cfg        Config
	classifier sonar.Classifier
	prototypes *sonar.PrototypeClassifier
	model      *remote.ModelClient
	cache      *cache.SQLiteCache
	logger     *slog.Logger
}

// RequestError carries the request id of a failed analysis.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// New builds the classifier selected by cfg and opens the result cache when configured.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics.Init(logger)

	s := &Service{cfg: cfg, logger: logger}

	rules := sonar.NewRuleClassifier()
	switch cfg.ClassifierMode {
	case ModeRules:
		s.classifier = rules
	case ModePrototypes:
		protos, err := sonar.NewPrototypeClassifierFromFile(cfg.PrototypesPath, cfg.NeighborCount,
			sonar.WithFallback(rules),
			sonar.WithPrototypeLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to load prototypes: %w", err)
		}
		stats := protos.Stats()
		logger.Info("loaded prototype classifier",
			slog.String("path", cfg.PrototypesPath),
			slog.Int("prototypes", stats.PrototypeCount),
			slog.Int("labels", stats.LabelCount))
		s.prototypes = protos
		s.classifier = protos
	case ModeRemote:
		s.model = remote.NewModelClient(cfg.ModelServiceURL, cfg.ModelTimeout)
		s.classifier = remote.NewClassifier(s.model,
			remote.WithFallback(rules),
			remote.WithCallTimeout(cfg.ModelTimeout),
			remote.WithLogger(logger),
			remote.WithFallbackHook(metrics.RecordClassifierFallback))
	}

	if cfg.CachePath != "" {
		c, err := cache.NewSQLiteCache(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open analysis cache: %w", err)
		}
		s.cache = c

		if cfg.CacheMaxAge > 0 {
			removed, err := c.Prune(time.Now().Add(-cfg.CacheMaxAge))
			if err != nil {
				logger.Warn("failed to prune analysis cache", slog.Any("error", xerrors.New(err)))
			} else if removed > 0 {
				logger.Info("pruned analysis cache",
					slog.String("path", cfg.CachePath),
					slog.Int64("removed", removed))
			}
		}
	}

	return s, nil
}

// Close releases the cache connection.
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

func (s *Service) Config() Config {
	return s.cfg
}

// CacheEntries lists cached analyses, newest first. It is empty when caching is off.
func (s *Service) CacheEntries() ([]cache.Entry, error) {
	if s.cache == nil {
		return []cache.Entry{}, nil
	}
	entries, err := s.cache.Entries()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []cache.Entry{}
	}
	return entries, nil
}

// ModelClient is non-nil in remote mode.
func (s *Service) ModelClient() *remote.ModelClient {
	return s.model
}

// Info describes the active pipeline for clients.
func (s *Service) Info() models.PipelineInfo {
	info := models.PipelineInfo{
		Config:       s.cfg.Analysis,
		Classifier:   s.cfg.ClassifierMode,
		Labels:       sonar.Labels(),
		CacheEnabled: s.cache != nil,
	}
	if s.model != nil {
		info.ModelServiceURL = s.model.URL()
	}
	if s.prototypes != nil {
		info.Prototypes = s.prototypes.Stats().PrototypeCount
	}
	return info
}

// Analyze decodes the request, runs the pipeline under the service timeout and wraps
// the result. Errors are *RequestError values matching the sonar sentinels.
func (s *Service) Analyze(ctx context.Context, transport string, req models.AnalysisRequest) (*models.AnalysisResponse, error) {
	requestID := utils.NewRequestID()
	logger := s.logger.With(slog.String("requestId", requestID), slog.String("transport", transport))

	stop := metrics.ObserveAnalysis(transport)
	resp, err := s.analyze(ctx, logger, req)
	stop()
	metrics.RecordRequest(transport, StatusLabel(err))

	if err != nil {
		level := slog.LevelWarn
		if StatusFor(err) >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "analysis failed",
			slog.String("filename", req.Filename),
			slog.Any("error", xerrors.New(err)))
		return nil, &RequestError{RequestID: requestID, Err: err}
	}

	resp.RequestID = requestID
	resp.Filename = req.Filename
	return resp, nil
}

func (s *Service) analyze(ctx context.Context, logger *slog.Logger, req models.AnalysisRequest) (*models.AnalysisResponse, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cfg := req.Config.Apply(s.cfg.Analysis)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	audio, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	key := s.cacheKey(logger, audio, cfg)
	if key != "" {
		cached, ok, err := s.cache.Get(key)
		switch {
		case err != nil:
			metrics.RecordCacheLookup("error")
			logger.Warn("cache lookup failed", slog.Any("error", xerrors.New(err)))
		case ok:
			metrics.RecordCacheLookup("hit")
			logger.Debug("serving cached analysis", slog.String("key", key))
			return newResponse(cached, true), nil
		default:
			metrics.RecordCacheLookup("miss")
		}
	}

	analyzer, err := sonar.NewAnalyzer(cfg, sonar.WithClassifier(s.classifier), sonar.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := analyzer.Analyze(ctx, audio.waveform)
	if err != nil {
		return nil, err
	}

	logger.Info("analysis complete",
		slog.String("source", audio.source),
		slog.Float64("duration", result.Duration),
		slog.Int("sampleRate", result.SampleRate),
		slog.Int("detectedSounds", result.DetectedSounds),
		slog.Float64("latency_ms", float64(time.Since(started).Microseconds())/1000))

	metrics.RecordAudioSeconds(result.Duration)
	for _, e := range result.SoundEvents {
		metrics.RecordSoundEvent(string(e.Type), e.ClassificationSource)
	}

	if key != "" {
		if err := s.cache.Put(key, req.Filename, result); err != nil {
			logger.Warn("cache store failed", slog.Any("error", xerrors.New(err)))
		}
	}

	return newResponse(result, false), nil
}

// cacheKey is empty when caching is off or the key cannot be built.
func (s *Service) cacheKey(logger *slog.Logger, audio *decodedAudio, cfg sonar.Config) string {
	if s.cache == nil {
		return ""
	}
	key, err := cache.Key(audio.identity, cfg, s.cfg.ClassifierMode)
	if err != nil {
		logger.Warn("failed to build cache key", slog.Any("error", xerrors.New(err)))
		return ""
	}
	return key
}

// contextError reports an expired deadline as sonar.ErrTimeout, like the analyzer does.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sonar.ErrTimeout, err)
	}
	return fmt.Errorf("analysis cancelled: %w", err)
}

func newResponse(result *sonar.AnalysisResult, cached bool) *models.AnalysisResponse {
	return &models.AnalysisResponse{
		AnalysisResult:   result,
		Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
		AnalysisComplete: true,
		AnalysisType:     analysisType,
		Cached:           cached,
	}
}

// StatusFor maps an analysis error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, sonar.ErrInvalidConfig),
		errors.Is(err, sonar.ErrDecode),
		errors.Is(err, sonar.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, sonar.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// StatusLabel is the metrics label for an analysis outcome.
func StatusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sonar.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, sonar.ErrDecode):
		return "decode_error"
	case errors.Is(err, sonar.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, sonar.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// NewErrorResponse builds the failure payload. Messages never include stack traces.
func NewErrorResponse(err error) models.ErrorResponse {
	resp := models.ErrorResponse{
		Error:            err.Error(),
		Code:             StatusLabel(err),
		Message:          messageFor(err),
		AnalysisComplete: false,
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		resp.RequestID = reqErr.RequestID
	}
	return resp
}

func messageFor(err error) string {
	for _, sentinel := range []error{sonar.ErrInvalidConfig, sonar.ErrDecode, sonar.ErrEmptyInput, sonar.ErrTimeout} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, context.Canceled) {
		return "analysis cancelled"
	}
	return "internal error during analysis"
}
