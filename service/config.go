package service

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"audio-forensics/sonar"
	"audio-forensics/utils"
)

// Classifier modes selectable with CLASSIFIER_MODE.
const (
	ModeRules      = "rules"
	ModePrototypes = "prototypes"
	ModeRemote     = "remote"
)

// Config is the process-level configuration shared by every transport.
type Config struct {
	Analysis sonar.Config
	Timeout  time.Duration

	ClassifierMode  string
	PrototypesPath  string
	NeighborCount   int
	ModelServiceURL string
	ModelTimeout    time.Duration

	CachePath   string
	CacheMaxAge time.Duration // entries older than this are pruned on startup, 0 keeps all
}

// DefaultConfig runs the rule classifier without a cache.
func DefaultConfig() Config {
	return Config{
		Analysis:        sonar.DefaultConfig(),
		Timeout:         30 * time.Second,
		ClassifierMode:  ModeRules,
		PrototypesPath:  filepath.Join("sonar", "prototypes.json"),
		NeighborCount:   5,
		ModelServiceURL: "http://localhost:5002",
		ModelTimeout:    10 * time.Second,
	}
}

// ConfigFromEnv overlays environment variables on DefaultConfig. Call
// godotenv.Load first when a .env file should be honoured.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	a := &cfg.Analysis

	a.FrameSize = utils.GetEnvInt("ANALYSIS_FRAME_SIZE", a.FrameSize)
	a.HopSize = utils.GetEnvInt("ANALYSIS_HOP_SIZE", a.HopSize)
	a.SensitivityFactor = utils.GetEnvFloat("ANALYSIS_SENSITIVITY", a.SensitivityFactor)
	a.MinHoldTimeMs = utils.GetEnvFloat("ANALYSIS_MIN_HOLD_MS", a.MinHoldTimeMs)
	a.ReferenceDb = utils.GetEnvFloat("ANALYSIS_REFERENCE_DB", a.ReferenceDb)
	a.MaxSpectrumPoints = utils.GetEnvInt("ANALYSIS_MAX_SPECTRUM_POINTS", a.MaxSpectrumPoints)
	a.Workers = utils.GetEnvInt("ANALYSIS_WORKERS", a.Workers)
	cfg.Timeout = utils.GetEnvDuration("ANALYSIS_TIMEOUT", cfg.Timeout)

	cfg.ClassifierMode = strings.ToLower(utils.GetEnv("CLASSIFIER_MODE", cfg.ClassifierMode))
	cfg.PrototypesPath = utils.GetEnv("CLASSIFIER_PROTOTYPES_PATH", cfg.PrototypesPath)
	cfg.NeighborCount = utils.GetEnvInt("CLASSIFIER_K", cfg.NeighborCount)
	cfg.ModelServiceURL = utils.GetEnv("MODEL_SERVICE_URL", cfg.ModelServiceURL)
	cfg.ModelTimeout = utils.GetEnvDuration("MODEL_SERVICE_TIMEOUT", cfg.ModelTimeout)

	cfg.CachePath = utils.GetEnv("ANALYSIS_CACHE_PATH", cfg.CachePath)
	cfg.CacheMaxAge = utils.GetEnvDuration("ANALYSIS_CACHE_MAX_AGE", cfg.CacheMaxAge)
	return cfg
}

// Validate checks the analysis defaults and the classifier selection.
func (c Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("analysis timeout must not be negative: %s", c.Timeout)
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("cache max age must not be negative: %s", c.CacheMaxAge)
	}
	switch c.ClassifierMode {
	case ModeRules, ModeRemote:
	case ModePrototypes:
		if c.NeighborCount <= 0 {
			return fmt.Errorf("CLASSIFIER_K must be positive: %d", c.NeighborCount)
		}
	default:
		return fmt.Errorf("unknown classifier mode %q (want %s, %s or %s)",
			c.ClassifierMode, ModeRules, ModePrototypes, ModeRemote)
	}
	return nil
}
