package sonar

import (
	"math"
)

// Config holds the tuning parameters of a single analysis run.
type Config struct {
	FrameSize         int     `json:"frameSize"`         // samples per analysis window
	HopSize           int     `json:"hopSize"`           // samples between window starts, <= FrameSize
	SensitivityFactor float64 `json:"sensitivityFactor"` // event threshold = noise floor * factor
	MinHoldTimeMs     float64 `json:"minHoldTimeMs"`     // sub-threshold time needed to close an event
	ReferenceDb       float64 `json:"referenceDb"`       // dB value of the RMS reference level

	DecibelFloor        float64 `json:"decibelFloor"`        // substituted for silent frames
	NoiseFloorMin       float64 `json:"noiseFloorMin"`       // lower bound of the adaptive noise floor (RMS)
	NoiseFloorAdaptRate float64 `json:"noiseFloorAdaptRate"` // EMA weight of the newest idle frame
	RolloffThreshold    float64 `json:"rolloffThreshold"`    // energy fraction for spectral rolloff
	MaxSpectrumPoints   int     `json:"maxSpectrumPoints"`   // 0 keeps every bin
	Workers             int     `json:"workers"`             // 0 uses GOMAXPROCS
}

// DefaultConfig uses 2048-sample frames with half overlap and a 2x energy trigger.
func DefaultConfig() Config {
	return Config{
		FrameSize:           2048,
		HopSize:             1024,
		SensitivityFactor:   2.0,
		MinHoldTimeMs:       100,
		ReferenceDb:         0,
		DecibelFloor:        -60,
		NoiseFloorMin:       0.001,
		NoiseFloorAdaptRate: 0.05,
		RolloffThreshold:    0.85,
		MaxSpectrumPoints:   0,
		Workers:             0,
	}
}

// Validate reports the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	switch {
	case c.FrameSize <= 0:
		return invalidField("frameSize", "must be positive")
	case c.HopSize <= 0:
		return invalidField("hopSize", "must be positive")
	case c.HopSize > c.FrameSize:
		return invalidField("hopSize", "must not exceed frameSize")
	case !(c.SensitivityFactor > 1) || math.IsInf(c.SensitivityFactor, 0):
		return invalidField("sensitivityFactor", "must be a finite value greater than 1")
	case !(c.MinHoldTimeMs >= 0) || math.IsInf(c.MinHoldTimeMs, 0):
		return invalidField("minHoldTimeMs", "must be a finite value >= 0")
	case math.IsNaN(c.ReferenceDb) || math.IsInf(c.ReferenceDb, 0):
		return invalidField("referenceDb", "must be finite")
	case !(c.DecibelFloor < 0) || math.IsInf(c.DecibelFloor, 0):
		return invalidField("decibelFloor", "must be a finite negative value")
	case !(c.NoiseFloorMin > 0) || math.IsInf(c.NoiseFloorMin, 0):
		return invalidField("noiseFloorMin", "must be positive")
	case !(c.NoiseFloorAdaptRate > 0 && c.NoiseFloorAdaptRate <= 1):
		return invalidField("noiseFloorAdaptRate", "must be in (0, 1]")
	case !(c.RolloffThreshold > 0 && c.RolloffThreshold < 1):
		return invalidField("rolloffThreshold", "must be in (0, 1)")
	case c.MaxSpectrumPoints < 0:
		return invalidField("maxSpectrumPoints", "must be >= 0")
	case c.Workers < 0:
		return invalidField("workers", "must be >= 0")
	}
	return nil
}

// referenceRMS converts ReferenceDb into a linear RMS reference.
func (c Config) referenceRMS() float64 {
	return math.Pow(10, c.ReferenceDb/20)
}

// holdFrames converts the minimum hold time into a frame count for the given rate.
func (c Config) holdFrames(sampleRate int) int {
	if sampleRate <= 0 || c.HopSize <= 0 {
		return 1
	}
	frames := int(math.Ceil(c.MinHoldTimeMs / 1000 * float64(sampleRate) / float64(c.HopSize)))
	if frames < 1 {
		return 1
	}
	return frames
}

// Overrides carries request-level options; nil fields keep the base value.
type Overrides struct {
	FrameSize         *int     `json:"frameSize,omitempty"`
	HopSize           *int     `json:"hopSize,omitempty"`
	SensitivityFactor *float64 `json:"sensitivityFactor,omitempty"`
	MinHoldTimeMs     *float64 `json:"minHoldTimeMs,omitempty"`
	ReferenceDb       *float64 `json:"referenceDb,omitempty"`
	MaxSpectrumPoints *int     `json:"maxSpectrumPoints,omitempty"`
}

// Apply returns a copy of base with every non-nil override set.
func (o *Overrides) Apply(base Config) Config {
	if o == nil {
		return base
	}
	if o.FrameSize != nil {
		base.FrameSize = *o.FrameSize
	}
	if o.HopSize != nil {
		base.HopSize = *o.HopSize
	}
	if o.SensitivityFactor != nil {
		base.SensitivityFactor = *o.SensitivityFactor
	}
	if o.MinHoldTimeMs != nil {
		base.MinHoldTimeMs = *o.MinHoldTimeMs
	}
	if o.ReferenceDb != nil {
		base.ReferenceDb = *o.ReferenceDb
	}
	if o.MaxSpectrumPoints != nil {
		base.MaxSpectrumPoints = *o.MaxSpectrumPoints
	}
	return base
}
