package remote

// Model-backed event classification
//
// Each event segment is encoded as a 16-bit mono WAV and posted to the model
// service. The best category is translated twice:
//
//   - into a forensic category name (reported as modelCategory), e.g. "dog" -> "Canine"
//   - into the fixed label set, e.g. "dog" -> Tonal
//
// Keywords are matched as case-insensitive substrings in table order. Network
// errors, empty answers or unmapped categories never fail the analysis; the
// fallback classifier decides instead.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"

	"audio-forensics/sonar"
	"audio-forensics/wav"
)

type forensicMapping struct {
	keyword  string
	category string
	label    sonar.Label
}

var forensicTable = []forensicMapping{
	{"speech", "Human Voice", sonar.LabelVoice},
	{"narration", "Monologue", sonar.LabelVoice},
	{"conversation", "Conversation", sonar.LabelVoice},
	{"scream", "Scream/Distress", sonar.LabelVoice},
	{"music", "Musical Content", sonar.LabelTonal},
	{"drum", "Percussion", sonar.LabelPercussive},
	{"guitar", "String Inst.", sonar.LabelTonal},
	{"vehicle", "Vehicle", sonar.LabelLow},
	{"truck", "Heavy Vehicle", sonar.LabelLow},
	{"engine", "Engine", sonar.LabelLow},
	{"car", "Automobile", sonar.LabelLow},
	{"siren", "Emergency Siren", sonar.LabelTonal},
	{"dog", "Canine", sonar.LabelTonal},
	{"cat", "Feline", sonar.LabelTonal},
	{"bird", "Avian", sonar.LabelTonal},
	{"gunshot", "Gunshot/Explosion", sonar.LabelPercussive},
	{"explosion", "Gunshot/Explosion", sonar.LabelPercussive},
	{"glass", "Breaking Glass", sonar.LabelPercussive},
	{"footsteps", "Footsteps", sonar.LabelPercussive},
	{"wind", "Wind Noise", sonar.LabelAmbient},
	{"rain", "Precipitation", sonar.LabelAmbient},
	{"water", "Water Sound", sonar.LabelAmbient},
	{"silence", "Silence", sonar.LabelAmbient},
	{"static", "Static", sonar.LabelHigh},
	{"noise", "Noise", sonar.LabelHigh},
}

// MapCategory returns the forensic category name and label for a model category.
// Unmapped names come back unchanged with LabelUnknown.
func MapCategory(modelCategory string) (string, sonar.Label) {
	lower := strings.ToLower(modelCategory)
	for _, m := range forensicTable {
		if strings.Contains(lower, m.keyword) {
			return m.category, m.label
		}
	}
	return modelCategory, sonar.LabelUnknown
}

// Scorer is the part of ModelClient the classifier needs.
type Scorer interface {
	ClassifyBytes(ctx context.Context, audioData []byte, filename string) ([]Category, error)
}

// Classifier sends event segments to the model service.
type Classifier struct {
	scorer     Scorer
	fallback   sonar.Classifier
	minScore   float64
	callBudget time.Duration
	logger     *slog.Logger
	onFallback func(reason string)
}

// Option configures a Classifier.
type Option func(*Classifier)

func WithFallback(fallback sonar.Classifier) Option {
	return func(c *Classifier) {
		if fallback != nil {
			c.fallback = fallback
		}
	}
}

// WithMinScore sets the model score below which the fallback decides.
func WithMinScore(score float64) Option {
	return func(c *Classifier) {
		c.minScore = score
	}
}

// WithCallTimeout bounds each model call independently of the analysis deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		c.callBudget = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFallbackHook is called with a short reason every time the fallback is used.
func WithFallbackHook(hook func(reason string)) Option {
	return func(c *Classifier) {
		c.onFallback = hook
	}
}

func NewClassifier(scorer Scorer, opts ...Option) *Classifier {
	c := &Classifier{
		scorer:     scorer,
		fallback:   sonar.NewRuleClassifier(),
		minScore:   0.1,
		callBudget: 10 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify implements sonar.Classifier.
func (c *Classifier) Classify(ctx context.Context, f sonar.EventFeatures) sonar.Classification {
	if len(f.Segment) == 0 || f.SampleRate <= 0 {
		return c.fallbackFor(ctx, f, "empty_segment", nil)
	}

	data, err := wav.EncodeBytes(f.Segment, f.SampleRate)
	if err != nil {
		return c.fallbackFor(ctx, f, "encode", err)
	}

	callCtx := ctx
	if c.callBudget > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callBudget)
		defer cancel()
	}

	filename := fmt.Sprintf("event_%08.3f.wav", f.Time)
	categories, err := c.scorer.ClassifyBytes(callCtx, data, filename)
	if err != nil {
		return c.fallbackFor(ctx, f, "request", err)
	}
	if len(categories) == 0 {
		return c.fallbackFor(ctx, f, "empty_response", nil)
	}

	top := categories[0]
	if top.Score < c.minScore {
		return c.fallbackFor(ctx, f, "low_score", nil)
	}

	forensic, label := MapCategory(top.Name)
	if label == sonar.LabelUnknown {
		// keep what the model heard even when the label comes from the rules
		result := c.fallbackFor(ctx, f, "unmapped", nil)
		result.ModelCategory = forensic
		return result
	}

	return sonar.Classification{
		Label:         label,
		Confidence:    clamp01(top.Score),
		Source:        sonar.SourceModel,
		ModelCategory: forensic,
	}
}

func (c *Classifier) fallbackFor(ctx context.Context, f sonar.EventFeatures, reason string, err error) sonar.Classification {
	if err != nil {
		c.logger.WarnContext(ctx, "model classification failed, using fallback",
			slog.String("reason", reason),
			slog.Float64("event_time", f.Time),
			slog.Any("error", xerrors.New(err)))
	}
	if c.onFallback != nil {
		c.onFallback(reason)
	}
	return c.fallback.Classify(ctx, f)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
