package sonar

// Prototype Classifier
//
// A k-nearest-neighbour matcher over labelled example events.
//
// 1. Prototype storage:
//    - Each prototype is an EventFeatures.Vector of a labelled recording
//    - A z-score scaler is fitted on the raw prototype vectors, then every
//      prototype is scaled and L2 normalised
//
// 2. Classification:
//    - The event vector goes through the same scaler and normalisation
//    - Cosine distance (1 - similarity) to every prototype, k nearest kept
//    - Weight = 1 / (distance + epsilon), confidence = label weight / total weight
//
// 3. Fallback:
//    - No prototypes, or a winning confidence under minConfidence, delegates to
//      the fallback classifier (the rule table by default)
//
// Prototypes can be added at runtime and saved back to the model file.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Prototype is one labelled reference vector.
type Prototype struct {
	ID       string            `json:"id"`
	Label    Label             `json:"label"`
	Source   string            `json:"source,omitempty"`
	Features []float64         `json:"features"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PrototypeScore captures the similarity between an event and one stored prototype.
type PrototypeScore struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Weight   float64 `json:"weight"`
}

// Prediction aggregates the nearest prototypes of one label.
type Prediction struct {
	Label         Label            `json:"label"`
	Confidence    float64          `json:"confidence"`
	AverageDist   float64          `json:"averageDistance"`
	Support       int              `json:"support"`
	TopPrototypes []PrototypeScore `json:"topPrototypes"`
}

// ModelStats summarises the loaded prototype set.
type ModelStats struct {
	PrototypeCount int              `json:"prototypeCount"`
	LabelCount     int              `json:"labelCount"`
	Labels         []ModelLabelStat `json:"labels"`
}

// ModelLabelStat summarises prototype density per label.
type ModelLabelStat struct {
	Label      Label `json:"label"`
	Prototypes int   `json:"prototypes"`
}

// zscore maps each dimension to (x - mean) / stddev of the fitted prototypes.
type zscore struct {
	mean    []float64
	inverse []float64 // 1 / stddev, 1 for constant dimensions
}

// fitZScore estimates per-dimension mean and population stddev with Welford's
// update. Vectors must share one length; fewer than two give ok == false.
func fitZScore(vectors [][]float64) (z zscore, ok bool) {
	if len(vectors) < 2 || len(vectors[0]) == 0 {
		return zscore{}, false
	}

	dims := len(vectors[0])
	mean := make([]float64, dims)
	m2 := make([]float64, dims)
	for n, v := range vectors {
		count := float64(n + 1)
		for d := range dims {
			delta := v[d] - mean[d]
			mean[d] += delta / count
			m2[d] += delta * (v[d] - mean[d])
		}
	}

	inverse := make([]float64, dims)
	for d := range dims {
		sd := math.Sqrt(m2[d] / float64(len(vectors)))
		if sd < 1e-10 {
			inverse[d] = 1
			continue
		}
		inverse[d] = 1 / sd
	}
	return zscore{mean: mean, inverse: inverse}, true
}

func (z zscore) apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for d, x := range v {
		if d < len(z.mean) {
			x = (x - z.mean[d]) * z.inverse[d]
		}
		out[d] = x
	}
	return out
}

// NormaliseVectorInPlace scales vector to unit L2 length. Zero vectors are left alone.
func NormaliseVectorInPlace(vector []float64) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	factor := 1 / math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] *= factor
	}
}

// PrototypeClassifier performs k-nearest prototype lookups in the event feature space.
type PrototypeClassifier struct {
	mu            sync.RWMutex
	prototypes    []Prototype // scaled and normalised
	raw           []Prototype // as loaded, used for Save and refitting
	k             int
	minConfidence float64
	modelPath     string
	scaler        zscore // zero value until two or more prototypes exist
	fallback      Classifier
	logger        *slog.Logger
}

type distancePair struct {
	index    int
	distance float64
}

// PrototypeOption configures a PrototypeClassifier.
type PrototypeOption func(*PrototypeClassifier)

// WithFallback replaces the rule table as the fallback classifier.
func WithFallback(fallback Classifier) PrototypeOption {
	return func(c *PrototypeClassifier) {
		if fallback != nil {
			c.fallback = fallback
		}
	}
}

// WithMinConfidence sets the winning confidence below which the fallback decides.
func WithMinConfidence(v float64) PrototypeOption {
	return func(c *PrototypeClassifier) {
		c.minConfidence = clamp01(v)
	}
}

// WithPrototypeLogger sets the logger used for load and fallback diagnostics.
func WithPrototypeLogger(logger *slog.Logger) PrototypeOption {
	return func(c *PrototypeClassifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewPrototypeClassifier builds a classifier from in-memory prototypes.
func NewPrototypeClassifier(prototypes []Prototype, k int, opts ...PrototypeOption) (*PrototypeClassifier, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}

	c := &PrototypeClassifier{
		k:             k,
		minConfidence: 0.5,
		fallback:      NewRuleClassifier(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, proto := range prototypes {
		if err := validatePrototype(proto); err != nil {
			return nil, err
		}
		c.raw = append(c.raw, clonePrototype(proto))
	}
	c.refit()
	return c, nil
}

// NewPrototypeClassifierFromFile loads prototypes from a JSON array on disk. A
// missing file yields an empty classifier that saves to path.
func NewPrototypeClassifierFromFile(path string, k int, opts ...PrototypeOption) (*PrototypeClassifier, error) {
	resolved := filepath.Clean(path)
	var prototypes []Prototype

	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to load prototypes (%s): %w", resolved, err)
	default:
		if err := json.Unmarshal(data, &prototypes); err != nil {
			return nil, fmt.Errorf("unable to parse prototypes: %w", err)
		}
	}

	c, err := NewPrototypeClassifier(prototypes, k, opts...)
	if err != nil {
		return nil, err
	}
	c.modelPath = resolved
	if len(prototypes) == 0 {
		c.logger.Warn("no prototypes loaded; classifier will use its fallback", slog.String("path", resolved))
	} else {
		c.logger.Info("prototypes loaded",
			slog.String("path", resolved),
			slog.Int("prototype_count", len(prototypes)))
	}
	return c, nil
}

func validatePrototype(proto Prototype) error {
	if len(proto.Features) != VectorSize {
		return fmt.Errorf("prototype %s has %d features, expected %d", proto.ID, len(proto.Features), VectorSize)
	}
	if !proto.Label.Valid() {
		return fmt.Errorf("prototype %s has unknown label %q", proto.ID, proto.Label)
	}
	return nil
}

func clonePrototype(proto Prototype) Prototype {
	proto.Features = append([]float64(nil), proto.Features...)
	if proto.Metadata != nil {
		meta := make(map[string]string, len(proto.Metadata))
		for key, value := range proto.Metadata {
			meta[key] = value
		}
		proto.Metadata = meta
	}
	return proto
}

// refit recomputes the scaler and the normalised prototypes from raw. Callers hold
// the write lock or own c exclusively.
func (c *PrototypeClassifier) refit() {
	vectors := make([][]float64, len(c.raw))
	for i, proto := range c.raw {
		vectors[i] = proto.Features
	}
	c.scaler, _ = fitZScore(vectors)

	c.prototypes = make([]Prototype, len(c.raw))
	for i, proto := range c.raw {
		scaled := clonePrototype(proto)
		scaled.Features = c.transform(proto.Features)
		c.prototypes[i] = scaled
	}
}

func (c *PrototypeClassifier) transform(features []float64) []float64 {
	out := c.scaler.apply(features)
	NormaliseVectorInPlace(out)
	return out
}

// AddPrototype stores a labelled vector and refits the scaler.
func (c *PrototypeClassifier) AddPrototype(proto Prototype) error {
	if err := validatePrototype(proto); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append(c.raw, clonePrototype(proto))
	c.refit()
	return nil
}

// Save persists the raw prototypes to the model file, or to path when given.
func (c *PrototypeClassifier) Save(path string) error {
	c.mu.RLock()
	if path == "" {
		path = c.modelPath
	}
	raw := make([]Prototype, len(c.raw))
	for i, proto := range c.raw {
		raw[i] = clonePrototype(proto)
	}
	c.mu.RUnlock()

	if path == "" {
		return errors.New("model path not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prototypes: %w", err)
	}

	// write then rename so a crash never leaves a truncated model
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write prototypes: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Stats returns summary metadata about the loaded prototype set.
func (c *PrototypeClassifier) Stats() ModelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buckets := make(map[Label]int)
	for _, proto := range c.raw {
		buckets[proto.Label]++
	}

	stats := make([]ModelLabelStat, 0, len(buckets))
	for label, count := range buckets {
		stats = append(stats, ModelLabelStat{Label: label, Prototypes: count})
	}
	// keep labels sorted for deterministic responses
	sort.Slice(stats, func(i, j int) bool { return stats[i].Label < stats[j].Label })

	return ModelStats{
		PrototypeCount: len(c.raw),
		LabelCount:     len(buckets),
		Labels:         stats,
	}
}

// Predict ranks labels by weighted vote of the k nearest prototypes.
func (c *PrototypeClassifier) Predict(vector []float64) ([]Prediction, error) {
	if len(vector) != VectorSize {
		return nil, fmt.Errorf("feature vector has %d dimensions, expected %d", len(vector), VectorSize)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.prototypes) == 0 {
		return []Prediction{}, nil
	}
	features := c.transform(vector)

	k := min(c.k, len(c.prototypes))

	distances := make([]distancePair, len(c.prototypes))
	for i := range c.prototypes {
		// cosine similarity in [-1, 1] becomes a distance in [0, 2]
		similarity := cosineSimilarity(features, c.prototypes[i].Features)
		distances[i] = distancePair{index: i, distance: 1 - similarity}
	}
	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	type labelStats struct {
		weightSum  float64
		distSum    float64
		count      int
		prototypes []PrototypeScore
	}
	scores := make(map[Label]*labelStats)

	var totalWeight float64
	for idx := 0; idx < k; idx++ {
		neighbor := distances[idx]
		proto := c.prototypes[neighbor.index]
		weight := 1.0 / (neighbor.distance + 1e-9)

		stats, ok := scores[proto.Label]
		if !ok {
			stats = &labelStats{}
			scores[proto.Label] = stats
		}
		stats.weightSum += weight
		stats.distSum += neighbor.distance
		stats.count++
		stats.prototypes = append(stats.prototypes, PrototypeScore{
			ID:       proto.ID,
			Distance: neighbor.distance,
			Weight:   weight,
		})
		totalWeight += weight
	}

	if totalWeight == 0 {
		return []Prediction{}, nil
	}

	predictions := make([]Prediction, 0, len(scores))
	for label, stats := range scores {
		predictions = append(predictions, Prediction{
			Label:         label,
			Confidence:    stats.weightSum / totalWeight,
			AverageDist:   stats.distSum / float64(stats.count),
			Support:       stats.count,
			TopPrototypes: stats.prototypes,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		if math.Abs(predictions[i].Confidence-predictions[j].Confidence) > 1e-9 {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		if predictions[i].AverageDist != predictions[j].AverageDist {
			return predictions[i].AverageDist < predictions[j].AverageDist
		}
		return predictions[i].Label < predictions[j].Label
	})

	return predictions, nil
}

// Classify implements Classifier.
func (c *PrototypeClassifier) Classify(ctx context.Context, f EventFeatures) Classification {
	predictions, err := c.Predict(f.Vector())
	if err != nil {
		c.logger.WarnContext(ctx, "prototype prediction failed", slog.Any("error", err))
		return c.fallback.Classify(ctx, f)
	}
	if len(predictions) == 0 || predictions[0].Confidence < c.minConfidence {
		return c.fallback.Classify(ctx, f)
	}

	top := predictions[0]
	return Classification{
		Label:      top.Label,
		Confidence: clamp01(top.Confidence),
		Source:     SourcePrototypes,
	}
}

func cosineSimilarity(a, b []float64) float64 {
	var dotProduct, normA, normB float64
	limit := min(len(a), len(b))
	for i := 0; i < limit; i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LabelFromName maps a training folder name such as "voice" or "Low Frequency_Bass"
// onto the label set.
func LabelFromName(name string) Label {
	normalized := strings.NewReplacer("_", "/", "-", " ").Replace(strings.TrimSpace(name))
	if l := ParseLabel(normalized); l != LabelUnknown {
		return l
	}
	lower := strings.ToLower(normalized)
	switch {
	case strings.Contains(lower, "voice"), strings.Contains(lower, "speech"):
		return LabelVoice
	case strings.Contains(lower, "percuss"), strings.Contains(lower, "transient"):
		return LabelPercussive
	case strings.Contains(lower, "tonal"), strings.Contains(lower, "tone"):
		return LabelTonal
	case strings.Contains(lower, "bass"), strings.Contains(lower, "low"):
		return LabelLow
	case strings.Contains(lower, "noise"), strings.Contains(lower, "high"):
		return LabelHigh
	case strings.Contains(lower, "ambient"):
		return LabelAmbient
	}
	return LabelUnknown
}
