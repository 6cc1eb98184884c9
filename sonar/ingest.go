package sonar

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"sync"
)

// ErrNoEvents reports a recording in which the detector found nothing to learn from.
var ErrNoEvents = errors.New("no sound events detected")

// recordingClassifier remembers the features of every event it classifies.
type recordingClassifier struct {
	mu    sync.Mutex
	inner Classifier
	seen  []EventFeatures
}

func (r *recordingClassifier) Classify(ctx context.Context, f EventFeatures) Classification {
	r.mu.Lock()
	r.seen = append(r.seen, f)
	r.mu.Unlock()
	return r.inner.Classify(ctx, f)
}

// BuildPrototype analyzes w with cfg and turns its loudest event into a prototype.
// Use the same cfg as live analysis so prototype and event vectors stay comparable.
func BuildPrototype(ctx context.Context, cfg Config, w Waveform, label Label, source string) (Prototype, error) {
	if !label.Valid() {
		return Prototype{}, fmt.Errorf("invalid label %q", label)
	}

	rec := &recordingClassifier{inner: NewRuleClassifier()}
	analyzer, err := NewAnalyzer(cfg, WithClassifier(rec))
	if err != nil {
		return Prototype{}, err
	}
	if _, err := analyzer.Analyze(ctx, w); err != nil {
		return Prototype{}, err
	}
	if len(rec.seen) == 0 {
		return Prototype{}, ErrNoEvents
	}

	loudest := rec.seen[0]
	for _, f := range rec.seen[1:] {
		if f.Decibels > loudest.Decibels {
			loudest = f
		}
	}

	return Prototype{
		ID:       buildPrototypeID(label, source),
		Label:    label,
		Source:   source,
		Features: loudest.Vector(),
		Metadata: map[string]string{
			"time":     strconv.FormatFloat(loudest.Time, 'f', 3, 64),
			"duration": strconv.FormatFloat(loudest.Duration, 'f', 3, 64),
			"decibels": strconv.FormatFloat(loudest.Decibels, 'f', 1, 64),
			"events":   strconv.Itoa(len(rec.seen)),
		},
	}, nil
}

func buildPrototypeID(label Label, source string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 32
		case r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '/':
			return '_'
		default:
			return -1
		}
	}, string(label))

	if safe == "" {
		safe = "prototype"
	}

	return fmt.Sprintf("proto_%s_%08x", safe, crc32.ChecksumIEEE([]byte(source)))
}
