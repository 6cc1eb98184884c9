package sonar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Analyzer runs the full pipeline for one configuration. It holds no per-run state
// and is safe for concurrent use.
type Analyzer struct {
	cfg        Config
	classifier Classifier
	logger     *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClassifier replaces the default rule classifier.
func WithClassifier(c Classifier) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.classifier = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer validates cfg and returns a ready analyzer.
func NewAnalyzer(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		cfg:        cfg,
		classifier: NewRuleClassifier(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze processes w and returns its summary. Spectra and features are computed in
// parallel over contiguous frame chunks; detection and classification run in a single
// ordered pass, so output is identical for any worker count.
//
// An expired deadline yields an error matching ErrTimeout; plain cancellation yields
// context.Canceled.
func (a *Analyzer) Analyze(ctx context.Context, w Waveform) (*AnalysisResult, error) {
	if w.Len() == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	started := time.Now()
	segmenter, err := NewSegmenter(a.cfg.FrameSize, a.cfg.HopSize)
	if err != nil {
		return nil, err
	}
	transformer, err := NewTransformer(a.cfg.FrameSize, w.SampleRate())
	if err != nil {
		return nil, err
	}
	extractor := NewFeatureExtractor(a.cfg)
	cepstrum, err := NewMFCC(a.cfg.FrameSize, w.SampleRate(), MFCCCoefficients, melBands)
	if err != nil {
		return nil, err
	}

	frames, spectrum, err := a.extract(ctx, w, segmenter, transformer, extractor, cepstrum)
	if err != nil {
		return nil, err
	}

	detector := NewEventDetector(a.cfg, w.SampleRate(), w.Duration())
	state := detector.Seed(frames)
	var candidates []Candidate
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}
		var closed *Candidate
		state, closed = detector.Step(state, f)
		if closed != nil {
			candidates = append(candidates, *closed)
		}
	}
	if _, closed := detector.Finish(state); closed != nil {
		candidates = append(candidates, *closed)
	}

	events := make([]SoundEvent, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}
		cls := sanitize(a.classifier.Classify(ctx, eventFeatures(c, w, a.cfg.DecibelFloor)))
		events = append(events, newSoundEvent(c, cls))
	}

	points := DecimateSpectrum(spectrum.Points(), a.cfg.MaxSpectrumPoints)
	result, err := Aggregate(w, frames, events, points, a.cfg.DecibelFloor)
	if err != nil {
		return nil, err
	}

	a.logger.DebugContext(ctx, "analysis complete",
		slog.Int("frames", len(frames)),
		slog.Int("events", len(events)),
		slog.Float64("duration", result.Duration),
		slog.Duration("elapsed", time.Since(started)))

	return result, nil
}

// extract computes features for every frame and the merged peak-hold spectrum.
func (a *Analyzer) extract(ctx context.Context, w Waveform, seg *Segmenter, tr *Transformer, fe *FeatureExtractor, mfcc *MFCC) ([]FrameFeatures, *spectrumAccumulator, error) {
	total := seg.Count(w.Len())
	features := make([]FrameFeatures, total)

	workers := a.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(1, min(workers, total))
	chunkSize := (total + workers - 1) / workers
	chunks := (total + chunkSize - 1) / chunkSize
	accumulators := make([]*spectrumAccumulator, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c := 0; c < chunks; c++ {
		lo := c * chunkSize
		hi := min(lo+chunkSize, total)
		g.Go(func() error {
			acc := newSpectrumAccumulator(tr.BinCount(), tr.BinWidth())
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				frame := seg.At(w, i)
				spectrum := tr.Transform(frame)
				features[i] = fe.Extract(frame, spectrum)
				features[i].MFCC = mfcc.Compute(spectrum.Magnitudes)
				acc.Observe(spectrum)
			}
			accumulators[c] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// the parent context carries the real cause; gctx is cancelled as a side effect
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, contextError(ctxErr)
		}
		return nil, nil, contextError(err)
	}

	merged := newSpectrumAccumulator(tr.BinCount(), tr.BinWidth())
	for _, acc := range accumulators {
		merged.Merge(acc)
	}
	return features, merged, nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("analysis cancelled: %w", err)
}
