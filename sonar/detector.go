package sonar

// Event Detection
//
// A two-state machine (Idle, InEvent) runs over the ordered frame features.
//
//   threshold = max(noiseFloor, NoiseFloorMin) * SensitivityFactor
//
// Idle -> InEvent when a frame's RMS rises above the threshold. InEvent -> Idle once
// holdFrames consecutive frames stay at or below it, so short dips inside one sound
// do not split it.
//
// Seed starts the noise floor at a low percentile of the recording's frame RMS, so a
// steady background louder than NoiseFloorMin is not mistaken for one long event.
// When nothing in the recording rises above sensitivity times that level there is no
// background to learn from and the floor starts at NoiseFloorMin.
//
// While Idle the floor is an exponential moving average of RMS. During an event it
// creeps toward the event level at a small fraction of that rate: short sounds cannot
// raise their own threshold, but a level that holds for many seconds turns into
// background and closes the event.
//
// All state lives in DetectorState. Step takes a state and returns the next one, so
// the detector itself holds no mutable fields and can be shared between analyses.

import (
	"math"
	"slices"
)

const (
	seedPercentile = 0.1
	// eventFloorCreep scales NoiseFloorAdaptRate while InEvent.
	eventFloorCreep = 0.02
)

// DetectorPhase is the state machine position.
type DetectorPhase int

const (
	Idle DetectorPhase = iota
	InEvent
)

func (p DetectorPhase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InEvent:
		return "in_event"
	default:
		return "unknown"
	}
}

// Candidate is a detected event span plus the loudest frame observed inside it.
type Candidate struct {
	Onset  float64       // start of the first active frame, seconds
	End    float64       // end of the last active frame, capped at the waveform duration
	Frames int           // active (above threshold) frames
	Peak   FrameFeatures // snapshot of the loudest active frame
}

// Duration of the span in seconds.
func (c Candidate) Duration() float64 {
	return math.Max(0, c.End-c.Onset)
}

// DetectorState is the accumulator threaded through Step.
type DetectorState struct {
	Phase      DetectorPhase
	NoiseFloor float64
	BelowRun   int       // consecutive sub-threshold frames while InEvent
	Open       Candidate // meaningful only while InEvent
}

// EventDetector holds the immutable detection parameters for one waveform.
type EventDetector struct {
	sensitivity   float64
	noiseFloorMin float64
	adaptRate     float64
	holdFrames    int
	frameSeconds  float64
	duration      float64
}

// NewEventDetector derives detection parameters from cfg for a signal of the given
// sample rate and duration. cfg is expected to be validated.
func NewEventDetector(cfg Config, sampleRate int, duration float64) *EventDetector {
	frameSeconds := 0.0
	if sampleRate > 0 {
		frameSeconds = float64(cfg.FrameSize) / float64(sampleRate)
	}
	return &EventDetector{
		sensitivity:   cfg.SensitivityFactor,
		noiseFloorMin: cfg.NoiseFloorMin,
		adaptRate:     cfg.NoiseFloorAdaptRate,
		holdFrames:    cfg.holdFrames(sampleRate),
		frameSeconds:  frameSeconds,
		duration:      duration,
	}
}

// HoldFrames is the number of quiet frames that close an event.
func (d *EventDetector) HoldFrames() int {
	return d.holdFrames
}

// Initial is the state before the first frame with no knowledge of the recording.
func (d *EventDetector) Initial() DetectorState {
	return DetectorState{Phase: Idle, NoiseFloor: d.noiseFloorMin}
}

// Seed is the state before the first frame, with the noise floor estimated from frames.
func (d *EventDetector) Seed(frames []FrameFeatures) DetectorState {
	s := d.Initial()
	if len(frames) == 0 {
		return s
	}

	levels := make([]float64, len(frames))
	for i, f := range frames {
		levels[i] = f.RMS
	}
	slices.Sort(levels)
	floor := levels[int(seedPercentile*float64(len(levels)-1))]
	loudest := levels[len(levels)-1]

	if floor > d.noiseFloorMin && floor*d.sensitivity < loudest {
		s.NoiseFloor = floor
	}
	return s
}

// Threshold is the RMS level a frame must exceed to be active in state s.
func (d *EventDetector) Threshold(s DetectorState) float64 {
	return math.Max(s.NoiseFloor, d.noiseFloorMin) * d.sensitivity
}

// Step consumes one frame. When the frame closes an event the finished candidate is
// returned alongside the next state.
func (d *EventDetector) Step(s DetectorState, f FrameFeatures) (DetectorState, *Candidate) {
	threshold := d.Threshold(s)
	active := f.RMS > threshold

	switch s.Phase {
	case Idle:
		if active {
			s.Phase = InEvent
			s.BelowRun = 0
			s.Open = Candidate{
				Onset:  f.Start,
				End:    d.frameEnd(f),
				Frames: 1,
				Peak:   f,
			}
			return s, nil
		}
		s.NoiseFloor = (1-d.adaptRate)*s.NoiseFloor + d.adaptRate*f.RMS
		return s, nil

	case InEvent:
		s.NoiseFloor += d.adaptRate * eventFloorCreep * (f.RMS - s.NoiseFloor)
		if active {
			s.BelowRun = 0
			s.Open.Frames++
			s.Open.End = d.frameEnd(f)
			// strict comparison keeps the earliest frame on equal loudness
			if f.RMS > s.Open.Peak.RMS {
				s.Open.Peak = f
			}
			return s, nil
		}
		s.BelowRun++
		if s.BelowRun < d.holdFrames {
			return s, nil
		}
		closed := s.Open
		s.Phase = Idle
		s.BelowRun = 0
		s.Open = Candidate{}
		return s, &closed
	}
	return s, nil
}

// Finish closes an event that is still open at the end of input.
func (d *EventDetector) Finish(s DetectorState) (DetectorState, *Candidate) {
	if s.Phase != InEvent {
		return s, nil
	}
	closed := s.Open
	s.Phase = Idle
	s.BelowRun = 0
	s.Open = Candidate{}
	return s, &closed
}

// Detect runs the state machine over every frame in order.
func (d *EventDetector) Detect(frames []FrameFeatures) []Candidate {
	var candidates []Candidate
	state := d.Seed(frames)
	for _, f := range frames {
		var closed *Candidate
		state, closed = d.Step(state, f)
		if closed != nil {
			candidates = append(candidates, *closed)
		}
	}
	if _, closed := d.Finish(state); closed != nil {
		candidates = append(candidates, *closed)
	}
	return candidates
}

func (d *EventDetector) frameEnd(f FrameFeatures) float64 {
	end := f.Start + d.frameSeconds
	if d.duration > 0 && end > d.duration {
		return d.duration
	}
	return end
}
