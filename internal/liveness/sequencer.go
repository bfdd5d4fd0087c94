package liveness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/detection"
	"livecheck/internal/events"
	"livecheck/internal/evidence"
)

// Metrics receives per-challenge outcomes.
type Metrics interface {
	ObserveChallenge(kind, status string, elapsed time.Duration)
}

// Update is reported to the progress observer on every state change.
type Update struct {
	Index     int
	Total     int
	Challenge Challenge
	Status    Status
}

// Outcome is the result of a full challenge sequence.
type Outcome struct {
	Results []Result
	// Selfie is the last frame whose detection confidence reached the selfie
	// threshold, or the most confident detected frame when none did.
	Selfie *evidence.CaptureFrame
	Score  float64
}

// Sequencer runs challenges one at a time in a single cooperative sampling
// loop: pull the current frame, detect, feed the active predicate, wait.
// A challenge that misses its deadline is marked timed out and the sequence
// moves on.
type Sequencer struct {
	detector   detection.Detector
	clock      capture.Clock
	publisher  events.Publisher
	logger     *slog.Logger
	metrics    Metrics
	params     Params
	grace      time.Duration
	sampleRate int
	selfieMin  float64
}

// Option configures a Sequencer.
type Option func(*Sequencer)

func WithClock(c capture.Clock) Option {
	return func(s *Sequencer) { s.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Sequencer) { s.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

func WithParams(p Params) Option {
	return func(s *Sequencer) { s.params = p }
}

// WithGracePeriod sets how long past MaxDuration a challenge may run.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Sequencer) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithSampleRate sets samples per second.
func WithSampleRate(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.sampleRate = n
		}
	}
}

// WithSelfieThreshold sets the confidence a frame needs to become the selfie.
func WithSelfieThreshold(c float64) Option {
	return func(s *Sequencer) { s.selfieMin = c }
}

// NewSequencer creates a sequencer over detector.
func NewSequencer(detector detection.Detector, opts ...Option) *Sequencer {
	s := &Sequencer{
		detector:   detector,
		clock:      capture.RealClock(),
		publisher:  events.Nop{},
		logger:     slog.Default(),
		params:     DefaultParams(),
		grace:      time.Second,
		sampleRate: 30,
		selfieMin:  0.8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the challenges in order against src. observe may be nil.
// On cancellation the partial state is discarded and ctx.Err() is returned.
func (s *Sequencer) Run(ctx context.Context, sessionID string, src capture.FrameSource, challenges []Challenge, observe func(Update)) (*Outcome, error) {
	if err := ValidateChallenges(challenges); err != nil {
		return nil, err
	}
	if observe == nil {
		observe = func(Update) {}
	}

	sel := &selfiePicker{min: s.selfieMin}
	results := make([]Result, 0, len(challenges))
	for i, ch := range challenges {
		observe(Update{Index: i, Total: len(challenges), Challenge: ch, Status: StatusAwaitingStart})
		res, err := s.runChallenge(ctx, src, ch, sel, func(st Status) {
			observe(Update{Index: i, Total: len(challenges), Challenge: ch, Status: st})
		})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		s.report(ctx, sessionID, res)
	}

	return &Outcome{
		Results: results,
		Selfie:  sel.frame(),
		Score:   Score(results),
	}, nil
}

func (s *Sequencer) runChallenge(ctx context.Context, src capture.FrameSource, ch Challenge, sel *selfiePicker, notify func(Status)) (Result, error) {
	pred := newPredicate(ch.Kind, s.params)
	interval := time.Second / time.Duration(s.sampleRate)
	deadline := ch.MaxDuration + s.grace

	start := s.clock.Now()
	res := Result{Challenge: ch, Status: StatusSampling, StartedAt: start}
	notify(StatusSampling)

	var lastSeq uint64
	var confSum float64
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		now := s.clock.Now()
		res.Elapsed = now.Sub(start)
		if res.Elapsed >= deadline {
			res.Status = StatusTimedOut
			res.Confidence = 0
			notify(StatusTimedOut)
			return res, nil
		}

		if frame, ok := src.CurrentFrame(); ok && frame.Sequence != lastSeq {
			lastSeq = frame.Sequence
			det, err := s.detector.Detect(ctx, frame)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Result{}, ctxErr
				}
				// Detector failures degrade to "no face" for this sample.
				s.logger.WarnContext(ctx, "detector failed during challenge",
					"challenge", string(ch.Kind),
					"error", err,
				)
				det = nil
			}
			// A detection that returns past the deadline is discarded.
			at := s.clock.Now()
			if at.Sub(start) >= deadline {
				res.Elapsed = at.Sub(start)
				res.Status = StatusTimedOut
				res.Confidence = 0
				notify(StatusTimedOut)
				return res, nil
			}
			if det != nil {
				res.SampleCount++
				confSum += det.Confidence
				sel.offer(frame, det)
			}
			if pred.observe(at, det) {
				res.Status = StatusCompleted
				res.Detected = true
				res.CompletedAt = at
				res.Elapsed = at.Sub(start)
				res.Confidence = clamp01(confSum / float64(res.SampleCount))
				notify(StatusCompleted)
				return res, nil
			}
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-s.clock.After(interval):
		}
	}
}

func (s *Sequencer) report(ctx context.Context, sessionID string, res Result) {
	t := events.ChallengeCompleted
	if res.Status == StatusTimedOut {
		t = events.ChallengeTimedOut
	}
	if s.metrics != nil {
		s.metrics.ObserveChallenge(string(res.Challenge.Kind), string(res.Status), res.Elapsed)
	}
	err := s.publisher.Publish(ctx, events.New(t, sessionID, s.clock.Now(), map[string]any{
		"kind":         string(res.Challenge.Kind),
		"elapsed_ms":   res.Elapsed.Milliseconds(),
		"sample_count": res.SampleCount,
		"confidence":   res.Confidence,
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "failed to publish challenge event", "error", err, "session_id", sessionID)
	}
}

type selfiePicker struct {
	min      float64
	last     *evidence.CaptureFrame
	best     *evidence.CaptureFrame
	bestConf float64
}

func (p *selfiePicker) offer(frame *capture.Frame, det *detection.FeatureDetection) {
	if det.Confidence >= p.min {
		f := evidence.NewCaptureFrame("selfie", frame, det)
		p.last = &f
		return
	}
	if p.best == nil || det.Confidence > p.bestConf {
		f := evidence.NewCaptureFrame("selfie", frame, det)
		p.best, p.bestConf = &f, det.Confidence
	}
}

func (p *selfiePicker) frame() *evidence.CaptureFrame {
	if p.last != nil {
		return p.last
	}
	return p.best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
