package facescan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/detection"
	"livecheck/internal/events"
	"livecheck/internal/evidence"
	dErrors "livecheck/pkg/domain-errors"
)

// Metrics receives scan outcomes.
type Metrics interface {
	ObserveScan(d time.Duration, liveness, quality float64)
}

// Update is reported to the progress observer when a step starts.
type Update struct {
	Index int
	Total int
	Step  Step
}

// Scanner samples each step for a fixed duration, retains every Nth sampled
// frame as evidence and derives all estimates once the last step is done.
type Scanner struct {
	detector     detection.Detector
	clock        capture.Clock
	publisher    events.Publisher
	logger       *slog.Logger
	metrics      Metrics
	stepDuration time.Duration
	sampleRate   int
	stride       int
	capacity     int
	scoring      ScoreParams
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithClock(c capture.Clock) Option {
	return func(s *Scanner) { s.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Scanner) { s.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

func WithStepDuration(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.stepDuration = d
		}
	}
}

func WithSampleRate(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.sampleRate = n
		}
	}
}

// WithEvidenceStride retains every n-th sampled frame.
func WithEvidenceStride(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.stride = n
		}
	}
}

// WithEvidenceCap bounds retained frames; it never exceeds evidence.MaxFrames.
func WithEvidenceCap(n int) Option {
	return func(s *Scanner) { s.capacity = n }
}

func WithScoreParams(p ScoreParams) Option {
	return func(s *Scanner) { s.scoring = p }
}

// NewScanner creates a scanner over detector.
func NewScanner(detector detection.Detector, opts ...Option) *Scanner {
	s := &Scanner{
		detector:     detector,
		clock:        capture.RealClock(),
		publisher:    events.Nop{},
		logger:       slog.Default(),
		stepDuration: 2 * time.Second,
		sampleRate:   30,
		stride:       10,
		capacity:     evidence.MaxFrames,
		scoring:      DefaultScoreParams(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stepAccumulator collects raw observations for one step.
type stepAccumulator struct {
	step       Step
	samples    int
	detections int
	confSum    float64
	poses      []detection.HeadPose
}

// Run scans the steps in order. observe may be nil. On cancellation all
// collected state is discarded and ctx.Err() is returned.
func (s *Scanner) Run(ctx context.Context, sessionID string, src capture.FrameSource, steps []Step, observe func(Update)) (*Result, error) {
	if len(steps) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one scan step is required")
	}
	for i, st := range steps {
		if !st.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("scan step %d: unknown step %q", i, st))
		}
	}
	if observe == nil {
		observe = func(Update) {}
	}

	started := s.clock.Now()
	buf := evidence.NewBuffer(s.capacity)
	hist := &history{}
	accs := make([]*stepAccumulator, 0, len(steps))
	sampled := 0

	for i, st := range steps {
		observe(Update{Index: i, Total: len(steps), Step: st})
		acc := &stepAccumulator{step: st}
		accs = append(accs, acc)
		if err := s.runStep(ctx, src, acc, buf, hist, &sampled); err != nil {
			return nil, err
		}
	}

	res := s.derive(accs, hist, buf.Frames())
	res.Duration = s.clock.Now().Sub(started)

	if s.metrics != nil {
		s.metrics.ObserveScan(res.Duration, res.LivenessScore, res.QualityScore)
	}
	err := s.publisher.Publish(ctx, events.New(events.ScanCompleted, sessionID, s.clock.Now(), map[string]any{
		"liveness_score":  res.LivenessScore,
		"quality_score":   res.QualityScore,
		"evidence_frames": len(res.EvidenceFrames),
		"pose_spread":     res.PoseSpread,
	}))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish scan event", "error", err, "session_id", sessionID)
	}
	return res, nil
}

func (s *Scanner) runStep(ctx context.Context, src capture.FrameSource, acc *stepAccumulator, buf *evidence.Buffer, hist *history, sampled *int) error {
	interval := time.Second / time.Duration(s.sampleRate)
	start := s.clock.Now()
	var lastSeq uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.clock.Now().Sub(start) >= s.stepDuration {
			return nil
		}

		if frame, ok := src.CurrentFrame(); ok && frame.Sequence != lastSeq {
			lastSeq = frame.Sequence
			det, err := s.detector.Detect(ctx, frame)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.WarnContext(ctx, "detector failed during scan step",
					"step", string(acc.step),
					"error", err,
				)
				det = nil
			}
			at := s.clock.Now()
			if at.Sub(start) >= s.stepDuration {
				return nil
			}

			acc.samples++
			*sampled++
			if det != nil {
				acc.detections++
				acc.confSum += det.Confidence
				hist.add(acc.step, at, det)
				if det.Signals != nil {
					acc.poses = append(acc.poses, det.Signals.Pose)
				}
			}
			if *sampled%s.stride == 0 {
				buf.Add(evidence.NewCaptureFrame(string(acc.step), frame, det))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(interval):
		}
	}
}
