package facescan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"livecheck/internal/capture"
	"livecheck/internal/detection"
	"livecheck/internal/events"
	"livecheck/internal/evidence"
	dErrors "livecheck/pkg/domain-errors"
	"livecheck/pkg/testutil"
)

type streamSource struct {
	seq       uint64
	sharpness float64
}

func (s *streamSource) CurrentFrame() (*capture.Frame, bool) {
	s.seq++
	return &capture.Frame{Sequence: s.seq, Format: "png", Sharpness: s.sharpness, Data: []byte{byte(s.seq)}}, true
}

// frontalLandmarks places eye centres 30px apart and the mouth line 30px below.
func frontalLandmarks() []detection.Point {
	lm := make([]detection.Point, 68)
	for i := 0; i < 6; i++ {
		lm[36+i] = detection.Point{X: 35, Y: 50}
		lm[42+i] = detection.Point{X: 65, Y: 50}
	}
	lm[48] = detection.Point{X: 38, Y: 80}
	lm[54] = detection.Point{X: 62, Y: 80}
	return lm
}

func posed(yaw, pitch float64) *detection.FeatureDetection {
	return &detection.FeatureDetection{
		Region:     detection.Region{Width: 60, Height: 75},
		Landmarks:  frontalLandmarks(),
		Confidence: 0.9,
		Signals: &detection.Signals{
			EyeOpenness: 0.3,
			Smile:       0.1,
			Pose:        detection.HeadPose{Yaw: yaw, Pitch: pitch},
		},
	}
}

func times(det *detection.FeatureDetection, n int) []*detection.FeatureDetection {
	out := make([]*detection.FeatureDetection, n)
	for i := range out {
		out[i] = det
	}
	return out
}

// naturalScript follows the default steps at 10 samples per step.
func naturalScript() []*detection.FeatureDetection {
	var s []*detection.FeatureDetection
	s = append(s, times(posed(0, 0), 10)...)
	s = append(s, times(posed(20, 0), 10)...)
	s = append(s, times(posed(-20, 0), 10)...)
	s = append(s, times(posed(0, 15), 10)...)
	s = append(s, times(posed(0, 0), 10)...)
	return s
}

type ScannerSuite struct {
	suite.Suite
	clock     *testutil.StepClock
	publisher *events.MemoryPublisher
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) SetupTest() {
	s.clock = testutil.NewStepClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.publisher = events.NewMemoryPublisher()
}

func (s *ScannerSuite) newScanner(d detection.Detector, opts ...Option) *Scanner {
	base := []Option{
		WithClock(s.clock),
		WithPublisher(s.publisher),
		WithSampleRate(10),
		WithStepDuration(time.Second),
	}
	return NewScanner(d, append(base, opts...)...)
}

func (s *ScannerSuite) TestNaturalMovement() {
	sc := s.newScanner(detection.NewScripted(naturalScript()...))

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{sharpness: 0.8}, DefaultSteps(), nil)
	s.Require().NoError(err)

	s.Require().Len(res.Steps, 5)
	for _, st := range res.Steps {
		s.Equal(10, st.Samples)
		s.Equal(10, st.Detections)
		s.Require().NotNil(st.MeanPose)
	}
	s.Equal(20.0, res.Steps[1].MeanPose.Yaw)
	s.InDelta(14.0, res.PoseSpread, 1e-9)
	s.InDelta(20+80*11.0/12.0, res.LivenessScore, 1e-9)
	s.InDelta(85.0, res.QualityScore, 1e-9)
	s.Len(res.HeadPoseTrace, 50)
	s.Len(res.EvidenceFrames, 5, "every 10th of 50 samples")
	s.Equal(5*time.Second, res.Duration)

	s.Equal(20, res.Geometry.Samples, "geometry from the center steps only")
	s.InDelta(0.5, res.Geometry.EyeSpanRatio, 1e-9)
	s.InDelta(1.0, res.Geometry.EyeMouthRatio, 1e-9)
	s.InDelta(1.25, res.Geometry.AspectRatio, 1e-9)
	s.InDelta(0.1, res.Expression.Smile, 1e-9)

	s.Len(s.publisher.OfType(events.ScanCompleted), 1)
}

func (s *ScannerSuite) TestStaticPresentationScoresLow() {
	sc := s.newScanner(detection.NewScripted(posed(0.5, 0)))

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{sharpness: 0.8}, DefaultSteps(), nil)
	s.Require().NoError(err)

	s.Equal(0.0, res.PoseSpread)
	s.Equal(0.0, res.LivenessScore)
}

func (s *ScannerSuite) TestStepWithoutDetectionsFallsBack() {
	script := naturalScript()
	for i := 10; i < 20; i++ {
		script[i] = nil
	}
	sc := s.newScanner(detection.NewScripted(script...))

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{sharpness: 0.8}, DefaultSteps(), nil)
	s.Require().NoError(err)

	left := res.Steps[1]
	s.Equal(0, left.Detections)
	s.Equal(0.2, left.MeanConfidence)
	s.Nil(left.MeanPose)
	s.Greater(res.LivenessScore, 0.0)
	// yaw means [0,-20,0,0] and pitch means [0,0,15,0]
	s.InDelta(LivenessFromSpread(res.PoseSpread, DefaultScoreParams())*4/5, res.LivenessScore, 1e-9)
}

func (s *ScannerSuite) TestNoFaceAtAll() {
	sc := s.newScanner(detection.NewScripted(nil))

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{}, DefaultSteps(), nil)
	s.Require().NoError(err)

	s.Equal(0.0, res.LivenessScore)
	s.InDelta(10.0, res.QualityScore, 1e-9, "fallback confidence with zero sharpness")
	s.Empty(res.HeadPoseTrace)
	s.Equal(0, res.Geometry.Samples)
}

func (s *ScannerSuite) TestEvidenceCapHolds() {
	sc := s.newScanner(detection.NewScripted(posed(0, 0)),
		WithSampleRate(30),
		WithStepDuration(2*time.Second),
		WithEvidenceStride(1),
		WithEvidenceCap(50),
	)

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{sharpness: 0.5}, DefaultSteps(), nil)
	s.Require().NoError(err)
	s.Len(res.EvidenceFrames, evidence.MaxFrames)

	steps := map[string]int{}
	for _, f := range res.EvidenceFrames {
		steps[f.Step]++
	}
	s.Len(steps, 4, "eviction keeps frames from every distinct step")
}

func (s *ScannerSuite) TestSampleReturningAfterStepEndIsDropped() {
	script := detection.NewScripted(posed(0, 0))
	slow := detection.DetectorFunc(func(ctx context.Context, f *capture.Frame) (*detection.FeatureDetection, error) {
		det, err := script.Detect(ctx, f)
		if script.Calls() == 5 {
			s.clock.Advance(2 * time.Second)
		}
		return det, err
	})
	sc := s.newScanner(slow, WithEvidenceStride(1))

	res, err := sc.Run(context.Background(), "sess-1", &streamSource{sharpness: 0.8}, []Step{StepCenter}, nil)
	s.Require().NoError(err)

	s.Require().Len(res.Steps, 1)
	s.Equal(4, res.Steps[0].Samples)
	s.Equal(4, res.Steps[0].Detections)
	s.Len(res.HeadPoseTrace, 4)
	s.Len(res.EvidenceFrames, 4)
	s.Equal(5, script.Calls())
}

func (s *ScannerSuite) TestObserverAndCancellation() {
	sc := s.newScanner(detection.NewScripted(naturalScript()...))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []Step
	res, err := sc.Run(ctx, "sess-1", &streamSource{}, DefaultSteps(), func(u Update) {
		s.Equal(5, u.Total)
		seen = append(seen, u.Step)
		if u.Index == 2 {
			cancel()
		}
	})
	s.ErrorIs(err, context.Canceled)
	s.Nil(res)
	s.Equal([]Step{StepCenter, StepLeft, StepRight}, seen)
	s.Empty(s.publisher.OfType(events.ScanCompleted))
}

func (s *ScannerSuite) TestRejectsInvalidSteps() {
	sc := s.newScanner(detection.NewScripted())
	_, err := sc.Run(context.Background(), "sess-1", &streamSource{}, nil, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = sc.Run(context.Background(), "sess-1", &streamSource{}, []Step{"up"}, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestLivenessFromSpread(t *testing.T) {
	p := DefaultScoreParams()
	tests := []struct {
		spread float64
		want   float64
	}{
		{0, 0},
		{1.5, 10},
		{3, 20},
		{9, 60},
		{15, 100},
		{40, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, LivenessFromSpread(tt.spread, p), 1e-9, "spread %v", tt.spread)
	}
}

func TestQualityFromFrames(t *testing.T) {
	frame := func(sharp, conf float64) evidence.CaptureFrame {
		f := evidence.NewCaptureFrame("center", &capture.Frame{Sharpness: sharp}, &detection.FeatureDetection{Confidence: conf})
		return f
	}

	assert.InDelta(t, 20.0, QualityFromFrames(nil, 0.2), 1e-9)
	assert.InDelta(t, 85.0, QualityFromFrames([]evidence.CaptureFrame{frame(0.8, 0.9), frame(0.8, 0.9)}, 0.2), 1e-9)

	// q = 0.9 and 0.5 -> mean 0.7, std 0.2 -> 0.6
	mixed := QualityFromFrames([]evidence.CaptureFrame{frame(0.9, 0.9), frame(0.5, 0.5)}, 0.2)
	require.InDelta(t, 60.0, mixed, 1e-9)
}
