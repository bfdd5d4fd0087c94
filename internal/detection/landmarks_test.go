package detection

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecheck/internal/capture"
)

// frontalFace builds a level, neutral 68-point face: eye centres 30px apart
// at y=50, mouth line at y=80, nose tip at the neutral ratio.
func frontalFace() []Point {
	lm := make([]Point, landmarkCount)
	copy(lm[rightEyeStart:], []Point{{30, 50}, {33, 48.5}, {37, 48.5}, {40, 50}, {37, 51.5}, {33, 51.5}})
	copy(lm[leftEyeStart:], []Point{{60, 50}, {63, 48.5}, {67, 48.5}, {70, 50}, {67, 51.5}, {63, 51.5}})
	lm[noseTip] = Point{50, 50 + neutralNoseRatio*30}
	lm[mouthLeft] = Point{38, 80}
	lm[mouthRight] = Point{62, 80}
	lm[innerLipTop] = Point{50, 80}
	lm[innerLipBottom] = Point{50, 80}
	return lm
}

func TestEyeAspectRatio(t *testing.T) {
	lm := frontalFace()
	assert.InDelta(t, 0.3, EyeAspectRatio(lm[rightEyeStart:rightEyeStart+6]), 1e-9)

	closed := []Point{{30, 50}, {33, 50}, {37, 50}, {40, 50}, {37, 50}, {33, 50}}
	assert.Equal(t, 0.0, EyeAspectRatio(closed))
	assert.Equal(t, 0.0, EyeAspectRatio(closed[:4]))
}

func TestSignalsFromLandmarks(t *testing.T) {
	t.Run("frontal neutral face", func(t *testing.T) {
		s, ok := SignalsFromLandmarks(frontalFace())
		require.True(t, ok)
		assert.InDelta(t, 0.3, s.EyeOpenness, 1e-9)
		assert.InDelta(t, 0.0, s.Smile, 1e-9)
		assert.InDelta(t, 0.0, s.Pose.Yaw, 1e-9)
		assert.InDelta(t, 0.0, s.Pose.Pitch, 1e-9)
		assert.InDelta(t, 0.0, s.Pose.Roll, 1e-9)
	})

	t.Run("nose offset toward image right is positive yaw", func(t *testing.T) {
		lm := frontalFace()
		lm[noseTip].X = 50 + 15*math.Sin(20*math.Pi/180)
		s, ok := SignalsFromLandmarks(lm)
		require.True(t, ok)
		assert.InDelta(t, 20.0, s.Pose.Yaw, 1e-6)
	})

	t.Run("nose dropping toward mouth is positive pitch", func(t *testing.T) {
		lm := frontalFace()
		lm[noseTip].Y += 3
		s, ok := SignalsFromLandmarks(lm)
		require.True(t, ok)
		assert.InDelta(t, 9.0, s.Pose.Pitch, 1e-6)
	})

	t.Run("wide mouth is a full smile", func(t *testing.T) {
		lm := frontalFace()
		lm[mouthLeft].X = 33.5
		lm[mouthRight].X = 66.5
		s, ok := SignalsFromLandmarks(lm)
		require.True(t, ok)
		assert.Equal(t, 1.0, s.Smile)
	})

	t.Run("non 68-point layouts are rejected", func(t *testing.T) {
		_, ok := SignalsFromLandmarks(make([]Point, 5))
		assert.False(t, ok)
	})
}

func TestDerive(t *testing.T) {
	ctx := context.Background()
	frame := &capture.Frame{}

	t.Run("fills missing signals", func(t *testing.T) {
		d := Derive(NewScripted(&FeatureDetection{Landmarks: frontalFace(), Confidence: 0.9}))
		det, err := d.Detect(ctx, frame)
		require.NoError(t, err)
		require.NotNil(t, det.Signals)
		assert.InDelta(t, 0.3, det.Signals.EyeOpenness, 1e-9)
	})

	t.Run("keeps supplied signals", func(t *testing.T) {
		supplied := &Signals{Smile: 0.7}
		d := Derive(NewScripted(&FeatureDetection{Landmarks: frontalFace(), Signals: supplied}))
		det, err := d.Detect(ctx, frame)
		require.NoError(t, err)
		assert.Equal(t, 0.7, det.Signals.Smile)
	})

	t.Run("passes through no face", func(t *testing.T) {
		d := Derive(NewScripted(nil))
		det, err := d.Detect(ctx, frame)
		require.NoError(t, err)
		assert.Nil(t, det)
	})
}

func TestScripted(t *testing.T) {
	a := &FeatureDetection{Confidence: 0.1}
	b := &FeatureDetection{Confidence: 0.2}
	s := NewScripted(a, nil, b)
	ctx := context.Background()

	got := make([]*FeatureDetection, 0, 4)
	for i := 0; i < 4; i++ {
		det, err := s.Detect(ctx, nil)
		require.NoError(t, err)
		got = append(got, det)
	}
	assert.Equal(t, 0.1, got[0].Confidence)
	assert.Nil(t, got[1])
	assert.Equal(t, 0.2, got[2].Confidence)
	assert.Equal(t, 0.2, got[3].Confidence, "last entry repeats")
	assert.Equal(t, 4, s.Calls())
}

func TestProportions(t *testing.T) {
	iod, eyeMouth, ok := Proportions(frontalFace())
	require.True(t, ok)
	assert.InDelta(t, 30.0, iod, 1e-9)
	assert.InDelta(t, 30.0, eyeMouth, 1e-9)

	_, _, ok = Proportions(nil)
	assert.False(t, ok)
}
