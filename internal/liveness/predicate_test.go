package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"livecheck/internal/detection"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func face(ear, smile, yaw, pitch float64) *detection.FeatureDetection {
	return &detection.FeatureDetection{
		Confidence: 0.9,
		Signals: &detection.Signals{
			EyeOpenness: ear,
			Smile:       smile,
			Pose:        detection.HeadPose{Yaw: yaw, Pitch: pitch},
		},
	}
}

func eyes(ear float64) *detection.FeatureDetection { return face(ear, 0, 0, 0) }

type sample struct {
	at  time.Duration
	det *detection.FeatureDetection
}

// feed returns the index of the sample that completed the predicate, or -1.
func feed(p predicate, samples []sample) int {
	for i, s := range samples {
		if p.observe(t0.Add(s.at), s.det) {
			return i
		}
	}
	return -1
}

func TestBlinkPredicate(t *testing.T) {
	params := DefaultParams()
	open, closed := eyes(0.3), eyes(0.1)

	tests := []struct {
		name    string
		samples []sample
		want    int
	}{
		{
			name: "two blinks far enough apart",
			samples: []sample{
				{0, open}, {100 * time.Millisecond, closed}, {200 * time.Millisecond, open},
				{300 * time.Millisecond, open}, {400 * time.Millisecond, closed},
			},
			want: 4,
		},
		{
			name: "second blink inside the noise gap is ignored",
			samples: []sample{
				{0, closed}, {50 * time.Millisecond, open}, {100 * time.Millisecond, closed},
				{150 * time.Millisecond, open},
			},
			want: -1,
		},
		{
			name: "eyes held closed count once",
			samples: []sample{
				{0, closed}, {300 * time.Millisecond, closed}, {600 * time.Millisecond, closed},
			},
			want: -1,
		},
		{
			name: "missing face does not reopen the eye",
			samples: []sample{
				{0, closed}, {300 * time.Millisecond, nil}, {600 * time.Millisecond, closed},
			},
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feed(newPredicate(KindBlink, params), tt.samples))
		})
	}
}

func TestSmilePredicate(t *testing.T) {
	params := DefaultParams()
	smiling, neutral := face(0.3, 0.8, 0, 0), face(0.3, 0.2, 0, 0)

	t.Run("held for a full second", func(t *testing.T) {
		got := feed(newPredicate(KindSmile, params), []sample{
			{0, neutral}, {100 * time.Millisecond, smiling}, {600 * time.Millisecond, smiling},
			{1100 * time.Millisecond, smiling},
		})
		assert.Equal(t, 3, got)
	})

	t.Run("lost face resets the hold", func(t *testing.T) {
		got := feed(newPredicate(KindSmile, params), []sample{
			{0, smiling}, {500 * time.Millisecond, nil}, {600 * time.Millisecond, smiling},
			{1200 * time.Millisecond, smiling},
		})
		assert.Equal(t, -1, got)
	})
}

func TestTurnPredicate(t *testing.T) {
	params := DefaultParams()
	turned := func(yaw float64, n int) []sample {
		out := make([]sample, n)
		for i := range out {
			out[i] = sample{time.Duration(i) * 33 * time.Millisecond, face(0.3, 0, yaw, 0)}
		}
		return out
	}

	t.Run("left needs a full window and two consecutive samples", func(t *testing.T) {
		assert.Equal(t, 5, feed(newPredicate(KindTurnLeft, params), turned(20, 10)))
	})

	t.Run("right uses negative yaw", func(t *testing.T) {
		assert.Equal(t, 5, feed(newPredicate(KindTurnRight, params), turned(-20, 10)))
		assert.Equal(t, -1, feed(newPredicate(KindTurnRight, params), turned(20, 10)))
	})

	t.Run("single spike is averaged away", func(t *testing.T) {
		samples := turned(0, 10)
		samples[3].det = face(0.3, 0, 60, 0)
		assert.Equal(t, -1, feed(newPredicate(KindTurnLeft, params), samples))
	})

	t.Run("shallow turn never completes", func(t *testing.T) {
		assert.Equal(t, -1, feed(newPredicate(KindTurnLeft, params), turned(10, 20)))
	})
}

func TestNodPredicate(t *testing.T) {
	params := DefaultParams()
	pitch := func(p float64) *detection.FeatureDetection { return face(0.3, 0, 0, p) }

	t.Run("down then back up", func(t *testing.T) {
		got := feed(newPredicate(KindNod, params), []sample{
			{0, pitch(2)}, {100 * time.Millisecond, pitch(8)}, {200 * time.Millisecond, pitch(14)},
			{300 * time.Millisecond, pitch(9)}, {400 * time.Millisecond, pitch(4)},
		})
		assert.Equal(t, 4, got)
	})

	t.Run("only looking down is not a nod", func(t *testing.T) {
		got := feed(newPredicate(KindNod, params), []sample{
			{0, pitch(0)}, {100 * time.Millisecond, pitch(15)}, {200 * time.Millisecond, pitch(20)},
		})
		assert.Equal(t, -1, got)
	})

	t.Run("looking up is not a nod", func(t *testing.T) {
		got := feed(newPredicate(KindNod, params), []sample{
			{0, pitch(0)}, {100 * time.Millisecond, pitch(-15)}, {200 * time.Millisecond, pitch(0)},
		})
		assert.Equal(t, -1, got)
	})
}

func TestScore(t *testing.T) {
	done := Result{Status: StatusCompleted}
	missed := Result{Status: StatusTimedOut}

	assert.Equal(t, 0.0, Score(nil))
	assert.Equal(t, 100.0, Score([]Result{done, done, done, done, done}))
	assert.Equal(t, 0.0, Score([]Result{missed, missed}))
	assert.Equal(t, 40.0, Score([]Result{done, missed, done, missed, missed}))
}

func TestValidateChallenges(t *testing.T) {
	assert.NoError(t, ValidateChallenges(DefaultChallenges(time.Second)))
	assert.Error(t, ValidateChallenges(nil))
	assert.Error(t, ValidateChallenges([]Challenge{{Kind: "wink", MaxDuration: time.Second}}))
	assert.Error(t, ValidateChallenges([]Challenge{{Kind: KindBlink}}))
}
