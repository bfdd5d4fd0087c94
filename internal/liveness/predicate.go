package liveness

import (
	"time"

	"livecheck/internal/detection"
)

// Params tunes the completion predicates.
type Params struct {
	// BlinkEAR is the eye aspect ratio below which an eye counts as closed.
	BlinkEAR   float64
	BlinkGap   time.Duration
	BlinkCount int

	SmileThreshold float64
	SmileHold      time.Duration

	TurnDegrees float64
	TurnWindow  int
	TurnHold    int

	NodDegrees float64
}

// DefaultParams returns the standard predicate tuning.
func DefaultParams() Params {
	return Params{
		BlinkEAR:       0.21,
		BlinkGap:       200 * time.Millisecond,
		BlinkCount:     2,
		SmileThreshold: 0.6,
		SmileHold:      time.Second,
		TurnDegrees:    15,
		TurnWindow:     5,
		TurnHold:       2,
		NodDegrees:     10,
	}
}

// predicate consumes the detection stream of one challenge. observe returns
// true once the instructed action has been seen. A nil detection means no
// face in that sample.
type predicate interface {
	observe(at time.Time, det *detection.FeatureDetection) bool
}

func newPredicate(kind Kind, p Params) predicate {
	switch kind {
	case KindBlink:
		return &blinkPredicate{threshold: p.BlinkEAR, gap: p.BlinkGap, need: p.BlinkCount}
	case KindSmile:
		return &smilePredicate{threshold: p.SmileThreshold, hold: p.SmileHold}
	case KindTurnLeft:
		return &turnPredicate{direction: 1, degrees: p.TurnDegrees, window: p.TurnWindow, hold: p.TurnHold}
	case KindTurnRight:
		return &turnPredicate{direction: -1, degrees: p.TurnDegrees, window: p.TurnWindow, hold: p.TurnHold}
	case KindNod:
		return &nodPredicate{degrees: p.NodDegrees}
	}
	return neverPredicate{}
}

type neverPredicate struct{}

func (neverPredicate) observe(time.Time, *detection.FeatureDetection) bool { return false }

// blinkPredicate counts open-to-closed transitions. A transition closer than
// gap to the previous counted one is treated as noise.
type blinkPredicate struct {
	threshold float64
	gap       time.Duration
	need      int

	closed    bool
	count     int
	lastEvent time.Time
}

func (b *blinkPredicate) observe(at time.Time, det *detection.FeatureDetection) bool {
	if det == nil || det.Signals == nil {
		return false
	}
	isClosed := det.Signals.EyeOpenness < b.threshold
	if isClosed && !b.closed {
		if b.count == 0 || at.Sub(b.lastEvent) >= b.gap {
			b.count++
			b.lastEvent = at
		}
	}
	b.closed = isClosed
	return b.count >= b.need
}

// smilePredicate needs the smile signal above threshold for an unbroken hold.
type smilePredicate struct {
	threshold float64
	hold      time.Duration

	since time.Time
}

func (s *smilePredicate) observe(at time.Time, det *detection.FeatureDetection) bool {
	if det == nil || det.Signals == nil || det.Signals.Smile < s.threshold {
		s.since = time.Time{}
		return false
	}
	if s.since.IsZero() {
		s.since = at
	}
	return at.Sub(s.since) >= s.hold
}

// turnPredicate averages the last window yaw samples, signed toward the
// instructed side, and needs the average past degrees for hold consecutive samples.
type turnPredicate struct {
	direction float64
	degrees   float64
	window    int
	hold      int

	yaws   []float64
	streak int
}

func (t *turnPredicate) observe(_ time.Time, det *detection.FeatureDetection) bool {
	if det == nil || det.Signals == nil {
		return false
	}
	t.yaws = append(t.yaws, t.direction*det.Signals.Pose.Yaw)
	if len(t.yaws) > t.window {
		t.yaws = t.yaws[1:]
	}
	if len(t.yaws) < t.window {
		return false
	}
	var sum float64
	for _, y := range t.yaws {
		sum += y
	}
	if sum/float64(len(t.yaws)) >= t.degrees {
		t.streak++
	} else {
		t.streak = 0
	}
	return t.streak >= t.hold
}

// nodPredicate anchors on the first observed pitch, then needs a dip of at
// least degrees followed by a return close to the anchor.
type nodPredicate struct {
	degrees float64

	baseline float64
	anchored bool
	wentDown bool
}

func (n *nodPredicate) observe(_ time.Time, det *detection.FeatureDetection) bool {
	if det == nil || det.Signals == nil {
		return false
	}
	pitch := det.Signals.Pose.Pitch
	if !n.anchored {
		n.baseline, n.anchored = pitch, true
		return false
	}
	delta := pitch - n.baseline
	if !n.wentDown {
		n.wentDown = delta >= n.degrees
		return false
	}
	return delta <= n.degrees/3
}
