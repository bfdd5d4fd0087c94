package detection

import (
	"context"
	"math"

	"livecheck/internal/capture"
)

// Indices into the 68-point iBUG landmark layout.
const (
	landmarkCount = 68

	noseTip        = 30
	rightEyeStart  = 36
	leftEyeStart   = 42
	mouthLeft      = 48
	mouthRight     = 54
	innerLipTop    = 62
	innerLipBottom = 66

	// neutralNoseRatio is the nose tip position between the eye line and the
	// mouth line for a level face.
	neutralNoseRatio = 0.55
	pitchGain        = 90.0

	neutralMouthRatio = 0.80
	smileMouthSpan    = 0.20
)

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) for six eye points.
func EyeAspectRatio(eye []Point) float64 {
	if len(eye) != 6 {
		return 0
	}
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * horizontal)
}

// SignalsFromLandmarks derives eye openness, smile and head pose from a
// 68-point landmark set. ok is false for any other layout.
func SignalsFromLandmarks(lm []Point) (Signals, bool) {
	if len(lm) != landmarkCount {
		return Signals{}, false
	}
	rightEye := lm[rightEyeStart : rightEyeStart+6]
	leftEye := lm[leftEyeStart : leftEyeStart+6]
	rc, lc := centroid(rightEye), centroid(leftEye)
	iod := dist(rc, lc)
	if iod == 0 {
		return Signals{}, false
	}

	ear := (EyeAspectRatio(rightEye) + EyeAspectRatio(leftEye)) / 2

	// Smile: widening of the mouth relative to eye distance, boosted a little
	// when the lips part.
	mouthWidth := dist(lm[mouthLeft], lm[mouthRight])
	smile := (mouthWidth/iod - neutralMouthRatio) / smileMouthSpan
	if mouthWidth > 0 {
		smile += 0.25 * dist(lm[innerLipTop], lm[innerLipBottom]) / mouthWidth
	}

	eyeMid := Point{X: (rc.X + lc.X) / 2, Y: (rc.Y + lc.Y) / 2}
	mouthMid := Point{X: (lm[mouthLeft].X + lm[mouthRight].X) / 2, Y: (lm[mouthLeft].Y + lm[mouthRight].Y) / 2}
	nose := lm[noseTip]

	yaw := degrees(math.Asin(clamp(2*(nose.X-eyeMid.X)/iod, -1, 1)))

	var pitch float64
	if span := mouthMid.Y - eyeMid.Y; span > 0 {
		pitch = clamp(((nose.Y-eyeMid.Y)/span-neutralNoseRatio)*pitchGain, -60, 60)
	}

	// The subject's left eye appears on the image right.
	roll := degrees(math.Atan2(lc.Y-rc.Y, lc.X-rc.X))

	return Signals{
		EyeOpenness: ear,
		Smile:       clamp(smile, 0, 1),
		Pose:        HeadPose{Yaw: yaw, Pitch: pitch, Roll: roll},
	}, true
}

// Derive wraps a detector and fills Signals from landmarks when the inner
// detector did not supply them.
func Derive(inner Detector) Detector {
	return DetectorFunc(func(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error) {
		det, err := inner.Detect(ctx, frame)
		if err != nil || det == nil || det.Signals != nil {
			return det, err
		}
		if s, ok := SignalsFromLandmarks(det.Landmarks); ok {
			det.Signals = &s
		}
		return det, nil
	})
}

func centroid(pts []Point) Point {
	var c Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{X: c.X / n, Y: c.Y / n}
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Proportions returns the inter-ocular distance and the eye-line to
// mouth-line distance of a 68-point landmark set, in pixels.
func Proportions(lm []Point) (iod, eyeMouth float64, ok bool) {
	if len(lm) != landmarkCount {
		return 0, 0, false
	}
	rc := centroid(lm[rightEyeStart : rightEyeStart+6])
	lc := centroid(lm[leftEyeStart : leftEyeStart+6])
	iod = dist(rc, lc)
	if iod == 0 {
		return 0, 0, false
	}
	eyeMid := Point{X: (rc.X + lc.X) / 2, Y: (rc.Y + lc.Y) / 2}
	mouthMid := Point{X: (lm[mouthLeft].X + lm[mouthRight].X) / 2, Y: (lm[mouthLeft].Y + lm[mouthRight].Y) / 2}
	return iod, dist(eyeMid, mouthMid), true
}
