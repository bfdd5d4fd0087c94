// Package detection defines the FeatureDetector capability used by the
// liveness sequencer and the face scanner, plus concrete detectors.
package detection

import (
	"context"

	"livecheck/internal/capture"
)

// Point is a 2D landmark in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region is an axis-aligned bounding box in frame pixel coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// HeadPose is an orientation estimate in degrees. Positive yaw means the
// subject turned toward their own left, positive pitch means looking down.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Signals are the per-frame expression and pose measurements the challenge
// predicates consume.
type Signals struct {
	// EyeOpenness is the mean eye aspect ratio; an open eye sits near 0.3.
	EyeOpenness float64  `json:"eye_openness"`
	Smile       float64  `json:"smile"`
	Pose        HeadPose `json:"pose"`
}

// FeatureDetection is a single-frame detector output.
type FeatureDetection struct {
	Region     Region   `json:"region"`
	Landmarks  []Point  `json:"landmarks"`
	Confidence float64  `json:"confidence"`
	Signals    *Signals `json:"signals,omitempty"`
}

// Detector returns zero or one face for a frame. A nil detection with a nil
// error means no face was found.
type Detector interface {
	Detect(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error) {
	return f(ctx, frame)
}
