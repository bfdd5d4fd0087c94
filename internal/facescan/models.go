// Package facescan drives the multi-angle head-pose scan and derives the
// geometry, expression, liveness and quality estimates from what it saw.
package facescan

import (
	"time"

	"livecheck/internal/detection"
	"livecheck/internal/evidence"
)

// Step is one head-pose instruction.
type Step string

const (
	StepCenter Step = "center"
	StepLeft   Step = "left"
	StepRight  Step = "right"
	StepDown   Step = "down"
)

func (s Step) IsValid() bool {
	switch s {
	case StepCenter, StepLeft, StepRight, StepDown:
		return true
	}
	return false
}

// Instruction is the user-facing text for the step.
func (s Step) Instruction() string {
	switch s {
	case StepCenter:
		return "Look straight at the camera"
	case StepLeft:
		return "Turn your head slightly to the left"
	case StepRight:
		return "Turn your head slightly to the right"
	case StepDown:
		return "Tilt your head down"
	}
	return ""
}

// DefaultSteps is the fixed scan order.
func DefaultSteps() []Step {
	return []Step{StepCenter, StepLeft, StepRight, StepDown, StepCenter}
}

// PoseSample is one head-pose estimate taken during a step.
type PoseSample struct {
	Step       Step
	At         time.Time
	Pose       detection.HeadPose
	Confidence float64
}

// StepSummary aggregates one step. A step with no detections carries the
// conservative fallback confidence and no pose.
type StepSummary struct {
	Step           Step
	Samples        int
	Detections     int
	MeanConfidence float64
	MeanPose       *detection.HeadPose
}

// GeometryEstimate holds scale-free facial proportions.
type GeometryEstimate struct {
	// EyeSpanRatio is inter-ocular distance over face box width.
	EyeSpanRatio float64
	// EyeMouthRatio is eye-line to mouth-line distance over inter-ocular distance.
	EyeMouthRatio float64
	// AspectRatio is face box height over width.
	AspectRatio float64
	Samples     int
}

// ExpressionEstimate holds the mean expression signals across the scan.
type ExpressionEstimate struct {
	Smile       float64
	EyeOpenness float64
	Samples     int
}

// Result is the aggregate of a completed scan.
type Result struct {
	Geometry       GeometryEstimate
	Expression     ExpressionEstimate
	HeadPoseTrace  []PoseSample
	Steps          []StepSummary
	PoseSpread     float64
	LivenessScore  float64
	QualityScore   float64
	EvidenceFrames []evidence.CaptureFrame
	Duration       time.Duration
}
