package facescan

import (
	"math"
	"time"

	"livecheck/internal/detection"
	"livecheck/internal/evidence"
)

// ScoreParams tunes the scan-local scores.
type ScoreParams struct {
	// FloorDegrees is the pose spread at or below which the run is treated as
	// a static presentation.
	FloorDegrees float64
	// FullDegrees is the spread that earns the full liveness score.
	FullDegrees float64
	// StaticCeiling is the best score a run at the floor can get.
	StaticCeiling float64
	// FallbackConfidence stands in for detector confidence on steps or frames
	// where nothing was detected.
	FallbackConfidence float64
}

func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		FloorDegrees:       3,
		FullDegrees:        15,
		StaticCeiling:      20,
		FallbackConfidence: 0.2,
	}
}

// history keeps every detection of the scan for the post-scan estimates.
type history struct {
	trace []PoseSample
	dets  []stepDetection
}

type stepDetection struct {
	step Step
	det  *detection.FeatureDetection
}

func (h *history) add(step Step, at time.Time, det *detection.FeatureDetection) {
	h.dets = append(h.dets, stepDetection{step: step, det: det})
	if det.Signals != nil {
		h.trace = append(h.trace, PoseSample{Step: step, At: at, Pose: det.Signals.Pose, Confidence: det.Confidence})
	}
}

func (s *Scanner) derive(accs []*stepAccumulator, hist *history, frames []evidence.CaptureFrame) *Result {
	res := &Result{
		HeadPoseTrace:  hist.trace,
		EvidenceFrames: frames,
		Geometry:       geometryOf(hist.dets),
		Expression:     expressionOf(hist.dets),
	}

	detectedSteps := 0
	var means []detection.HeadPose
	for _, acc := range accs {
		sum := StepSummary{
			Step:           acc.step,
			Samples:        acc.samples,
			Detections:     acc.detections,
			MeanConfidence: s.scoring.FallbackConfidence,
		}
		if acc.detections > 0 {
			detectedSteps++
			sum.MeanConfidence = acc.confSum / float64(acc.detections)
		}
		if len(acc.poses) > 0 {
			m := meanPose(acc.poses)
			sum.MeanPose = &m
			means = append(means, m)
		}
		res.Steps = append(res.Steps, sum)
	}

	res.PoseSpread = poseSpread(means)
	res.LivenessScore = LivenessFromSpread(res.PoseSpread, s.scoring) * float64(detectedSteps) / float64(len(accs))
	res.QualityScore = QualityFromFrames(frames, s.scoring.FallbackConfidence)
	return res
}

// LivenessFromSpread maps the head-pose spread across steps to 0..100.
// Spread at or below the floor scales up to StaticCeiling; from the floor to
// FullDegrees it rises linearly to 100.
func LivenessFromSpread(spread float64, p ScoreParams) float64 {
	switch {
	case spread <= 0:
		return 0
	case spread <= p.FloorDegrees:
		return p.StaticCeiling * spread / p.FloorDegrees
	case spread >= p.FullDegrees:
		return 100
	default:
		return p.StaticCeiling + (100-p.StaticCeiling)*(spread-p.FloorDegrees)/(p.FullDegrees-p.FloorDegrees)
	}
}

// QualityFromFrames scores the retained evidence: each frame contributes the
// mean of its sharpness and detection confidence, and the score is the mean
// less half a standard deviation so inconsistent captures rank lower.
func QualityFromFrames(frames []evidence.CaptureFrame, fallback float64) float64 {
	if len(frames) == 0 {
		return 100 * fallback
	}
	qs := make([]float64, len(frames))
	for i, f := range frames {
		conf := fallback
		if f.Detection != nil {
			conf = f.Detection.Confidence
		}
		qs[i] = 0.5*f.Sharpness + 0.5*conf
	}
	mean, std := meanStd(qs)
	return 100 * math.Max(0, math.Min(1, mean-0.5*std))
}

// poseSpread is sqrt(var(yaw) + var(pitch)) over per-step mean poses.
func poseSpread(means []detection.HeadPose) float64 {
	if len(means) < 2 {
		return 0
	}
	yaws := make([]float64, len(means))
	pitches := make([]float64, len(means))
	for i, m := range means {
		yaws[i], pitches[i] = m.Yaw, m.Pitch
	}
	_, sy := meanStd(yaws)
	_, sp := meanStd(pitches)
	return math.Sqrt(sy*sy + sp*sp)
}

func meanPose(poses []detection.HeadPose) detection.HeadPose {
	var m detection.HeadPose
	for _, p := range poses {
		m.Yaw += p.Yaw
		m.Pitch += p.Pitch
		m.Roll += p.Roll
	}
	n := float64(len(poses))
	return detection.HeadPose{Yaw: m.Yaw / n, Pitch: m.Pitch / n, Roll: m.Roll / n}
}

// geometryOf averages proportions over frontal detections, falling back to
// all detections when the center steps saw nothing usable.
func geometryOf(dets []stepDetection) GeometryEstimate {
	g := geometryFor(dets, func(s Step) bool { return s == StepCenter })
	if g.Samples == 0 {
		g = geometryFor(dets, func(Step) bool { return true })
	}
	return g
}

func geometryFor(dets []stepDetection, include func(Step) bool) GeometryEstimate {
	var g GeometryEstimate
	for _, sd := range dets {
		if !include(sd.step) {
			continue
		}
		iod, eyeMouth, ok := detection.Proportions(sd.det.Landmarks)
		if !ok || sd.det.Region.Width <= 0 {
			continue
		}
		g.EyeSpanRatio += iod / sd.det.Region.Width
		g.EyeMouthRatio += eyeMouth / iod
		g.AspectRatio += sd.det.Region.Height / sd.det.Region.Width
		g.Samples++
	}
	if g.Samples > 0 {
		n := float64(g.Samples)
		g.EyeSpanRatio /= n
		g.EyeMouthRatio /= n
		g.AspectRatio /= n
	}
	return g
}

func expressionOf(dets []stepDetection) ExpressionEstimate {
	var e ExpressionEstimate
	for _, sd := range dets {
		if sd.det.Signals == nil {
			continue
		}
		e.Smile += sd.det.Signals.Smile
		e.EyeOpenness += sd.det.Signals.EyeOpenness
		e.Samples++
	}
	if e.Samples > 0 {
		e.Smile /= float64(e.Samples)
		e.EyeOpenness /= float64(e.Samples)
	}
	return e
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
