// Package scoring combines challenge and scan results into a verification
// decision. Threshold failures are data on the Decision, never errors.
package scoring

import (
	"math"
	"sort"
	"time"

	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
)

const (
	challengeWeight = 0.6
	scanWeight      = 0.4
)

// FailureReason explains why a decision did not pass.
type FailureReason string

const (
	InsufficientLiveness FailureReason = "insufficient_liveness"
	InsufficientQuality  FailureReason = "insufficient_quality"
)

// Thresholds are the configurable pass marks.
type Thresholds struct {
	Liveness float64
	Quality  float64
	// NeutralQuality stands in for the quality score when no scan ran.
	NeutralQuality float64
}

// DefaultThresholds returns the standard pass marks.
func DefaultThresholds() Thresholds {
	return Thresholds{Liveness: 70, Quality: 60, NeutralQuality: 75}
}

// Decision is the final verification outcome. Passed is true iff both
// scores meet their thresholds.
type Decision struct {
	Passed            bool
	LivenessScore     float64
	QualityScore      float64
	FailureReasons    []FailureReason
	DecidedAt         time.Time
	ChallengeLiveness float64
	ScanLiveness      *float64
}

// HasReason reports whether r is among the failure reasons.
func (d Decision) HasReason(r FailureReason) bool {
	for _, fr := range d.FailureReasons {
		if fr == r {
			return true
		}
	}
	return false
}

// Aggregate computes the decision from challenge results and an optional scan.
//
//	liveness = 0.6*challenge + 0.4*scan   with a scan
//	liveness = challenge                   without
//	quality  = scan quality, or the neutral baseline without a scan
func Aggregate(challenges []liveness.Result, scan *facescan.Result, th Thresholds, now time.Time) Decision {
	challengeLiveness := clampScore(liveness.Score(challenges))

	d := Decision{
		ChallengeLiveness: round2(challengeLiveness),
		DecidedAt:         now,
	}

	livenessScore := challengeLiveness
	qualityScore := th.NeutralQuality
	if scan != nil {
		scanLiveness := clampScore(scan.LivenessScore)
		sl := round2(scanLiveness)
		d.ScanLiveness = &sl
		livenessScore = challengeWeight*challengeLiveness + scanWeight*scanLiveness
		qualityScore = scan.QualityScore
	}

	d.LivenessScore = round2(clampScore(livenessScore))
	d.QualityScore = round2(clampScore(qualityScore))

	reasons := map[FailureReason]struct{}{}
	if d.LivenessScore < th.Liveness {
		reasons[InsufficientLiveness] = struct{}{}
	}
	if d.QualityScore < th.Quality {
		reasons[InsufficientQuality] = struct{}{}
	}
	for r := range reasons {
		d.FailureReasons = append(d.FailureReasons, r)
	}
	sort.Slice(d.FailureReasons, func(i, j int) bool { return d.FailureReasons[i] < d.FailureReasons[j] })
	d.Passed = len(d.FailureReasons) == 0
	return d
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
