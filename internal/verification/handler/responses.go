package handler

import (
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/verification"
)

// SessionResponse is the session view returned by every verification endpoint.
type SessionResponse struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Running   bool      `json:"running"`
	verification.Status

	Document      *DocumentResponse   `json:"document,omitempty"`
	Challenges    []ChallengeResponse `json:"challenges,omitempty"`
	Scan          *ScanResponse       `json:"scan,omitempty"`
	Decision      *DecisionResponse   `json:"decision,omitempty"`
	Receipt       *ReceiptResponse    `json:"receipt,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
}

type DocumentResponse struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
}

type ChallengeResponse struct {
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Detected    bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	ElapsedMS   int64   `json:"elapsed_ms"`
	SampleCount int     `json:"sample_count"`
}

type ScanResponse struct {
	LivenessScore  float64 `json:"liveness_score"`
	QualityScore   float64 `json:"quality_score"`
	PoseSpread     float64 `json:"pose_spread"`
	EvidenceFrames int     `json:"evidence_frames"`
	DurationMS     int64   `json:"duration_ms"`
}

type DecisionResponse struct {
	Passed         bool      `json:"passed"`
	LivenessScore  float64   `json:"liveness_score"`
	QualityScore   float64   `json:"quality_score"`
	FailureReasons []string  `json:"failure_reasons"`
	DecidedAt      time.Time `json:"decided_at"`
}

type ReceiptResponse struct {
	ID             string    `json:"id"`
	Accepted       bool      `json:"accepted"`
	ReviewETA      time.Time `json:"review_eta"`
	SubmittedAt    time.Time `json:"submitted_at"`
	EvidenceDigest string    `json:"evidence_digest"`
}

// FrameResponse acknowledges an ingested frame.
type FrameResponse struct {
	Sequence  uint64    `json:"sequence"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Format    string    `json:"format"`
	Sharpness float64   `json:"sharpness"`
	Timestamp time.Time `json:"timestamp"`
}

// FromSession converts a session snapshot to its HTTP view.
func FromSession(s *verification.Session) *SessionResponse {
	resp := &SessionResponse{
		ID:            s.ID.String(),
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
		Running:       s.Running,
		Status:        verification.StatusOf(s),
		FailureReason: s.FailureReason,
		LastError:     s.LastError,
	}
	if s.Document != nil {
		resp.Document = &DocumentResponse{IsValid: s.Document.IsValid, Confidence: s.Document.Confidence}
	}
	for _, r := range s.Results {
		resp.Challenges = append(resp.Challenges, ChallengeResponse{
			Kind:        string(r.Challenge.Kind),
			Status:      string(r.Status),
			Detected:    r.Detected,
			Confidence:  r.Confidence,
			ElapsedMS:   r.Elapsed.Milliseconds(),
			SampleCount: r.SampleCount,
		})
	}
	if s.Scan != nil {
		resp.Scan = &ScanResponse{
			LivenessScore:  s.Scan.LivenessScore,
			QualityScore:   s.Scan.QualityScore,
			PoseSpread:     s.Scan.PoseSpread,
			EvidenceFrames: len(s.Scan.EvidenceFrames),
			DurationMS:     s.Scan.Duration.Milliseconds(),
		}
	}
	if d := s.Decision; d != nil {
		reasons := make([]string, len(d.FailureReasons))
		for i, r := range d.FailureReasons {
			reasons[i] = string(r)
		}
		resp.Decision = &DecisionResponse{
			Passed:         d.Passed,
			LivenessScore:  d.LivenessScore,
			QualityScore:   d.QualityScore,
			FailureReasons: reasons,
			DecidedAt:      d.DecidedAt,
		}
	}
	if r := s.Receipt; r != nil {
		resp.Receipt = &ReceiptResponse{
			ID:             r.ID.String(),
			Accepted:       r.Accepted,
			ReviewETA:      r.ReviewETA,
			SubmittedAt:    r.SubmittedAt,
			EvidenceDigest: r.EvidenceDigest,
		}
	}
	return resp
}

func fromFrame(f *capture.Frame) *FrameResponse {
	return &FrameResponse{
		Sequence:  f.Sequence,
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Sharpness: f.Sharpness,
		Timestamp: f.Timestamp,
	}
}
