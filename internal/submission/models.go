// Package submission packages a decided verification session into a decision
// record and hands it to the external review boundary, once per session.
package submission

import (
	"fmt"
	"time"

	"livecheck/internal/evidence"
	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
	"livecheck/internal/scoring"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
)

// ClientInfo describes the capture client recorded on the session.
type ClientInfo struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	IP      string `json:"ip,omitempty"`
}

// Applicant is the session identity metadata sent with the record.
type Applicant struct {
	UserID    id.UserID    `json:"user_id"`
	SessionID id.SessionID `json:"session_id"`
	StartedAt time.Time    `json:"started_at"`
	Client    ClientInfo   `json:"client"`
}

// DocumentOutcome is what the session kept from the document check.
type DocumentOutcome struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
}

// Image is a document image supplied by the applicant.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Package is everything a decided session contributes to the submission.
type Package struct {
	Applicant      Applicant
	Decision       scoring.Decision
	Challenges     []liveness.Result
	Scan           *facescan.Result
	Document       *DocumentOutcome
	DocumentImages []Image
	Selfie         *evidence.CaptureFrame
	Evidence       []evidence.CaptureFrame
}

// Validate checks the package is complete enough to submit.
func (p *Package) Validate() error {
	if p == nil {
		return dErrors.New(dErrors.CodeSubmissionValidation, "package is required")
	}
	if p.Applicant.SessionID.IsNil() {
		return dErrors.New(dErrors.CodeSubmissionValidation, "session id is required")
	}
	if p.Applicant.UserID.IsNil() {
		return dErrors.New(dErrors.CodeSubmissionValidation, "user id is required")
	}
	if p.Decision.DecidedAt.IsZero() {
		return dErrors.New(dErrors.CodeSubmissionValidation, "session has no decision")
	}
	if len(p.Evidence) > evidence.MaxFrames {
		return dErrors.New(dErrors.CodeSubmissionValidation,
			fmt.Sprintf("evidence set has %d frames, at most %d allowed", len(p.Evidence), evidence.MaxFrames))
	}
	for i, img := range p.DocumentImages {
		if len(img.Data) == 0 {
			return dErrors.New(dErrors.CodeSubmissionValidation, fmt.Sprintf("document image %d is empty", i))
		}
	}
	return nil
}

// Receipt acknowledges a submission. Repeated submits of a session return
// the same receipt.
type Receipt struct {
	ID             id.ReceiptID `json:"id"`
	SessionID      id.SessionID `json:"session_id"`
	Accepted       bool         `json:"accepted"`
	ReviewETA      time.Time    `json:"review_eta"`
	SubmittedAt    time.Time    `json:"submitted_at"`
	EvidenceDigest string       `json:"evidence_digest"`
}

// BoundaryResponse is the review boundary's answer.
type BoundaryResponse struct {
	Accepted  bool      `json:"accepted"`
	ReviewETA time.Time `json:"review_eta"`
}

// FrameRef points at a stored evidence frame.
type FrameRef struct {
	Field       string    `json:"field"`
	Name        string    `json:"name"`
	Step        string    `json:"step"`
	ImageRef    string    `json:"image_reference"`
	ContentType string    `json:"content_type"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	Sharpness   float64   `json:"sharpness"`
}

// ChallengeRecord is one challenge outcome in the record.
type ChallengeRecord struct {
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Detected    bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	ElapsedMS   int64   `json:"elapsed_ms"`
	SampleCount int     `json:"sample_count"`
}

// ScanRecord summarises the face scan.
type ScanRecord struct {
	LivenessScore float64 `json:"liveness_score"`
	QualityScore  float64 `json:"quality_score"`
	PoseSpread    float64 `json:"pose_spread"`
	EyeSpanRatio  float64 `json:"eye_span_ratio"`
	EyeMouthRatio float64 `json:"eye_mouth_ratio"`
	AspectRatio   float64 `json:"aspect_ratio"`
	Smile         float64 `json:"smile"`
	EyeOpenness   float64 `json:"eye_openness"`
	PoseSamples   int     `json:"pose_samples"`
	DurationMS    int64   `json:"duration_ms"`
}

// DecisionRecord is the decision as sent to the boundary.
type DecisionRecord struct {
	Passed            bool      `json:"passed"`
	LivenessScore     float64   `json:"liveness_score"`
	QualityScore      float64   `json:"quality_score"`
	FailureReasons    []string  `json:"failure_reasons"`
	DecidedAt         time.Time `json:"decided_at"`
	ChallengeLiveness float64   `json:"challenge_liveness"`
	ScanLiveness      *float64  `json:"scan_liveness,omitempty"`
}

// Record is the JSON decision record that heads the multipart payload.
type Record struct {
	Applicant      Applicant         `json:"applicant"`
	Decision       DecisionRecord    `json:"decision"`
	Challenges     []ChallengeRecord `json:"challenges"`
	Scan           *ScanRecord       `json:"scan,omitempty"`
	Document       *DocumentOutcome  `json:"document,omitempty"`
	Selfie         *FrameRef         `json:"selfie,omitempty"`
	Evidence       []FrameRef        `json:"evidence"`
	EvidenceDigest string            `json:"evidence_digest"`
}

// File is one binary part of the payload.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Bundle is the full payload handed to the boundary.
type Bundle struct {
	Record Record
	Files  []File
}
