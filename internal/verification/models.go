// Package verification owns the verification session: its forward-only phase
// machine, the background capture runs, scoring and submission.
package verification

import (
	"time"

	"livecheck/internal/evidence"
	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
	"livecheck/internal/scoring"
	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
)

// Phase is the session's position in the verification flow.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseDocument Phase = "document"
	PhaseLiveness Phase = "liveness"
	PhaseFaceScan Phase = "face_scan"
	PhaseReview   Phase = "review"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:     0,
	PhaseDocument: 1,
	PhaseLiveness: 2,
	PhaseFaceScan: 3,
	PhaseReview:   4,
	PhaseComplete: 5,
	PhaseFailed:   5,
}

func (p Phase) IsValid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// CanAdvanceTo reports whether moving from p to next keeps the flow strictly
// forward. Any live phase may fail; complete is reachable only from review.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.IsTerminal() || !next.IsValid() {
		return false
	}
	switch next {
	case PhaseFailed:
		return true
	case PhaseComplete:
		return p == PhaseReview
	}
	return phaseOrder[next] > phaseOrder[p]
}

// Failure reasons recorded on a failed session.
const (
	ReasonCancelled          = "cancelled"
	ReasonSessionExpired     = "session_expired"
	ReasonSubmissionRejected = "submission_rejected"
)

// Progress describes the activity inside the current phase.
type Progress struct {
	Instruction string
	Index       int
	Total       int
	Step        string
}

// Session is one attempt by one user to pass verification. It is mutated
// only by the service on behalf of whichever run owns the current phase;
// everything else sees copies.
type Session struct {
	ID        id.SessionID
	UserID    id.UserID
	StartedAt time.Time
	UpdatedAt time.Time
	Phase     Phase
	Client    submission.ClientInfo

	Document       *submission.DocumentOutcome
	DocumentImages []submission.Image

	Challenges []liveness.Challenge
	Results    []liveness.Result
	Selfie     *evidence.CaptureFrame
	Scan       *facescan.Result
	Decision   *scoring.Decision
	Receipt    *submission.Receipt

	// Running is set while a background capture run owns the phase.
	Running       bool
	Progress      Progress
	FailureReason string
	LastError     string
}

// Advance moves the session to next if the transition is forward.
func (s *Session) Advance(next Phase, now time.Time) error {
	if !s.Phase.CanAdvanceTo(next) {
		return dErrors.New(dErrors.CodeConflict,
			"session cannot move from "+string(s.Phase)+" to "+string(next))
	}
	s.Phase = next
	s.UpdatedAt = now
	s.Progress = Progress{}
	return nil
}

// Fail moves the session to failed with reason.
func (s *Session) Fail(reason string, now time.Time) error {
	if err := s.Advance(PhaseFailed, now); err != nil {
		return err
	}
	s.FailureReason = reason
	s.Running = false
	return nil
}

// Expired reports whether the session outlived ttl without finishing.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !s.Phase.IsTerminal() && now.Sub(s.StartedAt) >= ttl
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Document != nil {
		d := *s.Document
		c.Document = &d
	}
	c.DocumentImages = append([]submission.Image(nil), s.DocumentImages...)
	c.Challenges = append([]liveness.Challenge(nil), s.Challenges...)
	c.Results = append([]liveness.Result(nil), s.Results...)
	if s.Selfie != nil {
		f := *s.Selfie
		c.Selfie = &f
	}
	if s.Scan != nil {
		sc := *s.Scan
		sc.HeadPoseTrace = append([]facescan.PoseSample(nil), s.Scan.HeadPoseTrace...)
		sc.Steps = append([]facescan.StepSummary(nil), s.Scan.Steps...)
		sc.EvidenceFrames = append([]evidence.CaptureFrame(nil), s.Scan.EvidenceFrames...)
		c.Scan = &sc
	}
	if s.Decision != nil {
		d := *s.Decision
		d.FailureReasons = append([]scoring.FailureReason(nil), s.Decision.FailureReasons...)
		c.Decision = &d
	}
	if s.Receipt != nil {
		r := *s.Receipt
		c.Receipt = &r
	}
	return &c
}

// Status is the read-only view polled by the capture UI.
type Status struct {
	Phase              Phase   `json:"phase"`
	CurrentInstruction string  `json:"current_instruction"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// progress bands per phase, in percent
const (
	bandDocument = 10.0
	bandLiveness = 60.0
	bandScan     = 90.0
	bandReview   = 95.0
)

// StatusOf derives the polled status from a session.
func StatusOf(s *Session) Status {
	st := Status{Phase: s.Phase, CurrentInstruction: s.Progress.Instruction}
	frac := 0.0
	if s.Progress.Total > 0 {
		frac = float64(s.Progress.Index) / float64(s.Progress.Total)
	}
	switch s.Phase {
	case PhaseIdle:
		st.ProgressPercentage = 0
		if st.CurrentInstruction == "" {
			st.CurrentInstruction = "Allow camera access to begin"
		}
	case PhaseDocument:
		st.ProgressPercentage = bandDocument
		if st.CurrentInstruction == "" {
			st.CurrentInstruction = "Upload a photo of your identity document"
		}
	case PhaseLiveness:
		st.ProgressPercentage = bandDocument + (bandLiveness-bandDocument)*frac
		if !s.Running && len(s.Results) > 0 {
			st.ProgressPercentage = bandLiveness
			st.CurrentInstruction = "Liveness checks finished"
		}
	case PhaseFaceScan:
		st.ProgressPercentage = bandLiveness + (bandScan-bandLiveness)*frac
		if !s.Running && s.Scan != nil {
			st.ProgressPercentage = bandScan
			st.CurrentInstruction = "Face scan finished"
		}
	case PhaseReview:
		st.ProgressPercentage = bandReview
		st.CurrentInstruction = "Review your result and submit"
	case PhaseComplete:
		st.ProgressPercentage = 100
		st.CurrentInstruction = "Verification submitted"
	case PhaseFailed:
		st.ProgressPercentage = 100
		st.CurrentInstruction = "Verification stopped: " + s.FailureReason
	}
	return st
}
