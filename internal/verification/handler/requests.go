package handler

import (
	"strings"
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/liveness"
	"livecheck/internal/submission"
	dErrors "livecheck/pkg/domain-errors"
)

// AttachDeviceRequest is the body of POST /v1/verifications/{id}/device.
type AttachDeviceRequest struct {
	Facing string `json:"facing"`
}

func (r *AttachDeviceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Facing = strings.TrimSpace(strings.ToLower(r.Facing))
	if r.Facing == "" {
		r.Facing = capture.FacingUser
	}
	return nil
}

// FrameRequest is the JSON form of POST /v1/verifications/{id}/frames.
// Clients may instead send the encoded image as the raw body.
type FrameRequest struct {
	Image     []byte    `json:"image" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *FrameRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// DocumentImage is one uploaded document side. Data is base64 in JSON.
type DocumentImage struct {
	Name        string `json:"name" validate:"required,max=128"`
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png image/webp"`
	Data        []byte `json:"data" validate:"required"`
}

// DocumentRequest is the body of POST /v1/verifications/{id}/document.
type DocumentRequest struct {
	Images []DocumentImage `json:"images" validate:"required,min=1,max=4,dive"`
}

func (r *DocumentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	for i := range r.Images {
		r.Images[i].Name = strings.TrimSpace(r.Images[i].Name)
	}
	return nil
}

// ToImages converts the request into submission images.
func (r *DocumentRequest) ToImages() []submission.Image {
	out := make([]submission.Image, len(r.Images))
	for i, img := range r.Images {
		out[i] = submission.Image{Name: img.Name, ContentType: img.ContentType, Data: img.Data}
	}
	return out
}

// ChallengeRequest describes one liveness challenge.
type ChallengeRequest struct {
	Kind          string `json:"kind" validate:"required"`
	Instruction   string `json:"instruction,omitempty" validate:"max=200"`
	MaxDurationMS int64  `json:"max_duration_ms" validate:"required,gt=0,lte=60000"`
}

// LivenessRequest is the body of POST /v1/verifications/{id}/liveness. An
// empty challenge list runs the default sequence.
type LivenessRequest struct {
	Challenges []ChallengeRequest `json:"challenges" validate:"max=10,dive"`

	parsed []liveness.Challenge
}

func (r *LivenessRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.parsed = nil
	for _, c := range r.Challenges {
		kind := liveness.Kind(strings.TrimSpace(strings.ToLower(c.Kind)))
		if !kind.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown challenge kind "+c.Kind)
		}
		challenge := liveness.NewChallenge(kind, time.Duration(c.MaxDurationMS)*time.Millisecond)
		if instr := strings.TrimSpace(c.Instruction); instr != "" {
			challenge.Instruction = instr
		}
		r.parsed = append(r.parsed, challenge)
	}
	return nil
}

// ParsedChallenges returns the validated challenges, or nil for the default.
func (r *LivenessRequest) ParsedChallenges() []liveness.Challenge {
	return r.parsed
}
