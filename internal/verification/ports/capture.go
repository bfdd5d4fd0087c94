package ports

import (
	"context"

	"livecheck/internal/capture"
	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
	"livecheck/internal/submission"
)

// ChallengeRunner runs a liveness challenge sequence over a frame source.
type ChallengeRunner interface {
	Run(ctx context.Context, sessionID string, src capture.FrameSource, challenges []liveness.Challenge, observe func(liveness.Update)) (*liveness.Outcome, error)
}

// ScanRunner runs the multi-angle face scan over a frame source.
type ScanRunner interface {
	Run(ctx context.Context, sessionID string, src capture.FrameSource, steps []facescan.Step, observe func(facescan.Update)) (*facescan.Result, error)
}

// Submitter hands a decided session to the review boundary.
type Submitter interface {
	Submit(ctx context.Context, pkg *submission.Package) (*submission.Receipt, error)
}
