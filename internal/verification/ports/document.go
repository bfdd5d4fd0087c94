package ports

import (
	"context"

	"livecheck/internal/submission"
)

// DocumentResult is the document service's verdict. Only IsValid and
// Confidence are kept on the session.
type DocumentResult struct {
	IsValid         bool              `json:"is_valid"`
	Confidence      float64           `json:"confidence"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
}

// DocumentChecker is the external document-side boundary.
type DocumentChecker interface {
	Check(ctx context.Context, images []submission.Image) (*DocumentResult, error)
}
