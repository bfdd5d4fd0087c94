// Package evidence holds retained capture frames and the blob stores their
// bytes are written to when a decision record is submitted.
package evidence

import (
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/detection"
)

// MaxFrames is the hard cap on evidence frames in one decision record.
const MaxFrames = 10

// CaptureFrame is one sampled frame kept as evidence. ImageRef is an opaque
// handle; the bytes are reachable only through Data until they are stored.
type CaptureFrame struct {
	Timestamp   time.Time                   `json:"timestamp"`
	Step        string                      `json:"step"`
	ImageRef    string                      `json:"image_reference"`
	ContentType string                      `json:"content_type"`
	Sharpness   float64                     `json:"sharpness"`
	Detection   *detection.FeatureDetection `json:"detection,omitempty"`

	data []byte
}

// NewCaptureFrame builds an evidence frame for a sampled frame and its
// detection. The reference is the frame digest until the bytes are stored.
func NewCaptureFrame(step string, frame *capture.Frame, det *detection.FeatureDetection) CaptureFrame {
	return CaptureFrame{
		Timestamp:   frame.Timestamp,
		Step:        step,
		ImageRef:    "digest:" + detection.FrameDigest(frame.Data),
		ContentType: ContentType(frame.Format),
		Sharpness:   frame.Sharpness,
		Detection:   det,
		data:        frame.Data,
	}
}

// Data returns the encoded frame bytes.
func (f CaptureFrame) Data() []byte { return f.data }

// Confidence is the detection confidence, zero when nothing was detected.
func (f CaptureFrame) Confidence() float64 {
	if f.Detection == nil {
		return 0
	}
	return f.Detection.Confidence
}

// WithRef returns a copy pointing at a stored blob.
func (f CaptureFrame) WithRef(ref string) CaptureFrame {
	f.ImageRef = ref
	return f
}

// ContentType maps an image format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
