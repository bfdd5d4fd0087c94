// Package capture provides the FrameSource side of a verification session:
// granted capture feeds, exclusive device acquisition, and frame decoding.
package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/webp"

	dErrors "livecheck/pkg/domain-errors"
)

// FacingUser is the only camera facing a verification session accepts.
const FacingUser = "user"

// DefaultMaxFrameSide bounds each frame dimension before pixels are decoded.
const DefaultMaxFrameSide = 4096

// Constraints are the acquisition parameters a session requests.
// Resolution is a preference; the feed delivers whatever the client sends.
type Constraints struct {
	PreferredWidth  int
	PreferredHeight int
	Facing          string
}

// Frame is one decoded capture frame. Data holds the encoded bytes as
// received so they can be retained as evidence without re-encoding.
type Frame struct {
	Sequence  uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    string
	Sharpness float64
	Data      []byte
}

// FrameSource is the non-blocking pull interface used by sampling loops.
// The boolean is false when no frame has arrived yet.
type FrameSource interface {
	CurrentFrame() (*Frame, bool)
}

// DecodeFrame decodes an encoded JPEG, PNG or WebP frame no larger than
// DefaultMaxFrameSide on either side and scores its sharpness.
func DecodeFrame(data []byte, ts time.Time) (*Frame, error) {
	return DecodeFrameWithin(data, ts, DefaultMaxFrameSide)
}

// DecodeFrameWithin is DecodeFrame with an explicit side limit. The header is
// read first so oversized frames are rejected without allocating pixels.
func DecodeFrameWithin(data []byte, ts time.Time, maxSide int) (*Frame, error) {
	if len(data) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "frame is empty")
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxFrameSide
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "frame is not a supported image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxSide || cfg.Height > maxSide {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("frame is %dx%d, limit is %dx%d", cfg.Width, cfg.Height, maxSide, maxSide))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "frame is not a supported image")
	}
	b := img.Bounds()
	return &Frame{
		Timestamp: ts,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    format,
		Sharpness: Sharpness(img),
		Data:      data,
	}, nil
}
