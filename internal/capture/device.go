package capture

import (
	"sync"
	"time"
)

// FeedDevice is a capture device backed by frames pushed from the client.
// Only the latest frame is kept; readers never block.
type FeedDevice struct {
	mu      sync.RWMutex
	facing  string
	maxSide int
	latest  *Frame
	seq     uint64
}

// DeviceOption configures a FeedDevice.
type DeviceOption func(*FeedDevice)

// WithMaxFrameSide caps the width and height of pushed frames.
func WithMaxFrameSide(n int) DeviceOption {
	return func(d *FeedDevice) {
		if n > 0 {
			d.maxSide = n
		}
	}
}

// NewFeedDevice creates a feed for a camera with the given facing.
func NewFeedDevice(facing string, opts ...DeviceOption) *FeedDevice {
	if facing == "" {
		facing = FacingUser
	}
	d := &FeedDevice{facing: facing, maxSide: DefaultMaxFrameSide}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Facing reports which camera the feed represents.
func (d *FeedDevice) Facing() string { return d.facing }

// Push decodes an encoded frame and makes it the current frame.
func (d *FeedDevice) Push(data []byte, ts time.Time) (*Frame, error) {
	frame, err := DecodeFrameWithin(data, ts, d.maxSide)
	if err != nil {
		return nil, err
	}
	d.Publish(frame)
	return frame, nil
}

// Publish stores an already-decoded frame and assigns its sequence number.
func (d *FeedDevice) Publish(frame *Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	f := *frame
	f.Sequence = d.seq
	d.latest = &f
}

// CurrentFrame returns the latest frame, if any.
func (d *FeedDevice) CurrentFrame() (*Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return nil, false
	}
	return d.latest, true
}
