package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	dErrors "livecheck/pkg/domain-errors"
)

// Registry tracks granted capture feeds and enforces exclusive acquisition.
// A feed is granted by Attach (the client allowed camera access) and revoked
// by Detach. Open hands out at most one Handle per feed at a time.
type Registry struct {
	mu     sync.Mutex
	feeds  map[string]*FeedDevice
	held   map[string]*Handle
	refs   atomic.Int64
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for acquisition and release events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty device registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		feeds: make(map[string]*FeedDevice),
		held:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Attach grants a feed under key, replacing any previous grant.
func (r *Registry) Attach(key string, device *FeedDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[key] = device
}

// Detach revokes the grant for key. An open handle keeps working until closed.
func (r *Registry) Detach(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, key)
}

// Device returns the feed granted under key.
func (r *Registry) Device(key string) (*FeedDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.feeds[key]
	return d, ok
}

// Open acquires the feed granted under key. It fails with device_unavailable
// when nothing was granted or the facing does not match, and with device_busy
// when another holder has it.
func (r *Registry) Open(ctx context.Context, key string, c Constraints) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	facing := c.Facing
	if facing == "" {
		facing = FacingUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.feeds[key]
	if !ok {
		return nil, dErrors.New(dErrors.CodeDeviceUnavailable, "no capture device has been granted")
	}
	if device.Facing() != facing {
		return nil, dErrors.New(dErrors.CodeDeviceUnavailable, "requested camera facing is not available")
	}
	if _, busy := r.held[key]; busy {
		return nil, dErrors.New(dErrors.CodeDeviceBusy, "capture device is held by another session")
	}

	h := &Handle{registry: r, key: key, device: device, constraints: c}
	r.held[key] = h
	r.refs.Add(1)
	r.logger.DebugContext(ctx, "capture device acquired", "device", key)
	return h, nil
}

// RefCount reports how many handles are currently open.
func (r *Registry) RefCount() int {
	return int(r.refs.Load())
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[h.key] == h {
		delete(r.held, h.key)
	}
	r.refs.Add(-1)
	r.logger.Debug("capture device released", "device", h.key)
}

// Handle is an acquired capture device. Close is idempotent and releases the
// device exactly once.
type Handle struct {
	registry    *Registry
	key         string
	device      *FeedDevice
	constraints Constraints
	closed      atomic.Bool
}

// CurrentFrame pulls the latest frame. A closed handle yields nothing.
func (h *Handle) CurrentFrame() (*Frame, bool) {
	if h.closed.Load() {
		return nil, false
	}
	return h.device.CurrentFrame()
}

// Constraints returns the parameters the handle was opened with.
func (h *Handle) Constraints() Constraints { return h.constraints }

// Close releases the device.
func (h *Handle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.registry.release(h)
	}
	return nil
}

// Closed reports whether the handle has been released.
func (h *Handle) Closed() bool { return h.closed.Load() }

// WithDevice opens the device, runs fn and releases the device on every exit path.
func (r *Registry) WithDevice(ctx context.Context, key string, c Constraints, fn func(FrameSource) error) error {
	h, err := r.Open(ctx, key, c)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}
