package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"livecheck/internal/capture"
	dErrors "livecheck/pkg/domain-errors"
	"livecheck/pkg/platform/circuit"
)

const detectPath = "/v1/detect"

// HTTPDetector calls a remote face-detection service. Consecutive transport
// or server failures open a circuit; while it is open and the cooldown has
// not elapsed calls fail fast with an unavailable error.
type HTTPDetector struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	cooldown   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	openedAt time.Time
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDetector) { d.httpClient = c }
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(d *HTTPDetector) { d.breaker = b }
}

func WithCooldown(cooldown time.Duration) HTTPOption {
	return func(d *HTTPDetector) { d.cooldown = cooldown }
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(d *HTTPDetector) { d.logger = logger }
}

func withNow(now func() time.Time) HTTPOption {
	return func(d *HTTPDetector) { d.now = now }
}

// NewHTTPDetector creates a detector posting frames to baseURL.
func NewHTTPDetector(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPDetector {
	d := &HTTPDetector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("detector"),
		cooldown:   5 * time.Second,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type detectRequest struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

type detectResponse struct {
	Faces []remoteFace `json:"faces"`
}

type remoteFace struct {
	Box         Region       `json:"box"`
	Landmarks   [][2]float64 `json:"landmarks"`
	Confidence  float64      `json:"confidence"`
	Pose        *HeadPose    `json:"pose,omitempty"`
	EyeOpenness *float64     `json:"eye_openness,omitempty"`
	Smile       *float64     `json:"smile,omitempty"`
}

// Detect sends the frame and returns the most confident face, if any.
func (d *HTTPDetector) Detect(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error) {
	if d.fastFail() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "detector circuit open")
	}

	body, err := json.Marshal(detectRequest{
		Image:  base64.StdEncoding.EncodeToString(frame.Data),
		Format: frame.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+detectPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.recordFailure(ctx)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "detector request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		d.recordFailure(ctx)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("detector failed with status %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("detector rejected frame with status %d", resp.StatusCode))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		d.recordFailure(ctx)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to decode detect response")
	}
	d.recordSuccess(ctx)
	return bestFace(out.Faces), nil
}

func bestFace(faces []remoteFace) *FeatureDetection {
	if len(faces) == 0 {
		return nil
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}

	det := &FeatureDetection{
		Region:     best.Box,
		Confidence: clamp(best.Confidence, 0, 1),
		Landmarks:  make([]Point, len(best.Landmarks)),
	}
	for i, p := range best.Landmarks {
		det.Landmarks[i] = Point{X: p[0], Y: p[1]}
	}

	// Service-supplied measurements win; missing ones come from landmarks.
	if best.Pose != nil || best.EyeOpenness != nil || best.Smile != nil {
		s, _ := SignalsFromLandmarks(det.Landmarks)
		if best.Pose != nil {
			s.Pose = *best.Pose
		}
		if best.EyeOpenness != nil {
			s.EyeOpenness = *best.EyeOpenness
		}
		if best.Smile != nil {
			s.Smile = clamp(*best.Smile, 0, 1)
		}
		det.Signals = &s
	} else if s, ok := SignalsFromLandmarks(det.Landmarks); ok {
		det.Signals = &s
	}
	return det
}

func (d *HTTPDetector) fastFail() bool {
	if !d.breaker.IsOpen() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Sub(d.openedAt) < d.cooldown
}

func (d *HTTPDetector) recordFailure(ctx context.Context) {
	_, change := d.breaker.RecordFailure()
	if d.breaker.IsOpen() {
		d.mu.Lock()
		d.openedAt = d.now()
		d.mu.Unlock()
	}
	if change.Opened {
		d.logger.WarnContext(ctx, "detector circuit opened", "breaker", d.breaker.Name())
	}
}

func (d *HTTPDetector) recordSuccess(ctx context.Context) {
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "detector circuit closed", "breaker", d.breaker.Name())
	}
}
