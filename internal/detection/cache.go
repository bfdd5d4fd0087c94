package detection

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"livecheck/internal/capture"
)

const cacheKeyPrefix = "livecheck:detect:"

// noFace marks a cached negative result.
var noFace = []byte("null")

// CachedDetector memoises detections in Redis keyed by a digest of the frame
// bytes. A client re-sending an identical frame skips the remote call. Redis
// errors never fail a detection; the inner detector is used instead.
type CachedDetector struct {
	inner  Detector
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedDetector wraps inner with a Redis cache.
func NewCachedDetector(inner Detector, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDetector{inner: inner, client: client, ttl: ttl, logger: logger}
}

// FrameDigest returns the hex BLAKE2b-256 digest of the frame bytes.
func FrameDigest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *CachedDetector) Detect(ctx context.Context, frame *capture.Frame) (*FeatureDetection, error) {
	key := cacheKeyPrefix + FrameDigest(frame.Data)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var det *FeatureDetection
		if jsonErr := json.Unmarshal(raw, &det); jsonErr == nil {
			return det, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "detection cache read failed", "error", err)
	}

	det, err := c.inner.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	payload := noFace
	if det != nil {
		if payload, err = json.Marshal(det); err != nil {
			return det, nil
		}
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "detection cache write failed", "error", err)
	}
	return det, nil
}
