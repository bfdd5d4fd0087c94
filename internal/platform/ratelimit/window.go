// Package ratelimit throttles per-user request bursts on the capture API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the wait in whole seconds before a denied caller may retry.
	RetryAfter int
}

// Limiter decides whether a keyed request fits its quota.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// SlidingWindow is an in-memory sliding-window limiter. It is not shared
// across replicas.
type SlidingWindow struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	buckets map[string]*window
}

type window struct {
	hits []time.Time
	size time.Duration
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

func WithClock(clock clockwork.Clock) Option {
	return func(s *SlidingWindow) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewSlidingWindow(opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		clock:   clockwork.NewRealClock(),
		buckets: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records one hit for key when it fits within limit hits per window.
func (s *SlidingWindow) Allow(_ context.Context, key string, limit int, size time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	w := s.buckets[key]
	if w == nil {
		w = &window{size: size}
		s.buckets[key] = w
	}
	w.size = size
	w.trim(now)

	if len(w.hits) < limit {
		w.hits = append(w.hits, now)
		return &Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(w.hits),
			ResetAt:   w.hits[0].Add(size),
		}, nil
	}

	var resetAt time.Time
	if len(w.hits) > 0 {
		resetAt = w.hits[0].Add(size)
	} else {
		resetAt = now.Add(size)
	}
	return &Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(resetAt.Sub(now)),
	}, nil
}

// Prune drops buckets whose hits have all aged out.
func (s *SlidingWindow) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, w := range s.buckets {
		w.trim(now)
		if len(w.hits) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// RunPruner calls Prune every interval until ctx is done.
func (s *SlidingWindow) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Prune()
		}
	}
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for ; i < len(w.hits); i++ {
		if w.hits[i].After(cutoff) {
			break
		}
	}
	w.hits = w.hits[i:]
}

func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
