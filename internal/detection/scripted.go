package detection

import (
	"context"
	"sync"

	"livecheck/internal/capture"
)

// Scripted replays a fixed sequence of detections, one per call. Once the
// script is exhausted the last entry repeats. Nil entries mean "no face".
// It is used by tests and by the demo server when no detector URL is set.
type Scripted struct {
	mu     sync.Mutex
	script []*FeatureDetection
	next   int
	calls  int
}

// NewScripted creates a scripted detector.
func NewScripted(script ...*FeatureDetection) *Scripted {
	return &Scripted{script: script}
}

func (s *Scripted) Detect(ctx context.Context, _ *capture.Frame) (*FeatureDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return nil, nil
	}
	i := s.next
	if i >= len(s.script) {
		i = len(s.script) - 1
	} else {
		s.next++
	}
	if s.script[i] == nil {
		return nil, nil
	}
	det := *s.script[i]
	return &det, nil
}

// Calls reports how many detections were requested.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
