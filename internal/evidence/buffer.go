package evidence

import "sync"

// Buffer is a bounded evidence buffer. When full, it drops the oldest frame of
// whichever step holds the most frames, so every step keeps coverage. Ties go
// to the step being added to.
type Buffer struct {
	mu       sync.Mutex
	frames   []CaptureFrame
	capacity int
	dropped  int
}

// NewBuffer creates a buffer holding at most capacity frames, never more
// than MaxFrames.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 || capacity > MaxFrames {
		capacity = MaxFrames
	}
	return &Buffer{
		frames:   make([]CaptureFrame, 0, capacity),
		capacity: capacity,
	}
}

// Add retains a frame, evicting one if the buffer is full.
func (b *Buffer) Add(frame CaptureFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) >= b.capacity {
		b.evictLocked(frame.Step)
	}
	b.frames = append(b.frames, frame)
}

func (b *Buffer) evictLocked(incoming string) {
	counts := make(map[string]int)
	for _, f := range b.frames {
		counts[f.Step]++
	}
	victim, most := incoming, counts[incoming]
	for _, f := range b.frames {
		if counts[f.Step] > most {
			victim, most = f.Step, counts[f.Step]
		}
	}
	for i, f := range b.frames {
		if f.Step == victim {
			b.frames = append(b.frames[:i], b.frames[i+1:]...)
			b.dropped++
			return
		}
	}
}

// Frames returns the retained frames in capture order.
func (b *Buffer) Frames() []CaptureFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CaptureFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Len returns the number of retained frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Dropped returns how many frames were evicted.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
