// Package liveness drives an ordered list of liveness challenges over a frame
// source, deciding per challenge whether the instructed action was observed
// before its deadline.
package liveness

import (
	"fmt"
	"time"

	dErrors "livecheck/pkg/domain-errors"
)

// Kind tags a challenge and selects its completion predicate.
type Kind string

const (
	KindBlink     Kind = "blink"
	KindSmile     Kind = "smile"
	KindTurnLeft  Kind = "turn_left"
	KindTurnRight Kind = "turn_right"
	KindNod       Kind = "nod"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindBlink, KindSmile, KindTurnLeft, KindTurnRight, KindNod:
		return true
	}
	return false
}

// Instruction is the default user-facing text for the kind.
func (k Kind) Instruction() string {
	switch k {
	case KindBlink:
		return "Blink twice"
	case KindSmile:
		return "Smile and hold it"
	case KindTurnLeft:
		return "Slowly turn your head to the left"
	case KindTurnRight:
		return "Slowly turn your head to the right"
	case KindNod:
		return "Nod your head down and back up"
	}
	return ""
}

// Challenge is a single liveness instruction. It is immutable once defined
// for a session; outcomes live on Result.
type Challenge struct {
	Kind        Kind
	Instruction string
	MaxDuration time.Duration
}

// NewChallenge builds a challenge with the default instruction text.
func NewChallenge(kind Kind, maxDuration time.Duration) Challenge {
	return Challenge{Kind: kind, Instruction: kind.Instruction(), MaxDuration: maxDuration}
}

// DefaultChallenges is the standard five-step sequence.
func DefaultChallenges(maxDuration time.Duration) []Challenge {
	kinds := []Kind{KindBlink, KindSmile, KindTurnLeft, KindTurnRight, KindNod}
	out := make([]Challenge, len(kinds))
	for i, k := range kinds {
		out[i] = NewChallenge(k, maxDuration)
	}
	return out
}

// ValidateChallenges rejects empty sequences, unknown kinds and non-positive durations.
func ValidateChallenges(challenges []Challenge) error {
	if len(challenges) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one challenge is required")
	}
	for i, c := range challenges {
		if !c.Kind.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("challenge %d: unknown kind %q", i, c.Kind))
		}
		if c.MaxDuration <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("challenge %d: max duration must be positive", i))
		}
	}
	return nil
}

// Status is the per-challenge state.
type Status string

const (
	StatusAwaitingStart Status = "awaiting_start"
	StatusSampling      Status = "sampling"
	StatusCompleted     Status = "completed"
	StatusTimedOut      Status = "timed_out"
)

// Result is the outcome of running one challenge.
type Result struct {
	Challenge   Challenge
	Status      Status
	Detected    bool
	Confidence  float64
	Elapsed     time.Duration
	SampleCount int
	StartedAt   time.Time
	CompletedAt time.Time
}

// Completed reports whether the action was observed in time.
func (r Result) Completed() bool { return r.Status == StatusCompleted }

// Score is completed challenges over total challenges, scaled to 0..100.
func Score(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	completed := 0
	for _, r := range results {
		if r.Completed() {
			completed++
		}
	}
	return float64(completed) / float64(len(results)) * 100
}
