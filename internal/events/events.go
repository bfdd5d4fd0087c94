// Package events publishes verification lifecycle events for observability.
// Publishing is fail-open: a broken sink never fails a verification.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event.
type Type string

const (
	ChallengeCompleted Type = "challenge_completed"
	ChallengeTimedOut  Type = "challenge_timed_out"
	ScanCompleted      Type = "scan_completed"
	DecisionMade       Type = "decision_made"
	SessionCancelled   Type = "session_cancelled"
	SessionExpired     Type = "session_expired"
	SubmissionAccepted Type = "submission_accepted"
	SubmissionRejected Type = "submission_rejected"
)

// Event is a single lifecycle event.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// New builds an event with a fresh ID.
func New(t Type, sessionID string, at time.Time, attrs map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		SessionID:  sessionID,
		Timestamp:  at,
		Attributes: attrs,
	}
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// MemoryPublisher records events in order. Used by tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the published events of one type.
func (p *MemoryPublisher) OfType(t Type) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "verification event",
		"event_type", string(event.Type),
		"event_id", event.ID,
		"session_id", event.SessionID,
		"attributes", event.Attributes,
	)
	return nil
}

// Fanout publishes to every sink and reports the first failure.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
