package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func event(sessionID string, t Type) Event {
	return New(t, sessionID, time.Unix(0, 0), map[string]any{"k": "v"})
}

func TestRingBuffer(t *testing.T) {
	t.Run("drops oldest when full", func(t *testing.T) {
		b := NewRingBuffer(2)
		b.Enqueue(event("a", ChallengeCompleted))
		b.Enqueue(event("b", ChallengeCompleted))
		b.Enqueue(event("c", ChallengeCompleted))

		got := b.DequeueBatch(10)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].SessionID)
		assert.Equal(t, "c", got[1].SessionID)
		assert.Equal(t, int64(1), b.Dropped())
	})

	t.Run("requeue restores order at the front", func(t *testing.T) {
		b := NewRingBuffer(4)
		b.Enqueue(event("a", ChallengeCompleted))
		b.Enqueue(event("b", ChallengeCompleted))
		batch := b.DequeueBatch(2)
		b.Enqueue(event("c", ChallengeCompleted))
		b.Requeue(batch)

		got := b.DequeueBatch(10)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].SessionID, got[1].SessionID, got[2].SessionID})
	})

	t.Run("requeue drops what does not fit", func(t *testing.T) {
		b := NewRingBuffer(2)
		b.Enqueue(event("x", ChallengeCompleted))
		b.Requeue([]Event{event("a", ChallengeCompleted), event("b", ChallengeCompleted)})
		assert.Equal(t, 2, b.Len())
		assert.Equal(t, int64(1), b.Dropped())
		got := b.DequeueBatch(10)
		assert.Equal(t, "b", got[0].SessionID)
	})
}

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	require.NoError(t, p.Publish(context.Background(), event("s", ChallengeCompleted)))
	require.NoError(t, p.Publish(context.Background(), event("s", DecisionMade)))
	assert.Len(t, p.Events(), 2)
	assert.Len(t, p.OfType(DecisionMade), 1)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, p.Publish(context.Background(), event("sess-1", ChallengeTimedOut)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "challenge_timed_out", line["event_type"])
	assert.Equal(t, "sess-1", line["session_id"])
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }

func TestFanout(t *testing.T) {
	mem := NewMemoryPublisher()
	err := Fanout{failingPublisher{}, mem}.Publish(context.Background(), event("s", DecisionMade))
	require.Error(t, err)
	assert.Len(t, mem.Events(), 1, "later sinks still receive the event")
}

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	fail    bool
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.fail {
			results = append(results, kgo.ProduceResult{Record: r, Err: errors.New("broker down")})
			continue
		}
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

func (f *fakeProducer) Close() { f.closed = true }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestKafkaPublisher_Flush(t *testing.T) {
	prod := &fakeProducer{}
	p := newKafkaPublisher(prod, "verification-events", WithBatchSize(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish(ctx, event(id, ChallengeCompleted)))
	}
	p.Flush(ctx)

	require.Equal(t, 3, prod.count())
	rec := prod.records[0]
	assert.Equal(t, "verification-events", rec.Topic)
	assert.Equal(t, []byte("a"), rec.Key)
	assert.Equal(t, "event_type", rec.Headers[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, ChallengeCompleted, decoded.Type)
}

func TestKafkaPublisher_FailedBatchIsRetried(t *testing.T) {
	prod := &fakeProducer{fail: true}
	p := newKafkaPublisher(prod, "t")
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, event("a", DecisionMade)))
	p.Flush(ctx)
	assert.Equal(t, 1, p.buffer.Len(), "event kept for retry")

	prod.fail = false
	p.Flush(ctx)
	assert.Equal(t, 0, p.buffer.Len())
	assert.Equal(t, 1, prod.count())
}

func TestKafkaPublisher_RunFlushesOnShutdown(t *testing.T) {
	prod := &fakeProducer{}
	p := newKafkaPublisher(prod, "t", WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, p.Publish(context.Background(), event("a", DecisionMade)))
	cancel()
	require.NoError(t, <-done)
	p.Close()

	assert.Equal(t, 1, prod.count())
	assert.True(t, prod.closed)
}
