package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher buffers events in memory and ships them to Kafka from a
// background loop. Publish never blocks on the broker; when the buffer
// overflows the oldest events are dropped.
type KafkaPublisher struct {
	client    producer
	topic     string
	buffer    *RingBuffer
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	wake      chan struct{}
}

// KafkaOption configures a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

func WithBufferSize(n int) KafkaOption {
	return func(p *KafkaPublisher) { p.buffer = NewRingBuffer(n) }
}

func WithBatchSize(n int) KafkaOption {
	return func(p *KafkaPublisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) KafkaOption {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) { p.logger = logger }
}

// NewKafkaPublisher connects a franz-go client to brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafkaPublisher(client, topic, opts...), nil
}

func newKafkaPublisher(client producer, topic string, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{
		client:    client,
		topic:     topic,
		buffer:    NewRingBuffer(1024),
		batchSize: 100,
		interval:  time.Second,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish enqueues the event for delivery.
func (p *KafkaPublisher) Publish(_ context.Context, event Event) error {
	p.buffer.Enqueue(event)
	if p.buffer.Len() >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p.Flush(flushCtx)
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.wake:
			p.Flush(ctx)
		}
	}
}

// Flush sends everything currently buffered. Failed batches go back to the
// front of the buffer for the next attempt.
func (p *KafkaPublisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		records := make([]*kgo.Record, 0, len(batch))
		for _, e := range batch {
			value, err := json.Marshal(e)
			if err != nil {
				p.logger.ErrorContext(ctx, "failed to encode event", "event_id", e.ID, "error", err)
				continue
			}
			records = append(records, &kgo.Record{
				Topic:   p.topic,
				Key:     []byte(e.SessionID),
				Value:   value,
				Headers: []kgo.RecordHeader{{Key: "event_type", Value: []byte(e.Type)}},
			})
		}
		if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			p.buffer.Requeue(batch)
			p.logger.WarnContext(ctx, "failed to publish events to kafka",
				"error", err,
				"batch_size", len(batch),
				"dropped_total", p.buffer.Dropped(),
			)
			return
		}
	}
}

// Close releases the kafka client. Call after Run has returned.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
