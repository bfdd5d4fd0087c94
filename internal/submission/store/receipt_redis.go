package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

const receiptKeyPrefix = "livecheck:receipt:"

// DefaultReceiptTTL keeps receipts well past the review window.
const DefaultReceiptTTL = 30 * 24 * time.Hour

// RedisReceiptStore shares receipts between instances so a retried submit
// on another node still finds the prior receipt.
type RedisReceiptStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// RedisOption configures a RedisReceiptStore.
type RedisOption func(*RedisReceiptStore)

// WithTTL sets how long a receipt is kept.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisReceiptStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedisReceiptStore(client redis.Cmdable, opts ...RedisOption) *RedisReceiptStore {
	s := &RedisReceiptStore{client: client, ttl: DefaultReceiptTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func receiptKey(sessionID id.SessionID) string {
	return receiptKeyPrefix + sessionID.String()
}

func (s *RedisReceiptStore) Get(ctx context.Context, sessionID id.SessionID) (*submission.Receipt, error) {
	raw, err := s.client.Get(ctx, receiptKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	var r submission.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// SaveIfAbsent uses SET NX so the first writer wins across instances.
func (s *RedisReceiptStore) SaveIfAbsent(ctx context.Context, r *submission.Receipt) (*submission.Receipt, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	ok, err := s.client.SetNX(ctx, receiptKey(r.SessionID), raw, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("save receipt: %w", err)
	}
	if ok {
		out := *r
		return &out, nil
	}
	return s.Get(ctx, r.SessionID)
}
