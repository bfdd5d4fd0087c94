// Package store holds submission receipts and the decision record archive.
package store

import (
	"context"
	"sync"

	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

// InMemoryReceiptStore keeps receipts in process.
type InMemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[id.SessionID]submission.Receipt
}

func NewInMemoryReceiptStore() *InMemoryReceiptStore {
	return &InMemoryReceiptStore{receipts: make(map[id.SessionID]submission.Receipt)}
}

func (s *InMemoryReceiptStore) Get(_ context.Context, sessionID id.SessionID) (*submission.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryReceiptStore) SaveIfAbsent(_ context.Context, r *submission.Receipt) (*submission.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.receipts[r.SessionID]; ok {
		return &existing, nil
	}
	s.receipts[r.SessionID] = *r
	out := *r
	return &out, nil
}
