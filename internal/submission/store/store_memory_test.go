package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

type ReceiptStoreSuite struct {
	suite.Suite
	store *InMemoryReceiptStore
}

func TestReceiptStoreSuite(t *testing.T) {
	suite.Run(t, new(ReceiptStoreSuite))
}

func (s *ReceiptStoreSuite) SetupTest() {
	s.store = NewInMemoryReceiptStore()
}

func newReceipt(sessionID id.SessionID) *submission.Receipt {
	return &submission.Receipt{
		ID:          id.NewReceiptID(),
		SessionID:   sessionID,
		Accepted:    true,
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *ReceiptStoreSuite) TestGet() {
	s.Run("returns ErrNotFound for unknown session", func() {
		_, err := s.store.Get(context.Background(), id.NewSessionID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns a copy of the stored receipt", func() {
		r := newReceipt(id.NewSessionID())
		_, err := s.store.SaveIfAbsent(context.Background(), r)
		s.Require().NoError(err)

		got, err := s.store.Get(context.Background(), r.SessionID)
		s.Require().NoError(err)
		got.Accepted = false

		again, err := s.store.Get(context.Background(), r.SessionID)
		s.Require().NoError(err)
		s.True(again.Accepted)
	})
}

func (s *ReceiptStoreSuite) TestSaveIfAbsent() {
	s.Run("first writer wins", func() {
		sessionID := id.NewSessionID()
		first := newReceipt(sessionID)
		second := newReceipt(sessionID)

		stored, err := s.store.SaveIfAbsent(context.Background(), first)
		s.Require().NoError(err)
		s.Equal(first.ID, stored.ID)

		stored, err = s.store.SaveIfAbsent(context.Background(), second)
		s.Require().NoError(err)
		s.Equal(first.ID, stored.ID)
	})

	s.Run("concurrent writers agree on one receipt", func() {
		sessionID := id.NewSessionID()
		ids := make([]id.ReceiptID, 16)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r, err := s.store.SaveIfAbsent(context.Background(), newReceipt(sessionID))
				s.NoError(err)
				ids[i] = r.ID
			}(i)
		}
		wg.Wait()
		for _, got := range ids[1:] {
			s.Equal(ids[0], got)
		}
	})
}
