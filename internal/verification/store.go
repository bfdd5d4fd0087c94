package verification

import (
	"context"
	"sync"

	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

// Store persists sessions. Implementations hand out copies.
type Store interface {
	// Create fails with sentinel.ErrConflict when the user already has a live session.
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID id.SessionID) (*Session, error)
	Update(ctx context.Context, session *Session) error
	ActiveForUser(ctx context.Context, userID id.UserID) (*Session, error)
	ListActive(ctx context.Context) ([]*Session, error)
}

// InMemoryStore keeps sessions in process with a per-user index of the live one.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
	active   map[id.UserID]id.SessionID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]*Session),
		active:   make(map[id.UserID]id.SessionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[session.UserID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.sessions[session.ID]; ok {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	if !session.Phase.IsTerminal() {
		s.active[session.UserID] = session.ID
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

// Update replaces the stored session. A session reaching a terminal phase
// frees the user's active slot.
func (s *InMemoryStore) Update(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.sessions[session.ID] = session.Clone()
	if session.Phase.IsTerminal() && s.active[session.UserID] == session.ID {
		delete(s.active, session.UserID)
	}
	return nil
}

func (s *InMemoryStore) ActiveForUser(_ context.Context, userID id.UserID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.active[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.sessions[sessionID].Clone(), nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.active))
	for _, sessionID := range s.active {
		out = append(out, s.sessions[sessionID].Clone())
	}
	return out, nil
}
