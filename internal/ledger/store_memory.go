package ledger

import (
	"context"
	"fmt"
	"sync"

	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// InMemoryStore is the single-instance session persistence behind the
// ledger. The ledger actor serializes writes per user; this store only has
// to be safe across users.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.SessionID]*Session
	byUser map[id.UserID]map[id.SessionID]struct{}
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.SessionID]*Session),
		byUser: make(map[id.UserID]map[id.SessionID]struct{}),
	}
}

func (s *InMemoryStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[session.ID] = session
	if s.byUser[session.UserID] == nil {
		s.byUser[session.UserID] = make(map[id.SessionID]struct{})
	}
	s.byUser[session.UserID][session.ID] = struct{}{}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, sessionID id.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	sessions := make([]*Session, 0, len(ids))
	for sessionID := range ids {
		if session, ok := s.byID[sessionID]; ok {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	delete(s.byID, sessionID)
	if userSessions := s.byUser[session.UserID]; userSessions != nil {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(s.byUser, session.UserID)
		}
	}
	return nil
}
