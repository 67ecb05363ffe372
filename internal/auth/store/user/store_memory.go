package user

import (
	"context"
	"fmt"
	"sync"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// InMemoryStore keeps user records in memory. The authoritative identity
// store lives with the credential-verification library; this mirror holds
// just what the auth service needs for userinfo and magic-link provisioning.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.UserID]*models.User
	byEmail map[string]*models.User
}

// New constructs an empty in-memory user store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.UserID]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (s *InMemoryStore) Save(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}
