package client

import (
	"context"
	"fmt"
	"sync"

	"grove/internal/auth/models"
	"grove/pkg/platform/sentinel"
)

// InMemoryStore keeps registered clients in memory, keyed by the public
// OAuth client_id. Clients are provisioned at startup and immutable except
// secret rotation, so a plain map under RWMutex is enough.
type InMemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*models.Client
}

// New constructs an empty in-memory client store.
func New() *InMemoryStore {
	return &InMemoryStore{clients: make(map[string]*models.Client)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.OAuthClientID]; exists {
		return fmt.Errorf("client_id already registered: %w", sentinel.ErrConflict)
	}
	s.clients[c.OAuthClientID] = c
	return nil
}

func (s *InMemoryStore) FindByOAuthClientID(_ context.Context, oauthClientID string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[oauthClientID]
	if !ok {
		return nil, fmt.Errorf("client not found: %w", sentinel.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

// UpdateSecretHash persists a rotated secret hash.
func (s *InMemoryStore) UpdateSecretHash(_ context.Context, oauthClientID, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[oauthClientID]
	if !ok {
		return fmt.Errorf("client not found: %w", sentinel.ErrNotFound)
	}
	c.ClientSecretHash = secretHash
	return nil
}
