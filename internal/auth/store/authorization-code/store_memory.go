package authorizationcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove/internal/auth/models"
	"grove/pkg/platform/sentinel"
)

// translateAuthCodeError maps validation failures onto the store's sentinel
// contract. Models wrap the expiry and single-use sentinels themselves;
// anything else (redirect mismatch) is an invalid state transition.
func translateAuthCodeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrExpired), errors.Is(err, sentinel.ErrAlreadyUsed):
		return err
	default:
		return fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
	}
}

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryStore stores authorization codes in memory for single-instance
// deployments and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	codes map[string]*models.AuthorizationCode
}

// New constructs an empty in-memory authorization code store.
func New() *InMemoryStore {
	return &InMemoryStore{codes: make(map[string]*models.AuthorizationCode)}
}

func (s *InMemoryStore) Create(_ context.Context, code *models.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// Consume marks the authorization code as used if valid. Lookup, validation
// and the used transition happen under one lock so concurrent redemptions of
// the same code succeed for at most one caller.
func (s *InMemoryStore) Consume(_ context.Context, code, redirectURI string, now time.Time) (*models.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}

	if err := record.ValidateForConsume(redirectURI, now); err != nil {
		return record, translateAuthCodeError(err)
	}

	record.MarkUsed(now)
	copied := *record
	return &copied, nil
}

// DeleteExpired removes codes past expiry as of now. Expiry is enforced at
// use time regardless; this only reclaims memory.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for code, record := range s.codes {
		if record.ExpiresAt.Before(now) {
			delete(s.codes, code)
			deleted++
		}
	}
	return deleted, nil
}
