package magiccode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove/internal/auth/models"
	"grove/pkg/platform/sentinel"
)

func translateMagicCodeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrExpired), errors.Is(err, sentinel.ErrAlreadyUsed):
		return err
	default:
		return fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
	}
}

// key joins email and code; lookup is never by code alone.
func key(email, code string) string {
	return email + "\x00" + code
}

// InMemoryStore stores magic codes in memory for single-instance deployments
// and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	codes map[string]*models.MagicCode
}

// New constructs an empty in-memory magic code store.
func New() *InMemoryStore {
	return &InMemoryStore{codes: make(map[string]*models.MagicCode)}
}

func (s *InMemoryStore) Create(_ context.Context, code *models.MagicCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key(code.Email, code.Code)] = code
	return nil
}

// Consume is the single atomic fetch-and-mark-used operation keyed by
// (email, code). Concurrent redemptions succeed for at most one caller.
func (s *InMemoryStore) Consume(_ context.Context, email, code string, now time.Time) (*models.MagicCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[key(email, code)]
	if !ok {
		return nil, fmt.Errorf("magic code not found: %w", sentinel.ErrNotFound)
	}

	if err := record.ValidateForConsume(email, code, now); err != nil {
		return record, translateMagicCodeError(err)
	}

	record.MarkUsed(now)
	copied := *record
	return &copied, nil
}

// DeleteExpired removes codes past expiry as of now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for k, record := range s.codes {
		if record.ExpiresAt.Before(now) {
			delete(s.codes, k)
			deleted++
		}
	}
	return deleted, nil
}
