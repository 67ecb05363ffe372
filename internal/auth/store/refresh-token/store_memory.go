package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// translateRefreshTokenError maps validation failures onto the store's
// sentinel contract. Models wrap the expiry and single-use sentinels
// themselves; anything else is an invalid state transition.
func translateRefreshTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrExpired), errors.Is(err, sentinel.ErrAlreadyUsed):
		return err
	default:
		return fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
	}
}

// InMemoryStore keeps refresh token records in memory, keyed by token hash.
// Raw tokens never reach this layer.
type InMemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*models.RefreshToken
	byID   map[string]*models.RefreshToken
}

// New constructs an empty in-memory refresh token store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byHash: make(map[string]*models.RefreshToken),
		byID:   make(map[string]*models.RefreshToken),
	}
}

func (s *InMemoryStore) Create(_ context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[token.TokenHash] = token
	s.byID[token.ID] = token
	return nil
}

// ConsumeByHash marks the token revoked if valid, atomically with the lookup
// so rotation reuse detection is reliable.
//
// IMPORTANT: returns the record even on ErrAlreadyUsed so the service can
// detect replay and revoke the whole family.
func (s *InMemoryStore) ConsumeByHash(_ context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}

	if err := record.ValidateForConsume(now); err != nil {
		copied := *record
		return &copied, translateRefreshTokenError(err)
	}

	record.MarkRevoked(now)
	copied := *record
	return &copied, nil
}

// Revoke marks a single token revoked by ID. Idempotent; records are never
// deleted here, they are retained for audit.
func (s *InMemoryStore) Revoke(_ context.Context, tokenID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[tokenID]
	if !ok {
		return fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	record.MarkRevoked(now)
	return nil
}

// RevokeFamily marks every token in a rotation family revoked. Returns the
// number of tokens newly revoked.
func (s *InMemoryStore) RevokeFamily(_ context.Context, familyID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for _, record := range s.byID {
		if record.FamilyID == familyID && !record.Revoked {
			record.MarkRevoked(now)
			revoked++
		}
	}
	return revoked, nil
}

// RevokeBySessionID revokes all live tokens bound to a ledger session, used
// when the session itself is revoked.
func (s *InMemoryStore) RevokeBySessionID(_ context.Context, sessionID id.SessionID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for _, record := range s.byID {
		if record.SessionID == sessionID && !record.Revoked {
			record.MarkRevoked(now)
			revoked++
		}
	}
	return revoked, nil
}

// DeleteExpired removes records past expiry as of now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for hash, record := range s.byHash {
		if record.ExpiresAt.Before(now) {
			delete(s.byHash, hash)
			delete(s.byID, record.ID)
			deleted++
		}
	}
	return deleted, nil
}
