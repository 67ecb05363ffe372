package devicecode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// PollOutcome is the result of one atomic poll evaluation.
type PollOutcome string

const (
	// OutcomeAuthorized is returned exactly once per code: the poll that
	// observes the authorized state also consumes it.
	OutcomeAuthorized PollOutcome = "authorized"
	OutcomePending    PollOutcome = "pending"
	OutcomeSlowDown   PollOutcome = "slow_down"
	OutcomeDenied     PollOutcome = "denied"
	OutcomeExpired    PollOutcome = "expired"
	OutcomeConsumed   PollOutcome = "consumed"
)

// InMemoryStore stores pending device-flow grants in memory. Records are
// indexed by the device code hash (what the polling client effectively
// presents) and by user code (what the companion device types).
type InMemoryStore struct {
	mu         sync.RWMutex
	byHash     map[string]*models.DeviceCode
	byUserCode map[string]*models.DeviceCode
}

// New constructs an empty in-memory device code store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byHash:     make(map[string]*models.DeviceCode),
		byUserCode: make(map[string]*models.DeviceCode),
	}
}

func (s *InMemoryStore) Create(_ context.Context, code *models.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUserCode[code.UserCode]; exists {
		return fmt.Errorf("user code collision: %w", sentinel.ErrConflict)
	}
	s.byHash[code.DeviceCodeHash] = code
	s.byUserCode[code.UserCode] = code
	return nil
}

// Poll atomically records a poll attempt and evaluates the state machine.
// Throttling is checked before state so an over-eager client is slowed even
// when its grant is ready; the authorized transition to consumed happens
// under the same lock, so tokens are issued for a code exactly once.
func (s *InMemoryStore) Poll(_ context.Context, deviceCodeHash string, now time.Time) (*models.DeviceCode, PollOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byHash[deviceCodeHash]
	if !ok {
		return nil, "", fmt.Errorf("device code not found: %w", sentinel.ErrNotFound)
	}

	tooFast := record.RegisterPoll(now)

	// Absolute expiry wins over everything, including a pending authorize.
	if record.Status == models.DeviceStatusPending && record.IsExpired(now) {
		record.Status = models.DeviceStatusExpired
	}

	copied := *record
	switch record.Status {
	case models.DeviceStatusExpired:
		return &copied, OutcomeExpired, nil
	case models.DeviceStatusDenied:
		return &copied, OutcomeDenied, nil
	case models.DeviceStatusConsumed:
		return &copied, OutcomeConsumed, nil
	}

	if tooFast {
		return &copied, OutcomeSlowDown, nil
	}

	if record.Status == models.DeviceStatusAuthorized {
		record.MarkConsumed()
		copied = *record
		return &copied, OutcomeAuthorized, nil
	}

	return &copied, OutcomePending, nil
}

// AuthorizeByUserCode binds the user and transitions pending → authorized.
func (s *InMemoryStore) AuthorizeByUserCode(_ context.Context, userCode string, userID id.UserID, now time.Time) (*models.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byUserCode[userCode]
	if !ok {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	if err := record.Authorize(userID, now); err != nil {
		return record, fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
	}
	copied := *record
	return &copied, nil
}

// DenyByUserCode transitions pending → denied.
func (s *InMemoryStore) DenyByUserCode(_ context.Context, userCode string, now time.Time) (*models.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byUserCode[userCode]
	if !ok {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	if err := record.Deny(now); err != nil {
		return record, fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
	}
	copied := *record
	return &copied, nil
}

// FindByUserCode returns the record for the verification page, without
// mutating state.
func (s *InMemoryStore) FindByUserCode(_ context.Context, userCode string) (*models.DeviceCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byUserCode[userCode]
	if !ok {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	copied := *record
	return &copied, nil
}

// DeleteExpired removes records past expiry as of now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for hash, record := range s.byHash {
		if record.ExpiresAt.Before(now) {
			delete(s.byHash, hash)
			delete(s.byUserCode, record.UserCode)
			deleted++
		}
	}
	return deleted, nil
}
