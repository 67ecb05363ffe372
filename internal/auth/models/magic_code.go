package models

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"grove/pkg/platform/sentinel"
)

// MagicCode is a one-time passwordless login code delivered out-of-band to an
// email address. Lookup is always keyed by (email, code), never by code
// alone, so a guessed code cannot be redeemed against another account.
type MagicCode struct {
	ID        string
	Email     string // normalized
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// ValidateForConsume checks the code can be redeemed now for the given email.
// Pure; the store calls it under its lock.
func (m *MagicCode) ValidateForConsume(email, code string, now time.Time) error {
	if m.Used {
		return fmt.Errorf("magic code %w", sentinel.ErrAlreadyUsed)
	}
	if now.After(m.ExpiresAt) {
		return fmt.Errorf("magic code %w", sentinel.ErrExpired)
	}
	if m.Email != email {
		return errors.New("magic code email mismatch")
	}
	if subtle.ConstantTimeCompare([]byte(m.Code), []byte(code)) != 1 {
		return errors.New("magic code mismatch")
	}
	return nil
}

// MarkUsed transitions the code to its terminal consumed state.
func (m *MagicCode) MarkUsed(now time.Time) {
	m.Used = true
	m.UsedAt = &now
}
