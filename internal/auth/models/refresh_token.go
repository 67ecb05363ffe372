package models

import (
	"fmt"
	"time"

	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// RefreshToken is the stored side of a long-lived renewal credential. The raw
// token is returned to the caller exactly once at issuance; only its SHA-256
// hash is ever persisted, so a storage leak does not yield usable
// credentials.
//
// FamilyID links tokens descended from one another via rotation. Presenting
// an already-revoked token is a reuse signal: the whole family is revoked,
// not just the presented token.
type RefreshToken struct {
	ID        string
	TokenHash string
	FamilyID  string
	UserID    id.UserID
	ClientID  string
	SessionID id.SessionID
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// ValidateForConsume checks the token can be rotated now. Pure; the store
// calls it under its lock.
func (t *RefreshToken) ValidateForConsume(now time.Time) error {
	if t.Revoked {
		return fmt.Errorf("refresh token %w", sentinel.ErrAlreadyUsed)
	}
	if now.After(t.ExpiresAt) {
		return fmt.Errorf("refresh token %w", sentinel.ErrExpired)
	}
	return nil
}

// MarkRevoked transitions the token to revoked. Records are retained for
// audit; revocation never deletes.
func (t *RefreshToken) MarkRevoked(now time.Time) {
	if t.Revoked {
		return
	}
	t.Revoked = true
	t.RevokedAt = &now
}
