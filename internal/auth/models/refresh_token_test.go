package models

import (
	"errors"
	"testing"
	"time"

	"grove/pkg/platform/sentinel"
)

func TestRefreshToken_ValidateForConsume(t *testing.T) {
	now := testNow()
	token := &RefreshToken{
		ID:        "rt-1",
		TokenHash: "hash",
		FamilyID:  "fam-1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
	}

	t.Run("live token passes", func(t *testing.T) {
		if err := token.ValidateForConsume(now); err != nil {
			t.Fatalf("expected valid, got %v", err)
		}
	})

	// Stores branch on these sentinels with errors.Is; the failure reasons
	// are typed, not matched by message.
	t.Run("revoked token reports already used", func(t *testing.T) {
		revoked := *token
		revoked.MarkRevoked(now)
		err := revoked.ValidateForConsume(now)
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			t.Fatalf("expected ErrAlreadyUsed, got %v", err)
		}
	})

	t.Run("past expiry reports expired", func(t *testing.T) {
		err := token.ValidateForConsume(now.Add(31 * 24 * time.Hour))
		if !errors.Is(err, sentinel.ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	})
}
