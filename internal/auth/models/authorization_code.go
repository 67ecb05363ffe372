package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// CodeChallengeMethod is the PKCE transformation named at authorize time.
type CodeChallengeMethod string

const (
	ChallengeMethodS256  CodeChallengeMethod = "S256"
	ChallengeMethodPlain CodeChallengeMethod = "plain"
)

// AuthorizationCode is one-time proof of a completed authorize step, bound to
// (client, user, redirect URI, PKCE challenge).
//
// Invariants:
//   - consumed exactly once; concurrent redemptions succeed for at most one caller
//   - the redirect URI presented at exchange must exactly equal the one bound here
//   - when a code challenge is stored, exchange must present a matching verifier
type AuthorizationCode struct {
	Code                string
	ClientID            string // public OAuth client_id
	UserID              id.UserID
	SessionID           id.SessionID
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
	UsedAt              *time.Time
}

// ValidateForConsume checks the code can be redeemed now against the
// presented redirect URI. Pure; the store calls it under its lock.
func (c *AuthorizationCode) ValidateForConsume(redirectURI string, now time.Time) error {
	if c.Used {
		return fmt.Errorf("authorization code %w", sentinel.ErrAlreadyUsed)
	}
	if now.After(c.ExpiresAt) {
		return fmt.Errorf("authorization code %w", sentinel.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(c.RedirectURI), []byte(redirectURI)) != 1 {
		return errors.New("redirect URI mismatch")
	}
	return nil
}

// VerifyPKCE checks the presented code_verifier against the stored challenge.
// A code bound without PKCE accepts any (including empty) verifier; a code
// bound with PKCE rejects an absent or mismatched verifier.
func (c *AuthorizationCode) VerifyPKCE(verifier string) error {
	if c.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return errors.New("code verifier required")
	}

	var derived string
	switch c.CodeChallengeMethod {
	case ChallengeMethodPlain:
		derived = verifier
	case ChallengeMethodS256, "":
		// S256 is the default when a challenge was stored without a method.
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return errors.New("unsupported code challenge method")
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(c.CodeChallenge)) != 1 {
		return errors.New("code verifier mismatch")
	}
	return nil
}

// MarkUsed transitions the code to its terminal consumed state.
func (c *AuthorizationCode) MarkUsed(now time.Time) {
	c.Used = true
	c.UsedAt = &now
}
