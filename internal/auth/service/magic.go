package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"grove/internal/audit"
	"grove/internal/auth/models"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/email"
	"grove/pkg/platform/privacy"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// MagicIssue is handed to the email-delivery collaborator. The code text
// exists here and in the outgoing mail only.
type MagicIssue struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

func newMagicCodeValue() (string, error) {
	// Six digits: short enough to type from a mail client, and single-use
	// with a short TTL and per-key throttling keeps guessing impractical.
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestMagicCode issues a one-time login code for the address. Throttled
// per email and per client IP; the caller must respond identically whether
// or not the address belongs to a known user.
func (s *Service) RequestMagicCode(ctx context.Context, address string) (*MagicIssue, error) {
	normalized := email.Normalize(address)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}

	now := requestcontext.Now(ctx)
	if !s.magicLimiter.Allow("email:"+normalized, now) || !s.magicLimiter.Allow("ip:"+requestcontext.ClientIP(ctx), now) {
		s.metrics.MagicCodes.WithLabelValues("throttled").Inc()
		return nil, dErrors.New(dErrors.CodeTooMany, "too many requests")
	}

	value, err := newMagicCodeValue()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate magic code")
	}

	record := &models.MagicCode{
		ID:        uuid.NewString(),
		Email:     normalized,
		Code:      value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.MagicCodeTTL),
	}
	if err := s.magicCodes.Create(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist magic code")
	}

	s.metrics.MagicCodes.WithLabelValues("issued").Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:   audit.EventMagicRequested,
		Detail: "email " + privacy.RedactIdentifier(normalized),
	})

	return &MagicIssue{Email: normalized, Code: value, ExpiresAt: record.ExpiresAt}, nil
}

// VerifyMagicCode atomically consumes the (email, code) pair and returns the
// verified identity, provisioning the user on first login. It does not
// create a session; the caller feeds the identity into the same
// authentication-success path the other flows use.
//
// All rejection causes share one error so the endpoint cannot confirm
// whether an address is registered or a code merely expired.
func (s *Service) VerifyMagicCode(ctx context.Context, address, code string) (*models.User, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid or expired code")

	normalized := email.Normalize(address)
	if normalized == "" || code == "" {
		return nil, invalid
	}

	// A six-digit code is guessable without a cap on attempts, so the
	// verify path carries the same throttle as issuance, under its own keys.
	now := requestcontext.Now(ctx)
	if !s.magicLimiter.Allow("verify:email:"+normalized, now) || !s.magicLimiter.Allow("verify:ip:"+requestcontext.ClientIP(ctx), now) {
		s.metrics.MagicCodes.WithLabelValues("throttled").Inc()
		return nil, dErrors.New(dErrors.CodeTooMany, "too many attempts")
	}

	if _, err := s.magicCodes.Consume(ctx, normalized, code, now); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound),
			errors.Is(err, sentinel.ErrExpired),
			errors.Is(err, sentinel.ErrAlreadyUsed),
			errors.Is(err, sentinel.ErrInvalidState):
			s.metrics.MagicCodes.WithLabelValues("rejected").Inc()
			return nil, invalid
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consume magic code")
		}
	}

	user, err := s.findOrCreateUser(ctx, normalized, now)
	if err != nil {
		return nil, err
	}

	s.metrics.MagicCodes.WithLabelValues("verified").Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:   audit.EventMagicVerified,
		UserID: user.ID.String(),
	})
	return user, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, normalized string, now time.Time) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, normalized)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve user")
	}

	first, last := email.DeriveNameFromEmail(normalized)
	user = &models.User{
		ID:        id.NewUserID(),
		Email:     normalized,
		FirstName: first,
		LastName:  last,
		Provider:  "magic_link",
		Verified:  true, // proved control of the mailbox
		CreatedAt: now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "provision user")
	}
	return user, nil
}
