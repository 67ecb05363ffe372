package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"grove/internal/audit"
	"grove/internal/auth/models"
	"grove/internal/platform/metrics"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/privacy"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// RefreshStore is the persistence contract for refresh token records.
//
// Error Contract: implementations return sentinel errors; ConsumeByHash must
// return the stored record alongside sentinel.ErrAlreadyUsed so reuse can be
// traced to its family.
type RefreshStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	ConsumeByHash(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenID string, now time.Time) error
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error)
	RevokeBySessionID(ctx context.Context, sessionID id.SessionID, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Pair is one access/refresh token issuance. RefreshToken is the raw value;
// it exists only in this struct on its way to the client.
type Pair struct {
	AccessToken      string
	AccessExpiresIn  int64
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service issues, rotates and revokes tokens. Rotation treats a replayed
// refresh token as a theft signal and revokes the token's whole family.
type Service struct {
	signer     *Signer
	store      RefreshStore
	recorder   *audit.Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService wires the token service.
func NewService(signer *Signer, store RefreshStore, recorder *audit.Recorder, logger *slog.Logger, m *metrics.Metrics, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		signer:     signer,
		store:      store,
		recorder:   recorder,
		logger:     logger,
		metrics:    m,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// HashToken derives the storage key for a raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssuePair mints an access token and a fresh refresh token family for a
// newly authenticated user.
func (s *Service) IssuePair(ctx context.Context, userID id.UserID, clientID string, sessionID id.SessionID) (*Pair, error) {
	return s.issue(ctx, userID, clientID, sessionID, uuid.NewString())
}

func (s *Service) issue(ctx context.Context, userID id.UserID, clientID string, sessionID id.SessionID, familyID string) (*Pair, error) {
	now := requestcontext.Now(ctx)

	access, err := s.signer.Sign(userID, clientID, sessionID, now, s.accessTTL)
	if err != nil {
		return nil, err
	}

	raw, err := newRawToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "issue refresh token")
	}

	record := &models.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: HashToken(raw),
		FamilyID:  familyID,
		UserID:    userID,
		ClientID:  clientID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist refresh token")
	}

	return &Pair{
		AccessToken:      access,
		AccessExpiresIn:  int64(s.accessTTL.Seconds()),
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Rotate exchanges a presented refresh token for a new pair in the same
// family. A presented token that is already revoked is a reuse signal: the
// entire family is revoked and the caller gets the same generic invalid_grant
// as every other failure, so replay cannot be distinguished from expiry from
// the outside.
func (s *Service) Rotate(ctx context.Context, presented string) (*Pair, error) {
	now := requestcontext.Now(ctx)
	invalidGrant := dErrors.New(dErrors.CodeInvalidGrant, "invalid refresh token")

	record, err := s.store.ConsumeByHash(ctx, HashToken(presented), now)
	switch {
	case err == nil:
		return s.issue(ctx, record.UserID, record.ClientID, record.SessionID, record.FamilyID)

	case errors.Is(err, sentinel.ErrAlreadyUsed):
		// Replay. The legitimate holder already rotated past this token, so
		// whoever presented it has a stolen copy. Burn the family.
		s.metrics.RefreshReuse.Inc()
		revoked, famErr := s.store.RevokeFamily(ctx, record.FamilyID, now)
		if famErr != nil {
			s.logger.ErrorContext(ctx, "refresh reuse family revocation failed",
				"family_id", privacy.RedactIdentifier(record.FamilyID),
				"error", famErr)
		} else {
			s.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
				"family_id", privacy.RedactIdentifier(record.FamilyID),
				"user_id", privacy.RedactIdentifier(record.UserID.String()),
				"tokens_revoked", revoked)
		}
		s.recorder.Record(ctx, audit.Event{
			Type:      audit.EventRefreshReuse,
			UserID:    record.UserID.String(),
			ClientID:  record.ClientID,
			SessionID: record.SessionID.String(),
			Detail:    fmt.Sprintf("family %s revoked, %d tokens", privacy.RedactIdentifier(record.FamilyID), revoked),
		})
		return nil, invalidGrant

	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		return nil, invalidGrant

	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rotate refresh token")
	}
}

// Revoke marks one refresh token revoked. Idempotent; revoking an unknown
// token is not an error toward the caller.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	err := s.store.Revoke(ctx, tokenID, requestcontext.Now(ctx))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "revoke refresh token")
	}
	return nil
}

// RevokeSession revokes every live refresh token bound to a ledger session.
func (s *Service) RevokeSession(ctx context.Context, sessionID id.SessionID) error {
	if _, err := s.store.RevokeBySessionID(ctx, sessionID, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "revoke session tokens")
	}
	return nil
}

// Validate delegates to the stateless signer check.
func (s *Service) Validate(tokenString string) (*AccessClaims, error) {
	return s.signer.Validate(tokenString)
}
