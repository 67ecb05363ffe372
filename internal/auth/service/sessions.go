package service

import (
	"context"

	"grove/internal/audit"
	"grove/internal/ledger"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

// ListSessions returns the user's live sessions for the active-devices view.
func (s *Service) ListSessions(ctx context.Context, userID id.UserID) ([]*ledger.Session, error) {
	return s.ledger.ListSessions(ctx, userID, requestcontext.Now(ctx))
}

// RevokeSession signs one device out: the ledger session goes away and every
// refresh token bound to it dies with it. Only the owner may revoke.
func (s *Service) RevokeSession(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	if err := s.ledger.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.tokens.RevokeSession(ctx, sessionID); err != nil {
		return err
	}

	s.metrics.SessionsRevoked.Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventSessionRevoked,
		UserID:    userID.String(),
		SessionID: sessionID.String(),
	})
	return nil
}

// Logout ends the caller's own session.
func (s *Service) Logout(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	if err := s.RevokeSession(ctx, userID, sessionID); err != nil {
		// Logout of an already-gone session still succeeds toward the client.
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil
		}
		return err
	}
	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    userID.String(),
		SessionID: sessionID.String(),
	})
	return nil
}

// LogoutAll revokes every session except the one the request came in on,
// used after a credential change. Pass the zero session ID to revoke
// everything including the current device.
func (s *Service) LogoutAll(ctx context.Context, userID id.UserID, keep id.SessionID) (int, error) {
	now := requestcontext.Now(ctx)

	// Enumerate first so the refresh tokens of each revoked session can be
	// killed alongside it; the ledger's bulk revoke knows nothing about
	// tokens.
	sessions, err := s.ledger.ListSessions(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, session := range sessions {
		if session.ID == keep {
			continue
		}
		if err := s.RevokeSession(ctx, userID, session.ID); err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return revoked, err
		}
		revoked++
	}

	s.recorder.Record(ctx, audit.Event{
		Type:   audit.EventLogout,
		UserID: userID.String(),
		Detail: "all sessions",
	})
	return revoked, nil
}
